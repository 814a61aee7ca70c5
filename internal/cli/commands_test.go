package cli

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testProject = `
log-level: error
outputRoot: dist
tasks:
  - name: pages
    src: ["*.html"]
    dest: "."
  - name: style
    kind: style
    src: ["app/css/*.css"]
    dest: css
    steps:
      - type: concat
        name: main.css
  - name: broken
    src: ["app/missing.js"]
    dest: js
composites:
  - name: build
    parallel: [pages, style]
watch:
  - pattern: "app/css/*.css"
    tasks: [style]
  - pattern: "*.html"
    reload: full
`

// writeProject creates a project directory with sources and a config file
// and returns the config file path.
func writeProject(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app", "css"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<body></body>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "css", "a.css"), []byte("a{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "css", "b.css"), []byte("b{}"), 0o600))

	cfgFile := filepath.Join(dir, ".assetpipe.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o600))

	return cfgFile
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRun_Composite(t *testing.T) {
	cfgFile := writeProject(t, testProject)
	dist := filepath.Join(filepath.Dir(cfgFile), "dist")

	_, _, err := executeCommand("--config", cfgFile, "run", "build")
	require.NoError(t, err)

	page, err := os.ReadFile(filepath.Join(dist, "index.html")) //nolint:gosec // test
	require.NoError(t, err)
	assert.Equal(t, "<body></body>", string(page))

	css, err := os.ReadFile(filepath.Join(dist, "css", "main.css")) //nolint:gosec // test
	require.NoError(t, err)
	assert.Equal(t, "a{}\nb{}", string(css))
}

func TestRun_RootShortcut(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	_, _, err := executeCommand("--config", cfgFile, "style")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(filepath.Dir(cfgFile), "dist", "css", "main.css"))
}

func TestRun_UnknownTask(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	_, _, err := executeCommand("--config", cfgFile, "run", "deploy")
	requireExitCode(t, err, 2)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestRun_TaskFailure(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	_, _, err := executeCommand("--config", cfgFile, "run", "broken")
	requireExitCode(t, err, 1)
	assert.Contains(t, err.Error(), `task "broken"`)
	assert.Contains(t, err.Error(), "app/missing.js")
}

func TestRun_NoArgs(t *testing.T) {
	_, _, err := executeCommand("run")
	require.Error(t, err)
}

func TestRun_DryRun(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	stdout, _, err := executeCommand("--config", cfgFile, "run", "--dry-run", "style")
	require.NoError(t, err)

	assert.Contains(t, stdout, "would create")
	assert.Contains(t, stdout, "main.css")
	assert.NoDirExists(t, filepath.Join(filepath.Dir(cfgFile), "dist"))
}

func TestRun_DryRunDiff(t *testing.T) {
	cfgFile := writeProject(t, testProject)
	dist := filepath.Join(filepath.Dir(cfgFile), "dist", "css")
	require.NoError(t, os.MkdirAll(dist, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "main.css"), []byte("a{}\n"), 0o600))

	stdout, _, err := executeCommand("--config", cfgFile, "--no-color", "run", "--dry-run", "--diff", "style")
	require.NoError(t, err)

	assert.Contains(t, stdout, "would update")
	assert.Contains(t, stdout, "+b{}")
}

func TestRun_DiffRequiresDryRun(t *testing.T) {
	_, _, err := executeCommand("run", "--diff", "style")
	requireExitCode(t, err, 2)
	assert.Contains(t, err.Error(), "--diff requires --dry-run")
}

func TestRun_InvalidProject(t *testing.T) {
	cfgFile := writeProject(t, `
tasks:
  - {name: a, src: ["x"]}
composites:
  - {name: loop, sequence: [a, loop]}
`)

	_, _, err := executeCommand("--config", cfgFile, "run", "a")
	requireExitCode(t, err, 2)
	assert.Contains(t, err.Error(), "cycle")
}

// ---------------------------------------------------------------------------
// tasks
// ---------------------------------------------------------------------------

func TestTasks_Table(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	stdout, _, err := executeCommand("--config", cfgFile, "tasks")
	require.NoError(t, err)

	assert.Contains(t, stdout, "--- Tasks (3) ---")
	assert.Contains(t, stdout, "app/css/*.css")
	assert.Contains(t, stdout, "--- Composites (1) ---")
	assert.Contains(t, stdout, "parallel(pages, style)")
	assert.Contains(t, stdout, "--- Watch (2) ---")
	assert.Contains(t, stdout, "auto")
}

func TestTasks_JSON(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	stdout, _, err := executeCommand("--config", cfgFile, "tasks", "--format", "json")
	require.NoError(t, err)

	var result tasksResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))

	require.Len(t, result.Tasks, 3)
	assert.Equal(t, "style", result.Tasks[1].Name)
	assert.Equal(t, "style", result.Tasks[1].Kind)
	require.Len(t, result.Composites, 1)
	assert.Equal(t, "mixed", result.Composites[0].Kind)
	require.Len(t, result.Watch, 2)
	assert.Equal(t, "full", result.Watch[1].Reload)
}

func TestTasks_YAML(t *testing.T) {
	cfgFile := writeProject(t, testProject)

	stdout, _, err := executeCommand("--config", cfgFile, "tasks", "--format", "yaml")
	require.NoError(t, err)

	var result tasksResult
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &result))

	assert.Equal(t, filepath.Join(filepath.Dir(cfgFile), "dist"), result.OutputRoot)
	assert.Equal(t, []string{"style"}, result.Watch[0].Targets)
}

func TestTasks_BuiltInProject(t *testing.T) {
	stdout, _, err := executeCommand("tasks")
	require.NoError(t, err)

	for _, name := range []string{"style", "scripts", "images", "webp", "svg_sprite", "build"} {
		assert.Contains(t, stdout, name)
	}
}

func TestTasks_InvalidFormat(t *testing.T) {
	_, _, err := executeCommand("tasks", "--format", "xml")
	requireExitCode(t, err, 2)
	assert.Contains(t, err.Error(), "unsupported format")
}

// ---------------------------------------------------------------------------
// watch & serve startup failures
// ---------------------------------------------------------------------------

func TestWatch_MissingPathFailsFast(t *testing.T) {
	cfgFile := writeProject(t, `
tasks:
  - {name: scripts, kind: script, src: ["app/js/*.js"], dest: js}
watch:
  - {pattern: "app/js/*.js", tasks: [scripts]}
`)

	_, _, err := executeCommand("--config", cfgFile, "watch")
	requireExitCode(t, err, 1)
	assert.Contains(t, err.Error(), "watch path not found")
}

func TestWatch_RejectsArgs(t *testing.T) {
	_, _, err := executeCommand("watch", "extra")
	require.Error(t, err)
}

func TestServe_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	cfgFile := writeProject(t, testProject)

	_, _, err = executeCommand("--config", cfgFile, "serve", "--host", "127.0.0.1", "--port", itoa(port))
	requireExitCode(t, err, 1)
	assert.Contains(t, err.Error(), "listening on")
}

func itoa(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}

// ---------------------------------------------------------------------------
// Completion command
// ---------------------------------------------------------------------------

func TestCompletion_Bash(t *testing.T) {
	stdout, _, err := executeCommand("completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "bash completion")
}

func TestCompletion_Zsh(t *testing.T) {
	stdout, _, err := executeCommand("completion", "zsh")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)
}

func TestCompletion_Fish(t *testing.T) {
	stdout, _, err := executeCommand("completion", "fish")
	require.NoError(t, err)
	assert.Contains(t, stdout, "fish")
}

func TestCompletion_PowerShell(t *testing.T) {
	stdout, _, err := executeCommand("completion", "powershell")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)
}

func TestCompletion_TaskNames(t *testing.T) {
	stdout, _, err := executeCommand("__complete", "run", "")
	require.NoError(t, err)

	for _, name := range []string{"style", "scripts", "build", "towebp"} {
		assert.Contains(t, stdout, name)
	}
}

func TestCompletion_InvalidShell(t *testing.T) {
	_, _, err := executeCommand("completion", "invalid")
	require.Error(t, err)
}

func TestCompletion_NoArgs(t *testing.T) {
	_, _, err := executeCommand("completion")
	require.Error(t, err)
}
