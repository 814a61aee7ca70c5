package assetpipe_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/assetpipe/pkg/assetpipe"
)

const siteConfig = `
outputRoot: public
tasks:
  - name: style
    kind: style
    src: ["src/*.css"]
    dest: css
    steps:
      - {type: concat, name: site.css}
composites:
  - name: build
    sequence: [style]
watch:
  - pattern: "src/*.css"
    tasks: [build]
`

func newSite(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.css"), []byte("a{}"), 0o600))

	return dir
}

func TestBuild_NoTargets(t *testing.T) {
	_, err := assetpipe.Build(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one target is required")
}

func TestBuild_WritesOutputs(t *testing.T) {
	dir := newSite(t)

	result, err := assetpipe.Build(context.Background(), []string{"build"},
		assetpipe.WithDir(dir),
		assetpipe.WithConfigData([]byte(siteConfig)),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"build"}, result.Targets)
	assert.Equal(t, filepath.Join(dir, "public"), result.OutputRoot)

	data, err := os.ReadFile(filepath.Join(dir, "public", "css", "site.css")) //nolint:gosec // test
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(data))
}

func TestBuild_UnknownTarget(t *testing.T) {
	_, err := assetpipe.Build(context.Background(), []string{"deploy"},
		assetpipe.WithDir(newSite(t)),
		assetpipe.WithConfigData([]byte(siteConfig)),
	)
	require.ErrorIs(t, err, assetpipe.ErrUnknownTask)
}

func TestBuild_InvalidConfig(t *testing.T) {
	_, err := assetpipe.Build(context.Background(), []string{"a"},
		assetpipe.WithConfigData([]byte(`
tasks:
  - {name: a, src: ["x"]}
composites:
  - {name: b, parallel: [a, c]}
  - {name: c, sequence: [b]}
`)),
	)
	require.ErrorIs(t, err, assetpipe.ErrCycle)
}

func TestTasks_BuiltInProject(t *testing.T) {
	names, err := assetpipe.Tasks()
	require.NoError(t, err)
	assert.Contains(t, names, "style")
	assert.Contains(t, names, "build")
}

func TestWatch_MissingPath(t *testing.T) {
	err := assetpipe.Watch(context.Background(),
		assetpipe.WithDir(t.TempDir()),
		assetpipe.WithConfigData([]byte(siteConfig)),
	)
	require.ErrorIs(t, err, assetpipe.ErrPathNotFound)
}

func TestWatch_RebuildsOnChange(t *testing.T) {
	dir := newSite(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completions := make(chan assetpipe.Completion, 16)
	done := make(chan error, 1)

	go func() {
		done <- assetpipe.Watch(ctx,
			assetpipe.WithDir(dir),
			assetpipe.WithConfigData([]byte(siteConfig)),
			assetpipe.WithInitialBuild(),
			assetpipe.WithCompletionHandler(func(c assetpipe.Completion) { completions <- c }),
		)
	}()

	select {
	case c := <-completions:
		require.NoError(t, c.Err)
		assert.Equal(t, []string{"build"}, c.Targets)
	case <-time.After(5 * time.Second):
		t.Fatal("initial build did not complete")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "b.css"), []byte("b{}"), 0o600))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "public", "css", "site.css")) //nolint:gosec // test
		return err == nil && string(data) == "a{}\nb{}"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
