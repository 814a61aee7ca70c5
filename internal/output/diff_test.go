package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExisting(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

// ---------------------------------------------------------------------------
// DiffFile
// ---------------------------------------------------------------------------

func TestDiffFile_Unchanged(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\n"))

	d, err := DiffFile(path, []byte("a{}\n"))
	require.NoError(t, err)

	assert.Equal(t, Unchanged, d.Change)
	assert.Empty(t, d.Unified)
	assert.Equal(t, "unchanged "+path, d.Summary())
}

func TestDiffFile_Update(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\nb{color:red}\n"))

	d, err := DiffFile(path, []byte("a{}\nb{color:blue}\n"))
	require.NoError(t, err)

	assert.Equal(t, Update, d.Change)
	assert.False(t, d.Binary)
	assert.Contains(t, d.Unified, "--- "+path+"\n")
	assert.Contains(t, d.Unified, "+++ "+path+" (proposed)\n")
	assert.Contains(t, d.Unified, "-b{color:red}")
	assert.Contains(t, d.Unified, "+b{color:blue}")
	assert.Equal(t, "would update "+path+" (17 -> 18 bytes)", d.Summary())
}

func TestDiffFile_CreateDiffsAgainstDevNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "js", "main.js")

	d, err := DiffFile(path, []byte("let a\nlet b\n"))
	require.NoError(t, err)

	assert.Equal(t, Create, d.Change)
	assert.Equal(t, 0, d.OldSize)
	assert.Contains(t, d.Unified, "--- /dev/null")
	assert.Contains(t, d.Unified, "+let a")
	assert.Contains(t, d.Unified, "+let b")
	assert.Contains(t, d.Summary(), "would create")
}

func TestDiffFile_Binary(t *testing.T) {
	tests := []struct {
		name     string
		existing []byte
		proposed []byte
		change   Change
	}{
		{name: "new image", proposed: []byte{0x89, 'P', 'N', 'G', 0}, change: Create},
		{name: "image update", existing: []byte{'G', 'I', 'F', 0}, proposed: []byte{'G', 'I', 'F', 1, 0}, change: Update},
		{name: "text replaced by image", existing: []byte("<svg/>\n"), proposed: []byte{0xff, 0xd8, 0xff}, change: Update},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "img")
			if tt.existing != nil {
				require.NoError(t, os.WriteFile(path, tt.existing, 0o600))
			}

			d, err := DiffFile(path, tt.proposed)
			require.NoError(t, err)

			assert.Equal(t, tt.change, d.Change)
			assert.True(t, d.Binary)
			assert.Empty(t, d.Unified)
		})
	}
}

func TestDiffFile_MissingFinalNewline(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\n"))

	d, err := DiffFile(path, []byte("a{}"))
	require.NoError(t, err)

	assert.Equal(t, Update, d.Change)
	assert.Contains(t, d.Unified, "No newline at end of file")
}

func TestDiffFile_ReadError(t *testing.T) {
	// A directory in place of the output file cannot be read.
	_, err := DiffFile(t.TempDir(), []byte("a{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading existing")
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

func TestReport_SummaryOnly(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\n"))

	d, err := DiffFile(path, []byte("b{}\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d.Report(&buf, false, false)

	assert.Equal(t, d.Summary()+"\n", buf.String())
}

func TestReport_NoColor(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\n"))

	d, err := DiffFile(path, []byte("b{}\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d.Report(&buf, true, false)

	out := buf.String()
	assert.Contains(t, out, "would update")
	assert.Contains(t, out, "-a{}\n")
	assert.Contains(t, out, "+b{}\n")
	assert.NotContains(t, out, "\033[")
}

func TestReport_WithColor(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\n"))

	d, err := DiffFile(path, []byte("b{}\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d.Report(&buf, true, true)

	out := buf.String()
	assert.Contains(t, out, "\033[31m-a{}\033[0m")
	assert.Contains(t, out, "\033[32m+b{}\033[0m")
	assert.Contains(t, out, "\033[36m@@")
}

func TestReport_Binary(t *testing.T) {
	path := writeExisting(t, "logo.png", []byte{0x89, 'P', 'N', 'G', 0})

	d, err := DiffFile(path, []byte{0x89, 'P', 'N', 'G', 1, 0})
	require.NoError(t, err)

	var buf bytes.Buffer
	d.Report(&buf, true, false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Binary file "+path+" differs", lines[1])
}

func TestReport_UnchangedHasNoBody(t *testing.T) {
	path := writeExisting(t, "site.css", []byte("a{}\n"))

	d, err := DiffFile(path, []byte("a{}\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d.Report(&buf, true, false)

	assert.Equal(t, "unchanged "+path+"\n", buf.String())
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestDiffLines(t *testing.T) {
	assert.Nil(t, diffLines(nil))
	assert.Equal(t, []string{"a\n", "b\n"}, diffLines([]byte("a\nb\n")))
	assert.Equal(t, []string{"a\n", "b\n", noEOL}, diffLines([]byte("a\nb")))
}

func TestIsText(t *testing.T) {
	assert.True(t, isText([]byte("body{}")))
	assert.True(t, isText(nil))
	assert.False(t, isText([]byte{'a', 0, 'b'}))
	assert.False(t, isText([]byte{0xff, 0xfe}))
}
