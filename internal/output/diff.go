package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Change classifies a pending output write.
type Change int

const (
	Unchanged Change = iota
	Create
	Update
)

const (
	diffContext = 3
	devNull     = "/dev/null"
	noEOL       = "\\ No newline at end of file\n"
)

// FileDiff compares the proposed content of an output file with the file
// currently on disk.
type FileDiff struct {
	Path    string
	Change  Change
	OldSize int
	NewSize int

	// Binary is set when either side is not text. No unified diff is
	// computed for binary files.
	Binary bool

	// Unified holds the unified diff, labelled with Path. It is empty for
	// unchanged and binary files.
	Unified string
}

// DiffFile compares data with the current content of path. A missing file
// is reported as Create and diffed against /dev/null.
func DiffFile(path string, data []byte) (*FileDiff, error) {
	existing, err := os.ReadFile(path) //nolint:gosec // path is below the output root
	exists := err == nil

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading existing %s: %w", path, err)
	}

	d := &FileDiff{Path: path, OldSize: len(existing), NewSize: len(data)}

	switch {
	case !exists:
		d.Change = Create
	case bytes.Equal(existing, data):
		d.Change = Unchanged
		return d, nil
	default:
		d.Change = Update
	}

	if !isText(existing) || !isText(data) {
		d.Binary = true
		return d, nil
	}

	from := path
	if d.Change == Create {
		from = devNull
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffLines(existing),
		B:        diffLines(data),
		FromFile: from,
		ToFile:   path + " (proposed)",
		Context:  diffContext,
	})
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", path, err)
	}

	d.Unified = unified

	return d, nil
}

// Summary returns the one-line description of the pending write.
func (d *FileDiff) Summary() string {
	switch d.Change {
	case Create:
		return fmt.Sprintf("would create %s (%d bytes)", d.Path, d.NewSize)
	case Update:
		return fmt.Sprintf("would update %s (%d -> %d bytes)", d.Path, d.OldSize, d.NewSize)
	default:
		return "unchanged " + d.Path
	}
}

// Report writes the summary and, with showDiff, the diff body to w.
func (d *FileDiff) Report(w io.Writer, showDiff, color bool) {
	_, _ = fmt.Fprintln(w, d.Summary())

	if !showDiff || d.Change == Unchanged {
		return
	}

	if d.Binary {
		_, _ = fmt.Fprintf(w, "Binary file %s differs\n", d.Path)
		return
	}

	for line := range strings.Lines(d.Unified) {
		line = strings.TrimSuffix(line, "\n")

		if color {
			writeColorLine(w, line)
		} else {
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func writeColorLine(w io.Writer, line string) {
	const (
		red   = "\033[31m"
		green = "\033[32m"
		cyan  = "\033[36m"
		bold  = "\033[1m"
		reset = "\033[0m"
	)

	var code string

	switch {
	case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		code = bold
	case strings.HasPrefix(line, "@@"):
		code = cyan
	case strings.HasPrefix(line, "-"):
		code = red
	case strings.HasPrefix(line, "+"):
		code = green
	default:
		_, _ = fmt.Fprintln(w, line)
		return
	}

	_, _ = fmt.Fprintf(w, "%s%s%s\n", code, line, reset)
}

// diffLines splits data into newline-terminated lines. A missing final
// newline is marked the way diff(1) does, so such files never compare equal
// to their terminated counterparts.
func diffLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	lines := strings.SplitAfter(string(data), "\n")

	last := len(lines) - 1
	if lines[last] == "" {
		return lines[:last]
	}

	lines[last] += "\n"

	return append(lines, noEOL)
}

// isText reports whether data looks like UTF-8 text rather than an image.
func isText(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}

	return utf8.Valid(data)
}
