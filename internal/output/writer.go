package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer is the interface for task output destinations.
type Writer interface {
	// Write stores data under name, a slash-separated path relative to
	// the writer's root.
	Write(name string, data []byte) error
}

// FileWriter writes task outputs below a root directory, creating parent
// directories as needed. Files are replaced atomically so the development
// server never serves a partially written asset.
type FileWriter struct {
	root   string
	perm   os.FileMode
	logger *slog.Logger
}

// FileWriterOption configures a FileWriter.
type FileWriterOption func(*FileWriter)

// WithPermissions overrides the default file permissions (0644).
func WithPermissions(perm os.FileMode) FileWriterOption {
	return func(fw *FileWriter) {
		fw.perm = perm
	}
}

// WithLogger sets a logger for the FileWriter.
func WithLogger(logger *slog.Logger) FileWriterOption {
	return func(fw *FileWriter) {
		fw.logger = logger
	}
}

// NewFileWriter creates a writer rooted at dir.
func NewFileWriter(dir string, opts ...FileWriterOption) *FileWriter {
	fw := &FileWriter{
		root:   dir,
		perm:   0o644,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(fw)
	}

	return fw
}

// Write creates parent directories and atomically replaces the file.
func (fw *FileWriter) Write(name string, data []byte) error {
	target := fw.Path(name)
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing file %s: %w", target, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing file %s: %w", target, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing file %s: %w", target, err)
	}

	if err := os.Chmod(tmpName, fw.perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing file %s: %w", target, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing file %s: %w", target, err)
	}

	fw.logger.Debug("wrote output", slog.String("path", target), slog.Int("bytes", len(data)))

	return nil
}

// Path returns the file path name is written to.
func (fw *FileWriter) Path(name string) string {
	return filepath.Join(fw.root, filepath.FromSlash(name))
}

// DryRunWriter reports what would be written without touching the disk.
// With Diff enabled, text outputs are compared against the existing files.
type DryRunWriter struct {
	root  string
	out   io.Writer
	diff  bool
	color bool
}

// NewDryRunWriter creates a dry-run writer rooted at dir that reports to w.
func NewDryRunWriter(dir string, w io.Writer, diff, color bool) *DryRunWriter {
	if w == nil {
		w = os.Stdout
	}

	return &DryRunWriter{root: dir, out: w, diff: diff, color: color}
}

// Write reports the pending write of name.
func (dw *DryRunWriter) Write(name string, data []byte) error {
	d, err := DiffFile(filepath.Join(dw.root, filepath.FromSlash(name)), data)
	if err != nil {
		return err
	}

	d.Report(dw.out, dw.diff, dw.color)

	return nil
}
