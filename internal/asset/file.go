package asset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrSourceNotFound is returned when a literal source path does not exist.
var ErrSourceNotFound = errors.New("source not found")

// File is an in-memory file travelling through a pipeline. Name is a
// slash-separated path relative to the task destination.
type File struct {
	Name string
	Data []byte
}

// Base returns the last element of the file name.
func (f File) Base() string { return path.Base(f.Name) }

// Ext returns the file name extension including the dot.
func (f File) Ext() string { return path.Ext(f.Name) }

// Stem returns the base name without its extension.
func (f File) Stem() string { return strings.TrimSuffix(f.Base(), f.Ext()) }

// WithExt returns the file name with its extension replaced by ext.
func (f File) WithExt(ext string) string {
	return strings.TrimSuffix(f.Name, f.Ext()) + ext
}

// Collect reads all files matching patterns below root. Files keep
// pattern order; files matched by one glob pattern are sorted by path; a
// file matched by several patterns is read once. Literal patterns that
// name a missing file fail with ErrSourceNotFound, glob patterns that match
// nothing contribute nothing.
func Collect(root string, patterns []*Pattern) ([]File, error) {
	seen := make(map[string]bool)

	var files []File

	for _, p := range patterns {
		rels, err := expand(root, p)
		if err != nil {
			return nil, err
		}

		for _, rel := range rels {
			if seen[rel] {
				continue
			}

			seen[rel] = true

			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return nil, fmt.Errorf("reading source %s: %w", rel, err)
			}

			files = append(files, File{Name: p.RelName(rel), Data: data})
		}
	}

	return files, nil
}

func expand(root string, p *Pattern) ([]string, error) {
	if p.Literal() {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(p.String())))
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, p)
		}

		return []string{p.String()}, nil
	}

	baseDir := filepath.Join(root, filepath.FromSlash(p.Base()))
	if _, err := os.Stat(baseDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var matches []string

	err := filepath.WalkDir(baseDir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err
		}

		if p.Match(rel) {
			matches = append(matches, filepath.ToSlash(rel))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", p, err)
	}

	sort.Strings(matches)

	return matches, nil
}
