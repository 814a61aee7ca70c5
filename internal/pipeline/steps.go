package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hupe1980/assetpipe/internal/asset"
	"github.com/hupe1980/assetpipe/internal/config"
)

// Concat joins all files, in order, into a single file.
type Concat struct {
	Output    string
	Separator string
}

func newConcat(spec config.StepSpec, _ Options) (Step, error) {
	sep := "\n"
	if spec.Separator != nil {
		sep = *spec.Separator
	}

	return &Concat{Output: spec.Name, Separator: sep}, nil
}

// Name implements Step.
func (c *Concat) Name() string { return config.StepConcat }

// Apply implements Step. No input produces no output.
func (c *Concat) Apply(_ context.Context, files []asset.File) ([]asset.File, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer

	for i, f := range files {
		if i > 0 {
			buf.WriteString(c.Separator)
		}

		buf.Write(f.Data)
	}

	return []asset.File{{Name: c.Output, Data: buf.Bytes()}}, nil
}

// Rename renames every file using a template. The placeholders {stem},
// {ext} and {base} refer to the current file name.
type Rename struct {
	Template string
}

func newRename(spec config.StepSpec, _ Options) (Step, error) {
	return &Rename{Template: spec.Name}, nil
}

// Name implements Step.
func (r *Rename) Name() string { return config.StepRename }

// Apply implements Step. Two files renamed to the same name is an error.
func (r *Rename) Apply(_ context.Context, files []asset.File) ([]asset.File, error) {
	out := make([]asset.File, 0, len(files))
	taken := make(map[string]string, len(files))

	for _, f := range files {
		name := strings.NewReplacer(
			"{stem}", f.Stem(),
			"{ext}", f.Ext(),
			"{base}", f.Base(),
		).Replace(r.Template)

		if dir := path.Dir(f.Name); dir != "." {
			name = path.Join(dir, name)
		}

		if prev, ok := taken[name]; ok {
			return nil, fmt.Errorf("renaming %s and %s to the same name %s", prev, f.Name, name)
		}

		taken[name] = f.Name

		out = append(out, asset.File{Name: name, Data: f.Data})
	}

	return out, nil
}
