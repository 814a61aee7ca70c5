package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/hupe1980/assetpipe/internal/asset"
	"github.com/hupe1980/assetpipe/internal/config"
)

// Placeholders recognised in exec arguments.
const (
	phIn     = "{in}"
	phInputs = "{inputs}"
	phOut    = "{out}"
	phOutDir = "{outdir}"
	phName   = "{name}"
	phStem   = "{stem}"
)

// Exec delegates a transform to an external tool.
//
// Without {in} or {inputs} in Args the input is piped to stdin; without
// {out} or {outdir} the output is read from stdout. {inputs} must be a
// whole argument and expands to one argument per input file.
type Exec struct {
	Command string
	Args    []string

	// Ext replaces the extension of each output file.
	Ext string

	// Batch runs the command once over all files, producing Output.
	Batch  bool
	Output string

	// Dir is the working directory of the command.
	Dir string
}

func newExec(spec config.StepSpec, opts Options) (Step, error) {
	for _, a := range spec.Args {
		if strings.Contains(a, phInputs) && a != phInputs {
			return nil, fmt.Errorf("%s must be a whole argument, got %q", phInputs, a)
		}
	}

	return &Exec{
		Command: spec.Command,
		Args:    spec.Args,
		Ext:     spec.Ext,
		Batch:   spec.Batch,
		Output:  spec.Name,
		Dir:     opts.Dir,
	}, nil
}

// Name implements Step.
func (e *Exec) Name() string { return e.Command }

// Apply implements Step.
func (e *Exec) Apply(ctx context.Context, files []asset.File) ([]asset.File, error) {
	if len(files) == 0 {
		return nil, nil
	}

	if e.Batch {
		return e.run(ctx, files, e.Output)
	}

	var out []asset.File

	for _, f := range files {
		name := f.Name
		if e.Ext != "" {
			name = f.WithExt(e.Ext)
		}

		produced, err := e.run(ctx, []asset.File{f}, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}

		out = append(out, produced...)
	}

	return out, nil
}

func (e *Exec) run(ctx context.Context, inputs []asset.File, outName string) ([]asset.File, error) {
	tmp, err := os.MkdirTemp("", "assetpipe-exec-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	inDir := filepath.Join(tmp, "in")
	outDir := filepath.Join(tmp, "out")
	outPath := filepath.Join(outDir, filepath.FromSlash(outName))

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	inPaths := make([]string, 0, len(inputs))

	for _, f := range inputs {
		p := filepath.Join(inDir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.Name, err)
		}

		if err := os.WriteFile(p, f.Data, 0o600); err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.Name, err)
		}

		inPaths = append(inPaths, p)
	}

	replacer := strings.NewReplacer(
		phIn, inPaths[0],
		phOutDir, outDir,
		phOut, outPath,
		phName, path.Base(outName),
		phStem, strings.TrimSuffix(path.Base(outName), path.Ext(outName)),
	)

	var (
		args        []string
		readsFiles  bool
		writesFiles bool
	)

	for _, a := range e.Args {
		if a == phInputs {
			args = append(args, inPaths...)
			readsFiles = true

			continue
		}

		readsFiles = readsFiles || strings.Contains(a, phIn)
		writesFiles = writesFiles || strings.Contains(a, phOut) || strings.Contains(a, phOutDir)

		args = append(args, replacer.Replace(a))
	}

	cmd := exec.CommandContext(ctx, e.Command, args...) //nolint:gosec
	cmd.Dir = e.Dir

	if !readsFiles {
		var stdin bytes.Buffer
		for _, f := range inputs {
			stdin.Write(f.Data)
		}

		cmd.Stdin = &stdin
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("running %s: %w: %s", e.Command, err, msg)
		}

		return nil, fmt.Errorf("running %s: %w", e.Command, err)
	}

	if !writesFiles {
		return []asset.File{{Name: outName, Data: stdout.Bytes()}}, nil
	}

	produced, err := collectDir(outDir)
	if err != nil {
		return nil, err
	}

	if len(produced) == 0 {
		return nil, fmt.Errorf("running %s: %w", e.Command, errNoOutput)
	}

	return produced, nil
}

var errNoOutput = errors.New("command produced no output")

func collectDir(dir string) ([]asset.File, error) {
	var files []asset.File

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		files = append(files, asset.File{Name: filepath.ToSlash(rel), Data: data})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting command output: %w", err)
	}

	return files, nil
}
