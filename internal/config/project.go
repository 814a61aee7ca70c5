package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	sigsyaml "sigs.k8s.io/yaml"
)

// Step types understood by the pipeline package.
const (
	StepConcat = "concat"
	StepRename = "rename"
	StepExec   = "exec"
)

// Task kinds. The kind decides how browsers are refreshed after a task
// completes.
const (
	KindStyle  = "style"
	KindScript = "script"
	KindAsset  = "asset"
)

// Reload modes for a watch binding.
const (
	ReloadAuto    = ""
	ReloadFull    = "full"
	ReloadCSSOnly = "css-only"
	ReloadNone    = "none"
)

// ProjectSpec is the declarative build definition: tasks, composites and
// watch bindings. It is loaded from the project sections of the config file.
type ProjectSpec struct {
	// Requires is an optional semver constraint the binary must satisfy.
	Requires string `json:"requires,omitempty"`

	// Root is the directory task sources and watch patterns are relative to.
	Root string `json:"root,omitempty"`

	// OutputRoot is the directory task destinations are relative to. It is
	// also the directory served by the development server.
	OutputRoot string `json:"outputRoot,omitempty"`

	Tasks      []TaskSpec      `json:"tasks,omitempty"`
	Composites []CompositeSpec `json:"composites,omitempty"`
	Watch      []BindingSpec   `json:"watch,omitempty"`
}

// TaskSpec defines a single leaf task.
type TaskSpec struct {
	Name  string     `json:"name"`
	Kind  string     `json:"kind,omitempty"`
	Src   []string   `json:"src"`
	Dest  string     `json:"dest"`
	Steps []StepSpec `json:"steps,omitempty"`
}

// StepSpec defines one transform step. Which fields apply depends on Type.
type StepSpec struct {
	Type string `json:"type"`

	// Name is the output file name for concat and batch exec, and the name
	// template for rename.
	Name string `json:"name,omitempty"`

	// Separator joins files for concat. Defaults to a newline.
	Separator *string `json:"separator,omitempty"`

	// Command and Args describe the external tool for exec.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Ext replaces the extension of files produced by exec.
	Ext string `json:"ext,omitempty"`

	// Batch runs exec once over all files instead of once per file.
	Batch bool `json:"batch,omitempty"`
}

// CompositeSpec defines a named aggregate. Exactly one of Sequence or
// Parallel must be set; members are task or composite names.
type CompositeSpec struct {
	Name     string   `json:"name"`
	Sequence []string `json:"sequence,omitempty"`
	Parallel []string `json:"parallel,omitempty"`
}

// BindingSpec binds a watch pattern to targets. A binding without targets
// only triggers a browser reload (e.g. markup files).
type BindingSpec struct {
	Pattern string   `json:"pattern"`
	Tasks   []string `json:"tasks,omitempty"`
	Reload  string   `json:"reload,omitempty"`
}

// ErrInvalidProject is wrapped by all project validation errors.
var ErrInvalidProject = errors.New("invalid project")

// namePattern validates task and composite names.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// ParseProject parses the project sections from raw config file bytes. When
// the file declares no tasks the built-in project is returned, keeping any
// root overrides from the file.
func ParseProject(data []byte) (*ProjectSpec, error) {
	var spec ProjectSpec
	if err := sigsyaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing project config: %w", err)
	}

	if len(spec.Tasks) == 0 && len(spec.Composites) == 0 && len(spec.Watch) == 0 {
		def := DefaultProject()
		def.Requires = spec.Requires

		if spec.Root != "" {
			def.Root = spec.Root
		}

		if spec.OutputRoot != "" {
			def.OutputRoot = spec.OutputRoot
		}

		spec = *def
	}

	spec.applyDefaults()

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

// LoadProject reads the project definition from the config file recorded
// in cfg. Without a config file the built-in project is used.
func LoadProject(cfg *Config) (*ProjectSpec, error) {
	if cfg.ConfigFile == "" {
		return DefaultProject(), nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading project from %q: %w", cfg.ConfigFile, err)
	}

	return ParseProject(data)
}

func (p *ProjectSpec) applyDefaults() {
	if p.Root == "" {
		p.Root = "."
	}

	if p.OutputRoot == "" {
		p.OutputRoot = "."
	}

	for i := range p.Tasks {
		if p.Tasks[i].Kind == "" {
			p.Tasks[i].Kind = KindAsset
		}
	}
}

// Validate checks structural correctness. Reference resolution and cycle
// detection happen when the task graph is built.
func (p *ProjectSpec) Validate() error {
	seen := make(map[string]string)

	for i, t := range p.Tasks {
		if !namePattern.MatchString(t.Name) {
			return fmt.Errorf("%w: tasks[%d]: invalid name %q", ErrInvalidProject, i, t.Name)
		}

		if prev, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: tasks[%d]: name %q already used by a %s", ErrInvalidProject, i, t.Name, prev)
		}

		seen[t.Name] = "task"

		switch t.Kind {
		case KindStyle, KindScript, KindAsset:
		default:
			return fmt.Errorf("%w: task %q: invalid kind %q: must be one of style, script, asset", ErrInvalidProject, t.Name, t.Kind)
		}

		if len(t.Src) == 0 {
			return fmt.Errorf("%w: task %q: src is required", ErrInvalidProject, t.Name)
		}

		for j, s := range t.Steps {
			if err := s.validate(); err != nil {
				return fmt.Errorf("%w: task %q: steps[%d]: %v", ErrInvalidProject, t.Name, j, err)
			}
		}
	}

	for i, c := range p.Composites {
		if !namePattern.MatchString(c.Name) {
			return fmt.Errorf("%w: composites[%d]: invalid name %q", ErrInvalidProject, i, c.Name)
		}

		if prev, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: composites[%d]: name %q already used by a %s", ErrInvalidProject, i, c.Name, prev)
		}

		seen[c.Name] = "composite"

		if (len(c.Sequence) == 0) == (len(c.Parallel) == 0) {
			return fmt.Errorf("%w: composite %q: exactly one of sequence or parallel is required", ErrInvalidProject, c.Name)
		}
	}

	for i, b := range p.Watch {
		if b.Pattern == "" {
			return fmt.Errorf("%w: watch[%d]: pattern is required", ErrInvalidProject, i)
		}

		switch b.Reload {
		case ReloadAuto, ReloadFull, ReloadCSSOnly, ReloadNone:
		default:
			return fmt.Errorf("%w: watch[%d]: invalid reload %q: must be one of full, css-only, none", ErrInvalidProject, i, b.Reload)
		}
	}

	return nil
}

func (s StepSpec) validate() error {
	switch s.Type {
	case StepConcat, StepRename:
		if s.Name == "" {
			return fmt.Errorf("%s: name is required", s.Type)
		}
	case StepExec:
		if s.Command == "" {
			return errors.New("exec: command is required")
		}

		if s.Batch && s.Name == "" {
			return errors.New("exec: name is required in batch mode")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}

	return nil
}

// DefaultProject returns the built-in project: stylus stylesheets, babel
// scripts, jpeg optimisation, WebP conversion and an SVG sprite, laid out
// under app/ and written next to the served pages.
func DefaultProject() *ProjectSpec {
	return &ProjectSpec{
		Root:       ".",
		OutputRoot: ".",
		Tasks: []TaskSpec{
			{
				Name: "style",
				Kind: KindStyle,
				Src:  []string{"app/css/reset.styl", "app/css/grid.styl", "app/css/style.styl"},
				Dest: "css",
				Steps: []StepSpec{
					{Type: StepConcat, Name: "main.styl"},
					{Type: StepExec, Command: "npx", Args: []string{"stylus", "--print", "{in}"}, Ext: ".css"},
					{Type: StepExec, Command: "npx", Args: []string{"cleancss", "{in}"}},
					{Type: StepRename, Name: "main.min.css"},
				},
			},
			{
				Name: "scripts",
				Kind: KindScript,
				Src:  []string{"app/js/main.js"},
				Dest: "js",
				Steps: []StepSpec{
					{Type: StepExec, Command: "npx", Args: []string{"babel", "--filename", "{name}"}},
					{Type: StepExec, Command: "npx", Args: []string{
						"esbuild", "{in}", "--bundle", "--sourcemap=inline", "--outfile={out}",
					}},
				},
			},
			{
				Name: "images",
				Kind: KindAsset,
				Src:  []string{"app/images/*"},
				Dest: "images",
				Steps: []StepSpec{
					{Type: StepExec, Command: "npx", Args: []string{"imagemin", "--plugin.mozjpeg.quality=50"}},
				},
			},
			{
				Name: "webp",
				Kind: KindAsset,
				Src:  []string{"app/images/to_webp/*"},
				Dest: "images/webp",
				Steps: []StepSpec{
					{Type: StepExec, Command: "cwebp", Args: []string{"-quiet", "{in}", "-o", "{out}"}, Ext: ".webp"},
				},
			},
			{
				Name: "svg_sprite",
				Kind: KindAsset,
				Src:  []string{"app/images/sprite_svg/*.svg"},
				Dest: "images",
				Steps: []StepSpec{
					{Type: StepExec, Command: "npx", Batch: true, Name: "sprite.svg", Args: []string{
						"svg-sprite", "--stack", "--stack-dest={outdir}", "--stack-sprite={name}", "{inputs}",
					}},
				},
			},
		},
		Composites: []CompositeSpec{
			{Name: "js", Sequence: []string{"scripts"}},
			{Name: "css", Sequence: []string{"style"}},
			{Name: "sprite", Sequence: []string{"svg_sprite"}},
			{Name: "towebp", Sequence: []string{"webp"}},
			{Name: "build", Parallel: []string{"css", "js", "images", "towebp", "sprite"}},
		},
		Watch: []BindingSpec{
			{Pattern: "app/js/*.js", Tasks: []string{"js"}},
			{Pattern: "app/css/*.styl", Tasks: []string{"css"}},
			{Pattern: "*.html", Reload: ReloadFull},
		},
	}
}
