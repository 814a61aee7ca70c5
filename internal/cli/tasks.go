package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/assetpipe/internal/project"
	"github.com/hupe1980/assetpipe/internal/task"
)

type tasksOptions struct {
	format string
}

// tasksResult is the structured output of the tasks command.
type tasksResult struct {
	Root       string            `json:"root" yaml:"root"`
	OutputRoot string            `json:"outputRoot" yaml:"outputRoot"`
	Tasks      []taskInfo        `json:"tasks" yaml:"tasks"`
	Composites []compositeInfo   `json:"composites,omitempty" yaml:"composites,omitempty"`
	Watch      []project.Binding `json:"watch,omitempty" yaml:"watch,omitempty"`
}

type taskInfo struct {
	Name string   `json:"name" yaml:"name"`
	Kind string   `json:"kind" yaml:"kind"`
	Src  []string `json:"src" yaml:"src"`
	Dest string   `json:"dest" yaml:"dest"`
}

type compositeInfo struct {
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	Definition string `json:"definition" yaml:"definition"`
}

func newTasksCommand() *cobra.Command {
	opts := &tasksOptions{}

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks, composites and watch bindings",
		Long: `Tasks lists the registered tasks with their sources and destinations,
the composites built from them, and the watch bindings used by watch and
serve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasksList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "table", "output format: table, json, yaml")

	return cmd
}

func runTasksList(cmd *cobra.Command, opts *tasksOptions) error {
	switch opts.format {
	case "table", "json", "yaml":
	default:
		return &ExitError{Code: 2, Err: fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", opts.format)}
	}

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	result := buildTasksResult(p)
	w := cmd.OutOrStdout()

	switch opts.format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling tasks: %w", err)
		}

		_, err = fmt.Fprintln(w, string(data))

		return err
	case "yaml":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling tasks: %w", err)
		}

		_, err = w.Write(data)

		return err
	default:
		printTasksTable(w, result)
		return nil
	}
}

func buildTasksResult(p *project.Project) tasksResult {
	result := tasksResult{
		Root:       p.Root,
		OutputRoot: p.OutputRoot,
		Watch:      p.Bindings,
	}

	for _, name := range p.Graph.Names() {
		if t, ok := p.Graph.Task(name); ok {
			src := make([]string, len(t.Sources))
			for i, s := range t.Sources {
				src[i] = s.String()
			}

			result.Tasks = append(result.Tasks, taskInfo{
				Name: t.Name,
				Kind: string(t.Kind),
				Src:  src,
				Dest: t.Dest,
			})

			continue
		}

		node, err := p.Graph.Lookup(name)
		if err != nil {
			continue
		}

		result.Composites = append(result.Composites, compositeInfo{
			Name:       name,
			Kind:       kindLabel(p.Graph.KindOf(node)),
			Definition: node.String(),
		})
	}

	return result
}

func kindLabel(k task.Kind) string {
	if k == task.KindNone {
		return "-"
	}

	return string(k)
}

func printTasksTable(w io.Writer, result tasksResult) {
	_, _ = fmt.Fprintf(w, "--- Tasks (%d) ---\n", len(result.Tasks))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKIND\tSOURCES\tDEST")

	for _, t := range result.Tasks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Kind, strings.Join(t.Src, ", "), t.Dest)
	}

	_ = tw.Flush()

	if len(result.Composites) > 0 {
		_, _ = fmt.Fprintf(w, "\n--- Composites (%d) ---\n", len(result.Composites))

		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tKIND\tDEFINITION")

		for _, c := range result.Composites {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Kind, c.Definition)
		}

		_ = tw.Flush()
	}

	if len(result.Watch) > 0 {
		_, _ = fmt.Fprintf(w, "\n--- Watch (%d) ---\n", len(result.Watch))

		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "PATTERN\tTARGETS\tRELOAD")

		for _, b := range result.Watch {
			targets := strings.Join(b.Targets, ", ")
			if targets == "" {
				targets = "-"
			}

			reload := b.Reload
			if reload == "" {
				reload = "auto"
			}

			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Pattern, targets, reload)
		}

		_ = tw.Flush()
	}
}
