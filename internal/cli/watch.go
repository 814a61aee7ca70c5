package cli

import (
	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	opts := &devOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild tasks when their sources change",
		Long: `Watch monitors the project's watch bindings and re-runs the bound
tasks when a matching file changes.

Each binding runs at most one rebuild at a time. Changes that arrive while
a rebuild is running are collected into a single follow-up rebuild. A
failing task is reported and the binding keeps watching.

Watch patterns whose base path does not exist fail at startup unless
--allow-missing is given.

When the output root lies inside the project, recursive patterns such as
"**/*.css" do not see files below it, so rebuilt outputs never trigger
their own binding. A pattern rooted inside the output root, such as
"dist/*.html", still watches it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}

			return runDev(cmd.Context(), cmd, p, opts)
		},
	}

	registerDevFlags(cmd, opts)

	return cmd
}
