package cli

import (
	"github.com/spf13/cobra"
)

type historyOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &historyOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}
			a, err := openApp(cmd.Context(), opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.db.Migrate(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			runs, err := a.repo.RecentRuns(cmd.Context(), opts.Limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read run history", err)
			}
			report := historyReport(runs)
			if report == nil {
				report = historyReport{}
			}
			return a.out.Success(report)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
