package cli

import (
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load all source files into the warehouse",
		Long: `Run the warehouse pipeline: apply migrations, generate the date dimension,
then load donors, campaigns, habitats, projects, donations, elk populations and
conservation facts in a single transaction.

Rows that already exist are skipped, so running twice is safe. Any fatal error
rolls back every change made by the run.

Example:
  rmef run --config rmef.yaml
  DATABASE_URL=postgres://localhost/rmef rmef run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.report(a.pipeline.Run(cmd.Context()))
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.db.Migrate(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			return a.out.Success(map[string]string{"database": string(a.db.Dialect()), "schema": "up to date"})
		},
	}
}
