package cli

import (
	"github.com/spf13/cobra"
)

type form990LoadOptions struct {
	*RootOptions
	Extract bool
}

// NewForm990Command groups the Form 990 subcommands.
func NewForm990Command(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "form990",
		Short: "Extract and load IRS Form 990 filings",
	}
	cmd.AddCommand(newForm990ExtractCommand(rootOpts))
	cmd.AddCommand(newForm990LoadCommand(rootOpts))
	return cmd
}

func newForm990ExtractCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Extract Form 990 PDFs into the intermediate artifact",
		Long: `Scan the configured directory for Form 990 PDFs, extract the Part I
summary and program service figures from each, and write the records to the
artifact store. Files that cannot be read are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			records, err := a.pipeline.ExtractForm990(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "form 990 extraction failed", err)
			}
			return a.out.Success(extractReport(records))
		},
	}
}

func newForm990LoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &form990LoadOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the extracted Form 990 records into the warehouse",
		Long: `Extract the configured Form 990 PDFs into the artifact, then read the
artifact and upsert one financial row per fiscal year and one row per program
service. Loading a year again updates it in place.

Pass --extract=false to load the artifact as it stands.

Example:
  rmef form990 load --extract=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.report(a.pipeline.RunForm990(cmd.Context(), opts.Extract))
		},
	}
	cmd.Flags().BoolVar(&opts.Extract, "extract", true, "extract the PDFs before loading")
	return cmd
}
