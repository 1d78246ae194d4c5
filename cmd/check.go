package cmd

import (
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether this host can run executions",
		Long: `Report whether execution is enabled and which allow-listed commands
resolve on PATH. Exits with code 2 when the environment is not ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.service.CheckEnvironment()
			if err := printValue(cmd.OutOrStdout(), output, report); err != nil {
				return err
			}
			switch {
			case !report.ExecutionEnabled:
				return failed("execution is disabled")
			case !report.Ready:
				return failed("environment not ready: missing %v", report.MissingCommands)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "Output format (json, yaml)")
	return cmd
}
