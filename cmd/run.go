package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

func newRunCmd() *cobra.Command {
	var (
		batch  bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "run CASE_ID [CASE_ID...]",
		Short: "Execute cases synchronously and print the outcome",
		Long: `Execute one case, or several cases as a batch, in this process and print
the outcome. Configured robots are notified directly.

Examples:
  testexec run 42
  testexec run --batch 1 2 3 -o yaml

Exits with code 2 when the run finished with a status other than success.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseCaseIDs(args)
			if err != nil {
				return err
			}
			mode := domain.ExecutionModeSingle
			if batch || len(ids) > 1 {
				mode = domain.ExecutionModeBatch
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, appOptions{sinks: true})
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.service.Execute(cmd.Context(), domain.ExecutionRequest{Mode: mode, CaseIDs: ids})
			if err != nil {
				return err
			}
			if err := printValue(cmd.OutOrStdout(), output, outcome); err != nil {
				return err
			}
			if outcome.Result.Status != domain.ExecutionStatusSuccess {
				return failed("execution %s finished with status %s", outcome.ExecutionID, outcome.Result.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "Run as a batch even with a single case id")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "Output format (json, yaml)")
	return cmd
}
