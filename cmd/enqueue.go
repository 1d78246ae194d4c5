package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/testexec/internal/config"
	"github.com/xiaot623/gogo/testexec/internal/domain"
)

func newEnqueueCmd() *cobra.Command {
	var (
		batch     bool
		requestID string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue CASE_ID [CASE_ID...]",
		Short: "Queue cases for asynchronous execution by a running server",
		Long: `Publish an execution request to the durable SQLite queue shared with
'testexec serve'. The command returns as soon as the request is stored.

Examples:
  testexec enqueue 42
  testexec enqueue --batch 1 2 3 --request-id nightly-2026-10-16`,
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
			if cfg.QueueBackend != config.QueueBackendSQLite {
				return fmt.Errorf("enqueue needs QUEUE_BACKEND=%s, got %q", config.QueueBackendSQLite, cfg.QueueBackend)
			}
			a, err := newApp(cmd.Context(), cfg, logger, appOptions{queue: true})
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.service.EnqueueExecution(cmd.Context(), domain.ExecutionRequest{
				RequestID: requestID,
				Mode:      mode,
				CaseIDs:   ids,
			})
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), output, resp)
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "Queue as a batch even with a single case id")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Idempotency key; generated when empty")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "Output format (json, yaml)")
	return cmd
}
