package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sheetbot-go/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Long: `Run the reconciliation loop, the chat listener, the keepalive server
and the metrics endpoint. SIGINT or SIGTERM shuts everything down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := rootOpts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			logger.Info("sheetbot started", "backend", cfg.Store.Backend, "offset", cfg.Scheduler.TimezoneOffset)
			return application.Run(ctx)
		},
	}
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one reconciliation pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := rootOpts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			defer application.Stop(context.Background())

			report := application.Scheduler.Tick(ctx)
			if report.Err != nil {
				return report.Err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows=%d malformed=%d due=%d delivered=%d\n",
				report.Rows, report.Malformed, len(report.Results), report.Delivered())
			for _, res := range report.Results {
				fmt.Fprintf(out, "row %d -> %s\n", res.Row, res.Outcome)
			}
			return nil
		},
	}
}
