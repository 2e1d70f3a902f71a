package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/scheduler"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one search cycle: scrape every platform, store and score new postings",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, cfg := setup(cmd)

		e, err := newEngine(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("building the engine", zap.Error(err))
		}
		defer e.close()

		if err := e.scheduler.RunOnce(ctx, scheduler.CycleSearch); err != nil {
			logger.Error("search cycle", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
