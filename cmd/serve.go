package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard api and run the scheduler",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default is server.addr from the config)")
	serveCmd.Flags().Bool("start", false, "start the scheduler right away")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("scheduler.auto-start", serveCmd.Flags().Lookup("start"))
}

func serve(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, cfg := setup(cmd)
	logger.Info("starting the jobhunter", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(cfg, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("building the engine", zap.Error(err))
	}
	defer func() {
		if err := e.close(); err != nil {
			logger.Warn("closing resources", zap.Error(err))
		}
	}()

	if err := e.recoverInterrupted(ctx); err != nil {
		logger.Fatal("recovering interrupted applications", zap.Error(err))
	}

	server := api.New(api.Deps{
		Store:     e.store,
		Events:    e.events,
		Scheduler: e.scheduler,
		Quota:     e.quota,
	}, logger, api.Options{
		Interval: cfg.Search.Interval,
		Location: e.loc,
		Version:  version,
		Settings: cfg,
	})

	if cfg.Scheduler.AutoStart {
		if err := e.scheduler.Start(cfg.Search.Interval); err != nil {
			logger.Fatal("starting the scheduler", zap.Error(err))
		}
	}

	if err := server.Run(ctx, cfg.Server.Addr); err != nil {
		logger.Error("serving", zap.Error(err))
	}

	// manual runs started from the dashboard are drained even when the
	// scheduler itself was never started
	e.scheduler.Shutdown()

	logger.Info("exiting", zap.String("reason", "shutdown requested"))
}
