package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/events"
	"github.com/spigell/jobhunter/internal/jobs"
)

var logsCmd = &cobra.Command{
	Use:         "logs",
	Short:       "Show or clear the event log",
	Annotations: map[string]string{annotationPrintsData: ""},
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger, cfg := setup(cmd)

		level, err := jobs.ParseLevel(viper.GetString("logs.level"))
		if err != nil {
			logger.Fatal("parsing level", zap.Error(err))
		}
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close()

		entries, err := events.New(st, logger, cfg.Events.MaxEntries).List(ctx, limit, level)
		if err != nil {
			logger.Fatal("listing events", zap.Error(err))
		}

		// oldest first reads naturally in a terminal
		for i := len(entries) - 1; i >= 0; i-- {
			ev := entries[i]
			details := ""
			if len(ev.Details) > 0 {
				raw, _ := json.Marshal(ev.Details)
				details = " " + string(raw)
			}
			fmt.Printf("%s %-7s %-10s %s%s\n", ev.Timestamp.In(time.Local).Format(time.DateTime), ev.Level, ev.Component, ev.Message, details)
		}
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every event log entry",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger, cfg := setup(cmd)

		if auto, _ := cmd.Flags().GetBool("auto-approve"); !auto {
			prompt := promptui.Prompt{Label: "Clear the whole event log", IsConfirm: true}
			if _, err := prompt.Run(); err != nil {
				logger.Info("exiting", zap.String("reason", "got no from prompt"))
				return
			}
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close()

		removed, err := events.New(st, logger, cfg.Events.MaxEntries).Clear(ctx)
		if err != nil {
			logger.Fatal("clearing events", zap.Error(err))
		}
		logger.Info("event log cleared", zap.Int64("removed", removed))
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsClearCmd)

	logsCmd.Flags().StringP("level", "l", "", "show only one level: info, warning, error or success")
	logsCmd.Flags().IntP("limit", "n", 100, "how many entries to show")
	logsClearCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation")

	viper.BindPFlag("logs.level", logsCmd.Flags().Lookup("level"))
}
