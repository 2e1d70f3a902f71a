package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/quota"
)

var statsCmd = &cobra.Command{
	Use:         "stats",
	Short:       "Print posting and application statistics as json",
	Annotations: map[string]string{annotationPrintsData: ""},
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger, cfg := setup(cmd)

		loc, err := cfg.Location()
		if err != nil {
			logger.Fatal("loading timezone", zap.Error(err))
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Fatal("opening storage", zap.Error(err))
		}
		defer st.Close()

		stats, err := st.Stats(ctx, dayStart(time.Now(), loc))
		if err != nil {
			logger.Fatal("computing stats", zap.Error(err))
		}

		snap, err := quota.New(st, cfg.Apply.MaxPerDay, loc).Snapshot(ctx)
		if err != nil {
			logger.Fatal("reading the quota", zap.Error(err))
		}

		pretty, _ := json.MarshalIndent(struct {
			Stats any            `json:"stats"`
			Quota quota.Snapshot `json:"quota"`
		}{stats, snap}, "", "  ")
		fmt.Println(string(pretty))
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
