package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger, cfg := setup(cmd)

		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Fatal("migrating storage", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
		}
		defer st.Close()

		logger.Info("schema is up to date", zap.String("driver", string(st.Dialect())))
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
