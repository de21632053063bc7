package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "hmo-audit",
	Short: "HMO licence register extraction and review pipeline",
	Long:  "Extracts structured licence records from council HMO register documents, scores extraction confidence, and routes low-confidence records through a human review workflow.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
