package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/model"
)

var processOutputDir string

var processCmd = &cobra.Command{
	Use:   "process <document>...",
	Short: "Run register documents through the extraction pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if processOutputDir != "" {
			cfg.Export.OutputDir = processOutputDir
		}

		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		sessions, err := env.Pipeline.ProcessBatch(cmd.Context(), args)
		if err != nil {
			return err
		}

		failed := 0
		for _, s := range sessions {
			if s == nil {
				continue
			}
			switch s.Status {
			case model.SessionCompleted:
				fmt.Printf("%s  %s: %d records, %d flagged\n",
					s.ID, s.DocumentName, len(s.Records), len(s.FlaggedIDs))
			default:
				failed++
				msg := "unknown error"
				if len(s.Errors) > 0 {
					msg = s.Errors[len(s.Errors)-1].Message
				}
				fmt.Printf("%s  %s: FAILED at %s: %s\n",
					s.ID, s.DocumentName, s.CurrentStage, msg)
			}
		}

		if failed > 0 {
			zap.L().Warn("batch finished with failures",
				zap.Int("documents", len(sessions)),
				zap.Int("failed", failed),
			)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processOutputDir, "output", "", "output directory for CSV artifacts (default from config)")
	rootCmd.AddCommand(processCmd)
}
