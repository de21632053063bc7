package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	reportSession string
	reportJSON    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the review workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if reportJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if reportSession != "" {
				return enc.Encode(env.Audit.GetSessionAuditSummary(reportSession))
			}
			return enc.Encode(env.Audit.GenerateAuditReport())
		}

		report := env.Audit.GenerateAuditReport()
		if reportSession != "" {
			report = &env.Audit.GetSessionAuditSummary(reportSession).Report
		}

		fmt.Printf("flagged records: %d\n", report.Total)
		for status, n := range report.StatusCounts {
			fmt.Printf("  %-14s %d\n", status, n)
		}
		fmt.Printf("completion rate: %.0f%%\n", report.CompletionRate*100)
		if len(report.TopFlagReasons) > 0 {
			fmt.Println("top flag reasons:")
			for _, rc := range report.TopFlagReasons {
				fmt.Printf("  %3dx %s\n", rc.Count, rc.Reason)
			}
		}
		if len(report.MostCorrectedFields) > 0 {
			fmt.Println("most corrected fields:")
			for _, fc := range report.MostCorrectedFields {
				fmt.Printf("  %3dx %s\n", fc.Count, fc.FieldKey)
			}
		}
		if len(report.ReviewerThroughput) > 0 {
			fmt.Println("reviewer throughput:")
			for reviewer, n := range report.ReviewerThroughput {
				fmt.Printf("  %3dx %s\n", n, reviewer)
			}
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSession, "session", "", "limit to one session")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "emit the report as JSON")
	rootCmd.AddCommand(reportCmd)
}
