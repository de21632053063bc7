package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/store"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List processing sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.SessionFilter{Limit: sessionsLimit}
		if sessionsStatus != "" {
			filter.Status = model.SessionStatus(sessionsStatus)
		}
		sessions, err := env.Store.ListSessions(cmd.Context(), filter)
		if err != nil {
			return err
		}

		for _, s := range sessions {
			fmt.Printf("%s  %-30s  %-10s  %-20s  %s\n",
				s.ID, s.DocumentName, s.Status, s.CurrentStage,
				s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d sessions\n", len(sessions))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the status of one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Store.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		view := s.StatusView()
		fmt.Printf("document: %s\nstatus:   %s\nstage:    %s\nprogress: %.0f%%\n",
			s.DocumentName, view.Status, view.CurrentStage, view.Progress*100)
		if view.ErrorMessage != "" {
			fmt.Printf("error:    %s\n", view.ErrorMessage)
		}
		if s.Metrics != nil {
			fmt.Printf("records:  %d (%d valid, quality %s)\n",
				s.Metrics.RecordCount, s.Metrics.ValidCount, s.Metrics.OverallLevel)
		}
		if len(s.FlaggedIDs) > 0 {
			fmt.Printf("flagged:  %d\n", len(s.FlaggedIDs))
		}
		if len(s.Errors) > 0 {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s.Errors)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status (queued|processing|completed|error)")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
}
