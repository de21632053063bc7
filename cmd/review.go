package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/licenceworks/hmo-audit/internal/model"
)

var (
	reviewSession string
	reviewActor   string
	reviewComment string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the flagged-record review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flagged records",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		flagged := env.Audit.List(reviewSession)
		for _, fr := range flagged {
			reviewer := fr.AssignedReviewer
			if reviewer == "" {
				reviewer = "-"
			}
			fmt.Printf("%s  %-12s  %-10s  %s\n",
				fr.RecordID, fr.ReviewStatus, reviewer, fr.FlagReason)
		}
		fmt.Printf("%d flagged records\n", len(flagged))
		return nil
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show a flagged record and its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		fr := env.Audit.Get(args[0])
		if fr == nil {
			return eris.Errorf("no flagged record %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(fr)
	},
}

var reviewAssignCmd = &cobra.Command{
	Use:   "assign <record-id> <reviewer>",
	Short: "Assign a pending record to a reviewer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if !env.Audit.Assign(cmd.Context(), args[0], args[1]) {
			return eris.Errorf("cannot assign %s: record unknown or not pending", args[0])
		}
		fmt.Printf("assigned %s to %s\n", args[0], args[1])
		return nil
	},
}

var reviewCorrectCmd = &cobra.Command{
	Use:   "correct <record-id> <field=value>...",
	Short: "Apply field corrections to a flagged record",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates := make(map[string]string)
		for _, arg := range args[1:] {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return eris.Errorf("corrections must be field=value, got %q", arg)
			}
			updates[key] = value
		}

		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if !env.Audit.Update(cmd.Context(), args[0], updates, reviewActor, reviewComment) {
			return eris.Errorf("cannot correct %s: record unknown or no updates given", args[0])
		}

		fr := env.Audit.Get(args[0])
		last := fr.AuditTrail[len(fr.AuditTrail)-1]
		fmt.Printf("corrected %d field(s); confidence %.2f -> %.2f\n",
			len(updates), last.ConfidenceBefore, last.ConfidenceAfter)
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <record-id>",
	Short: "Approve a flagged record",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewComplete(model.ReviewApproved),
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <record-id>",
	Short: "Reject a flagged record",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewComplete(model.ReviewRejected),
}

func reviewComplete(status model.ReviewStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		var ok bool
		if status == model.ReviewApproved {
			ok = env.Audit.Approve(cmd.Context(), args[0], reviewActor, reviewComment)
		} else {
			ok = env.Audit.Reject(cmd.Context(), args[0], reviewActor, reviewComment)
		}
		if !ok {
			return eris.Errorf("no flagged record %s", args[0])
		}
		fmt.Printf("%s %s\n", args[0], status)
		return nil
	}
}

var reviewReviseCmd = &cobra.Command{
	Use:   "revise <record-id>",
	Short: "Send a flagged record back for rework",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if !env.Audit.RequestRevision(cmd.Context(), args[0], reviewActor, reviewComment) {
			return eris.Errorf("no flagged record %s", args[0])
		}
		fmt.Printf("%s %s\n", args[0], model.ReviewNeedsRevision)
		return nil
	},
}

var reviewCommentCmd = &cobra.Command{
	Use:   "comment <record-id> <text>",
	Short: "Add a comment to a flagged record",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if !env.Audit.AddComment(cmd.Context(), args[0], reviewActor, strings.Join(args[1:], " ")) {
			return eris.Errorf("no flagged record %s", args[0])
		}
		fmt.Println("comment added")
		return nil
	},
}

func init() {
	reviewCmd.PersistentFlags().StringVar(&reviewSession, "session", "", "limit to one session")
	reviewCmd.PersistentFlags().StringVar(&reviewActor, "actor", "reviewer", "actor recorded in the audit trail")
	reviewCmd.PersistentFlags().StringVar(&reviewComment, "comment", "", "comment recorded in the audit trail")

	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewAssignCmd,
		reviewCorrectCmd, reviewApproveCmd, reviewRejectCmd, reviewReviseCmd, reviewCommentCmd)
	rootCmd.AddCommand(reviewCmd)
}
