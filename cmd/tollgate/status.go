package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusFlags struct {
	subject   string
	format    string
	reconcile bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a subject's remaining daily budget",
	Long: `Show a subject's token and request usage for today.

Reading status creates today's window if it does not exist yet, so a fresh
day always reports zero usage.

Examples:
  # Human-readable status
  tollgate status --subject team-a

  # Machine-readable, with ledger/journal reconciliation
  tollgate status --subject team-a --format json --reconcile`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusFlags.subject, "subject", "", "subject id (required)")
	statusCmd.Flags().StringVar(&statusFlags.format, "format", "text", "output format: text, json")
	statusCmd.Flags().BoolVar(&statusFlags.reconcile, "reconcile", false, "also compare the ledger against the journal")
	statusCmd.MarkFlagRequired("subject")
}

func runStatus(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	status, err := mgr.Status(ctx, statusFlags.subject)
	if err != nil {
		return fmt.Errorf("status query failed: %w", err)
	}

	if statusFlags.format == "json" {
		out := map[string]interface{}{"status": status}
		if statusFlags.reconcile {
			report, err := mgr.Reconcile(ctx, statusFlags.subject, time.Now())
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}
			out["reconcile"] = report
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("subject:   %s\n", status.SubjectID)
	fmt.Printf("tokens:    %d / %d (%d remaining)\n", status.TokensUsed, status.TokensLimit, status.TokensRemaining)
	fmt.Printf("requests:  %d / %d\n", status.RequestsUsed, status.RequestsLimit)
	fmt.Printf("resets at: %s\n", status.ResetAt.Format("2006-01-02 15:04 MST"))

	if statusFlags.reconcile {
		report, err := mgr.Reconcile(ctx, statusFlags.subject, time.Now())
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		state := "consistent"
		if !report.Consistent {
			state = "MISMATCH"
		}
		fmt.Printf("reconcile: %s (ledger=%d journal=%d)\n", state, report.LedgerTokens, report.JournalTokens)
	}
	return nil
}
