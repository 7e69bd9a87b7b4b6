package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tollgate-hq/tollgate/pkg/quota/journal"
)

var journalFlags struct {
	subject       string
	correlationID string
	kind          string
	outcome       string
	since         string
	limit         int
	format        string
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the usage journal",
	Long: `Query usage journal entries for audit.

Examples:
  # Last entries for a subject
  tollgate journal --subject team-a

  # All denials in the last day
  tollgate journal --outcome denied_quota --since 24h

  # Every step of one operation
  tollgate journal --correlation-id op-42 --format json`,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVar(&journalFlags.subject, "subject", "", "filter by subject id")
	journalCmd.Flags().StringVar(&journalFlags.correlationID, "correlation-id", "", "filter by correlation id")
	journalCmd.Flags().StringVar(&journalFlags.kind, "kind", "", "filter by operation kind")
	journalCmd.Flags().StringVar(&journalFlags.outcome, "outcome", "", "filter by outcome")
	journalCmd.Flags().StringVar(&journalFlags.since, "since", "", "only entries newer than this duration (e.g. 24h)")
	journalCmd.Flags().IntVar(&journalFlags.limit, "limit", 50, "maximum entries to return")
	journalCmd.Flags().StringVar(&journalFlags.format, "format", "text", "output format: text, json")
}

func runJournal(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	q := &journal.Query{
		SubjectID:     journalFlags.subject,
		CorrelationID: journalFlags.correlationID,
		Kind:          journalFlags.kind,
		Outcome:       journal.Outcome(journalFlags.outcome),
		Limit:         journalFlags.limit,
	}
	if journalFlags.since != "" {
		d, err := time.ParseDuration(journalFlags.since)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		start := time.Now().Add(-d)
		q.StartTime = &start
	}

	entries, err := mgr.Journal().Query(context.Background(), q)
	if err != nil {
		return fmt.Errorf("journal query failed: %w", err)
	}

	if journalFlags.format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("no entries")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-22s %-12s %8d tokens  %s",
			e.RecordedAt.Format(time.RFC3339), e.Outcome, e.Kind, e.TokensUsed, e.SubjectID)
		if e.ErrorDetail != "" {
			fmt.Printf("  (%s)", e.ErrorDetail)
		}
		fmt.Println()
	}
	return nil
}
