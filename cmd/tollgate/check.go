package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkFlags struct {
	subject       string
	tokens        int64
	kind          string
	correlationID string
	format        string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether an operation would be admitted",
	Long: `Run an admission check for an operation without performing it.

The check is advisory: the provisional hold an admission places on the
daily budget is returned before the command exits, since a later commit
from a separate process records its usage in full on its own.

Examples:
  # Check a 1200-token agent call for team-a
  tollgate check --subject team-a --tokens 1200 --kind agent_call

  # Group a multi-step operation under one correlation id
  tollgate check --subject team-a --tokens 800 --kind planning --correlation-id op-42`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.subject, "subject", "", "subject id (required)")
	checkCmd.Flags().Int64Var(&checkFlags.tokens, "tokens", 0, "estimated token count (required)")
	checkCmd.Flags().StringVar(&checkFlags.kind, "kind", "", "operation kind")
	checkCmd.Flags().StringVar(&checkFlags.correlationID, "correlation-id", "", "correlation id grouping a multi-step operation")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json")
	checkCmd.MarkFlagRequired("subject")
	checkCmd.MarkFlagRequired("tokens")
}

func runCheck(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()
	dec, err := mgr.Check(ctx, checkFlags.subject, checkFlags.tokens, checkFlags.kind, checkFlags.correlationID)
	if err != nil {
		return fmt.Errorf("admission unavailable, denying: %w", err)
	}
	if dec.Allowed {
		mgr.Release(ctx, dec.CorrelationID)
	}

	if checkFlags.format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dec); err != nil {
			return err
		}
	} else if dec.Allowed {
		fmt.Printf("admitted (correlation id %s)\n", dec.CorrelationID)
	} else {
		fmt.Printf("denied: %s\n", dec.Reason)
		if dec.Detail != nil {
			d := dec.Detail
			fmt.Printf("  limit=%d used=%d requested=%d\n", d.Limit, d.Used, d.Requested)
			if !d.ResetAt.IsZero() {
				fmt.Printf("  resets at %s (%dh)\n", d.ResetAt.Format("2006-01-02 15:04 MST"), d.HoursUntilReset)
			}
			if d.RetryAfter > 0 {
				fmt.Printf("  retry after %ds\n", d.RetryAfter)
			}
		}
	}

	if !dec.Allowed {
		os.Exit(1)
	}
	return nil
}
