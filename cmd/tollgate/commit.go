package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tollgate-hq/tollgate/pkg/quota/journal"
)

var commitFlags struct {
	subject       string
	tokens        int64
	kind          string
	correlationID string
	outcome       string
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit actual usage for a completed operation",
	Long: `Record the actual token consumption of a completed operation.

Commit is accounting, not gating: it never re-checks ceilings, and it works
for operations that were never admitted (administrative back-fill). Failed
downstream calls that still consumed tokens should be committed with
--outcome error.

Examples:
  # Record 980 tokens for an agent call
  tollgate commit --subject team-a --tokens 980 --kind agent_call --correlation-id op-42

  # Record tokens lost to a failed provider call
  tollgate commit --subject team-a --tokens 310 --kind agent_call --outcome error`,
	RunE: runCommit,
}

func init() {
	rootCmd.AddCommand(commitCmd)

	commitCmd.Flags().StringVar(&commitFlags.subject, "subject", "", "subject id (required)")
	commitCmd.Flags().Int64Var(&commitFlags.tokens, "tokens", 0, "actual token count (required)")
	commitCmd.Flags().StringVar(&commitFlags.kind, "kind", "", "operation kind")
	commitCmd.Flags().StringVar(&commitFlags.correlationID, "correlation-id", "", "correlation id grouping a multi-step operation")
	commitCmd.Flags().StringVar(&commitFlags.outcome, "outcome", "admitted_and_committed", "outcome: admitted_and_committed, error")
	commitCmd.MarkFlagRequired("subject")
	commitCmd.MarkFlagRequired("tokens")
}

func runCommit(cmd *cobra.Command, args []string) error {
	outcome := journal.Outcome(commitFlags.outcome)
	if !outcome.Countable() {
		return fmt.Errorf("invalid outcome %q: use admitted_and_committed or error", commitFlags.outcome)
	}

	mgr, _, err := loadManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	err = mgr.Commit(context.Background(), commitFlags.subject, commitFlags.correlationID, commitFlags.kind, commitFlags.tokens, outcome)
	if err != nil {
		return fmt.Errorf("commit failed, usage may be under-counted: %w", err)
	}

	fmt.Printf("committed %d tokens for %s\n", commitFlags.tokens, commitFlags.subject)
	return nil
}
