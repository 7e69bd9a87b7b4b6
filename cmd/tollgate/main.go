// Tollgate is a token-quota admission control service for expensive model
// API calls.
//
// It gates operations against three budgets (a per-request ceiling, each
// subject's daily token and request budget, and a system-wide hourly
// ceiling), records actual usage in a persistent ledger with an append-only
// journal, and prunes expired accounting data on a schedule.
//
// Usage:
//
//	# Check whether an operation would be admitted
//	tollgate check --subject team-a --tokens 1200 --kind agent_call
//
//	# Commit actual usage after the call completed
//	tollgate commit --subject team-a --tokens 980 --kind agent_call --correlation-id op-42
//
//	# Show a subject's remaining budget
//	tollgate status --subject team-a
//
//	# Run the retention janitor on its schedule
//	tollgate janitor
//
//	# Validate a configuration file
//	tollgate validate --config /path/to/config.yaml
package main

func main() {
	Execute()
}
