package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tollgate-hq/tollgate/pkg/config"
	"tollgate-hq/tollgate/pkg/quota"
	"tollgate-hq/tollgate/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Tollgate - token-quota admission control",
	Long: `Tollgate gates expensive model API calls against token budgets.

Every operation is checked against three ceilings before it runs:
  - A fixed per-request token ceiling per operation kind
  - The subject's daily token and request budget
  - A system-wide hourly token ceiling

Actual usage is committed into a persistent ledger and an append-only
journal; budget windows reset lazily at local midnight and on the hour.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadManager loads configuration, sets up logging, and builds the quota
// manager. The caller owns the returned manager and must close it.
func loadManager() (*quota.Manager, *config.Config, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if _, err := logging.New(&cfg.Telemetry.Logging, os.Stderr); err != nil {
		return nil, nil, err
	}

	mgr, err := quota.NewManager(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize quota manager: %w", err)
	}
	return mgr, cfg, nil
}
