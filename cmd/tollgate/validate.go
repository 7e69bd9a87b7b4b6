package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tollgate-hq/tollgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting anything.

Examples:
  tollgate validate --config config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", cfgFile)
	fmt.Printf("  storage backend:       %s\n", cfg.Storage.Backend)
	fmt.Printf("  directory source:      %s\n", cfg.Directory.Source)
	fmt.Printf("  subjects:              %d\n", len(cfg.Subjects))
	fmt.Printf("  system hourly ceiling: %d tokens\n", cfg.Quota.SystemHourlyTokenCeiling)
	if cfg.Retention.HorizonDays < 0 {
		fmt.Printf("  retention:             disabled\n")
	} else {
		fmt.Printf("  retention:             %d days (%s)\n", cfg.Retention.HorizonDays, cfg.Retention.Schedule)
	}
	return nil
}
