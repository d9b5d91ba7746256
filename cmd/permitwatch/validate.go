package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/permitwatch/config"
)

// validateCmd validates a config file without polling anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a permitwatch configuration file without contacting any site.

This command parses the YAML, merges the .local.yaml override, expands
environment variables, and validates all fields. It's useful before
deploying a new config or as a pre-commit check.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  permitwatch validate -c config.yaml
  permitwatch validate --config /etc/permitwatch/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	booking := 0
	for _, tc := range cfg.Targets {
		if tc.Booking.Enabled {
			booking++
		}
	}
	recipient := cfg.Notify.To
	if recipient == "" {
		recipient = "(none, log only)"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Targets:   %d (%d with booking)\n", len(cfg.Targets), booking)
	fmt.Printf("  Recipient: %s\n", recipient)
	fmt.Printf("  Log level: %s\n", cfg.LogLevel)
	for _, tc := range cfg.Targets {
		interval := "10s"
		if tc.Interval != 0 {
			interval = tc.Interval.Duration().String()
		}
		fmt.Printf("    - %s (%s, every %s)\n", tc.Name, tc.Type, interval)
	}

	return nil
}
