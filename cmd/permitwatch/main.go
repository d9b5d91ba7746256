// Package main is the entry point for the permitwatch CLI.
//
// permitwatch can be embedded as a library (SDK) or run as a standalone
// binary with YAML configuration. This CLI provides the standalone binary.
//
// Usage:
//
//	permitwatch watch -c config.yaml    # Poll until interrupted
//	permitwatch check -c config.yaml    # Fetch every target once
//	permitwatch validate -c config.yaml # Validate configuration
//	permitwatch version                 # Show version info
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "permitwatch",
	Short: "Watch reservation sites for newly opened slots",
	Long: `permitwatch polls permit and ferry reservation sites for newly opened
availability and emails you the first time each slot appears.

Quick start:
  1. Create a config file (permitwatch.yaml)
  2. Check your selectors: permitwatch check -c permitwatch.yaml
  3. Run: permitwatch watch -c permitwatch.yaml

Example config:
  notify:
    to: me@example.com
  targets:
    - name: ferry
      type: api
      interval: 30s
      api:
        url: https://ferry.example.com/api/sailings
        items_path: sailings
        label_field: departs
        count_field: seats`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this permitwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("permitwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
