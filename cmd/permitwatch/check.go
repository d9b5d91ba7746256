package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/config"
)

// checkCmd fetches each target once and prints what it found.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch every target once and print the available slots",
	Long: `Fetch every configured target once and print the labels each source
currently reports as available.

Nothing is sent and nothing is booked. Use this to confirm selectors and
JSON paths against the live site before starting a watch.

Exit codes:
  0 - Every target fetched
  1 - At least one fetch failed (details in the table)

Example:
  permitwatch check -c config.yaml
  permitwatch check -c config.yaml --target permit`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	checkCmd.Flags().StringSliceP("target", "t", nil, "only check the named target (repeatable)")
	checkCmd.Flags().Duration("timeout", time.Minute, "timeout for each fetch")
	_ = checkCmd.MarkFlagRequired("config")
}

type checkResult struct {
	name   string
	kind   string
	labels []permitwatch.Label
	err    error
}

func runCheck(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	only, _ := cmd.Flags().GetStringSlice("target")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	selected := cfg.Targets
	if len(only) > 0 {
		selected, err = filterTargets(cfg.Targets, only)
		if err != nil {
			return err
		}
	}

	results := make([]checkResult, 0, len(selected))
	for _, tc := range selected {
		results = append(results, checkTarget(cmd.Context(), tc, timeout))
	}

	failed := renderCheck(cmd.OutOrStdout(), results, time.Now())
	if failed > 0 {
		return fmt.Errorf("%d of %d target(s) failed", failed, len(results))
	}
	return nil
}

func filterTargets(all []config.TargetConfig, only []string) ([]config.TargetConfig, error) {
	byName := make(map[string]config.TargetConfig, len(all))
	for _, tc := range all {
		byName[tc.Name] = tc
	}
	selected := make([]config.TargetConfig, 0, len(only))
	for _, name := range only {
		tc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		selected = append(selected, tc)
	}
	return selected, nil
}

func checkTarget(ctx context.Context, tc config.TargetConfig, timeout time.Duration) checkResult {
	res := checkResult{name: tc.Name, kind: tc.Type}

	src, err := config.BuildSource(tc)
	if err != nil {
		res.err = err
		return res
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := src.Fetch(ctx)
	if err != nil {
		res.err = err
		return res
	}
	res.labels = snap.Labels
	return res
}

// renderCheck prints one row per result and returns the number of failures.
func renderCheck(w io.Writer, results []checkResult, now time.Time) int {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Target", "Type", "Status", "Available"})

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			status := "error"
			var fe *permitwatch.FetchError
			if errors.As(r.err, &fe) {
				status = "error (" + string(fe.Stage) + ")"
			}
			t.AppendRow(table.Row{r.name, r.kind, status, r.err.Error()})
			continue
		}

		labels := append([]permitwatch.Label(nil), r.labels...)
		permitwatch.SortLabels(labels, now)
		parts := make([]string, len(labels))
		for i, l := range labels {
			parts[i] = string(l)
		}
		available := strings.Join(parts, ", ")
		if available == "" {
			available = "-"
		}
		t.AppendRow(table.Row{r.name, r.kind, fmt.Sprintf("ok (%d)", len(labels)), available})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
	return failed
}
