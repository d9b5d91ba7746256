package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/config"
)

// newLogger creates a JSON logger on w. An empty level falls back to the
// configured one.
func newLogger(w io.Writer, flagLevel, cfgLevel string) *slog.Logger {
	level := cfgLevel
	if flagLevel != "" {
		level = flagLevel
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: config.LogLevel(level),
	}))
}

// watchCmd polls the configured targets until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll targets and send notifications",
	Long: `Poll every configured target and notify on newly available slots.

The watcher will:
  - Load configuration from the specified YAML file
  - Poll each target on its own interval, backing off after errors
  - Email each slot the first time it is seen
  - Try to hold a preferred slot on targets with booking enabled

It runs until interrupted (Ctrl+C) or it receives SIGTERM. A poll in
progress is allowed to finish.

With --watch-config, edits to booking.preferred_labels and
booking.quantity are applied without a restart. Other changes need one.

Example:
  permitwatch watch -c config.yaml
  permitwatch watch -c config.yaml --target ferry --log-level debug`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().StringSliceP("target", "t", nil, "only watch the named target (repeatable)")
	watchCmd.Flags().Bool("watch-config", false, "reload booking preferences when the config file changes")
	watchCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	only, _ := cmd.Flags().GetStringSlice("target")
	reload, _ := cmd.Flags().GetBool("watch-config")
	levelFlag, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stdout, levelFlag, cfg.LogLevel)

	targets, err := config.BuildTargets(cfg, only)
	if err != nil {
		return fmt.Errorf("failed to build targets: %w", err)
	}

	notifier, err := config.BuildNotifier(cfg, logger)
	if err != nil {
		config.CloseTargets(targets)
		return fmt.Errorf("failed to build notifier: %w", err)
	}

	w, err := permitwatch.New(
		permitwatch.WithTargets(targets...),
		permitwatch.WithNotifier(notifier),
		permitwatch.WithNotifyTimeout(cfg.Notify.Timeout.Duration()),
		permitwatch.WithLogger(logger),
	)
	if err != nil {
		config.CloseTargets(targets)
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	logger.Info("config loaded", "targets", len(targets), "notify", cfg.Notify.To != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if reload {
		go func() {
			err := config.Watch(ctx, configFile, logger, func(next *config.Config) {
				applyPreferences(w, next, logger)
			})
			if err != nil {
				logger.Error("config watch stopped", "error", err)
			}
		}()
	}

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watcher error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// applyPreferences pushes reloaded booking preferences to the running
// targets that book.
func applyPreferences(w *permitwatch.Watcher, cfg *config.Config, logger *slog.Logger) {
	running := make(map[string]bool)
	for _, t := range w.Targets() {
		if t.Booker() != nil {
			running[t.Name()] = true
		}
	}

	for _, tc := range cfg.Targets {
		if !running[tc.Name] {
			continue
		}
		prefs := config.Preferences(tc.Booking)
		if err := w.UpdatePreferences(tc.Name, prefs); err != nil {
			logger.Warn("booking preferences not applied", "target", tc.Name, "error", err)
		}
	}
}
