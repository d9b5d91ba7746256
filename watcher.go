package permitwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/permitwatch/internal/poller"
)

// Watcher polls every configured target and notifies on newly available
// labels.
//
// Each target runs in its own goroutine with its own [Tracker]; nothing is
// shared between targets. A Watcher is created with [New] and run once with
// [Watcher.Run]:
//
//	w, err := permitwatch.New(permitwatch.WithTarget(tgt))
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	w.Run(ctx) // blocks until ctx is cancelled
type Watcher struct {
	targets  []Target
	runners  map[string]*runner
	notifier Notifier
	logger   *slog.Logger
	sleep    poller.Sleeper

	mu      sync.Mutex
	started bool
}

// New creates a [Watcher] with the given options.
//
// At least one target must be configured via [WithTarget] or [WithTargets],
// and target names must be unique.
func New(opts ...Option) (*Watcher, error) {
	cfg := &watcherConfig{
		now: time.Now,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	seen := make(map[string]bool, len(cfg.targets))
	for _, t := range cfg.targets {
		if t.source == nil {
			return nil, fmt.Errorf("target %q was not created with NewTarget", t.name)
		}
		if seen[t.name] {
			return nil, fmt.Errorf("duplicate target name: %q", t.name)
		}
		seen[t.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	runners := make(map[string]*runner, len(cfg.targets))
	for _, t := range cfg.targets {
		r := newRunner(t, notifier, logger, cfg.callbacks, cfg.now)
		if cfg.notifyTimeout > 0 {
			r.notifyTimeout = cfg.notifyTimeout
		}
		runners[t.name] = r
	}

	return &Watcher{
		targets:  cfg.targets,
		runners:  runners,
		notifier: notifier,
		logger:   logger,
		sleep:    cfg.sleep,
	}, nil
}

// Run polls all targets until ctx is cancelled.
//
// Every target is polled immediately, then on its own schedule. On
// cancellation, sleeping targets stop at once and a target in the middle of
// a cycle finishes it first. Sources implementing io.Closer are closed
// before Run returns.
//
// Returns nil on shutdown, or an error if Run was already called.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	defer w.closeSources()

	w.logger.Info("permitwatch starting", "target_count", len(w.targets))
	if ctx.Err() != nil {
		return nil
	}

	loops := make([]*poller.Loop, 0, len(w.targets))
	for _, t := range w.targets {
		w.logger.Info("watching target",
			"target", t.name,
			"interval", t.interval.String(),
			"error_backoff", t.errorBackoff.String(),
			"booking", t.booker != nil && t.prefs.Enabled(),
		)
		loop := poller.NewLoop(t.name, w.runners[t.name], t.errorBackoff, w.logger, w.sleep)
		loop.Start(ctx)
		loops = append(loops, loop)
	}

	<-ctx.Done()
	for _, loop := range loops {
		loop.Stop()
	}

	w.logger.Info("permitwatch stopped")
	return nil
}

// UpdatePreferences replaces the booking preferences of a running or idle
// target. The change applies from the target's next cycle; what has already
// been notified is untouched.
//
// Returns an error if no target has that name or it has no booker.
func (w *Watcher) UpdatePreferences(target string, prefs BookingPreferences) error {
	r, ok := w.runners[target]
	if !ok {
		return fmt.Errorf("unknown target: %q", target)
	}
	if r.assistant == nil {
		return fmt.Errorf("target %q does not support booking", target)
	}
	if prefs.Quantity < 0 {
		return errors.New("booking quantity cannot be negative")
	}
	r.setPreferences(prefs)
	w.logger.Info("booking preferences updated",
		"target", target,
		"labels", labelStrings(prefs.Labels),
		"quantity", prefs.Quantity,
	)
	return nil
}

// Targets returns a copy of the configured targets.
func (w *Watcher) Targets() []Target {
	cp := make([]Target, len(w.targets))
	copy(cp, w.targets)
	return cp
}

func (w *Watcher) closeSources() {
	for _, t := range w.targets {
		if err := closeSource(t.source); err != nil {
			w.logger.Warn("failed to close source", "target", t.name, "error", err.Error())
		}
	}
}
