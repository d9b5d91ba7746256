package permitwatch

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/permitwatch/internal/poller"
)

// watcherConfig holds mutable state during Watcher construction.
type watcherConfig struct {
	targets   []Target
	notifier  Notifier
	logger    *slog.Logger
	callbacks []func(CycleResult)
	now       func() time.Time
	sleep     poller.Sleeper

	notifyTimeout time.Duration
}

// Option configures a [Watcher] during construction.
//
// Built-in options: [WithTarget], [WithTargets], [WithNotifier],
// [WithLogger], [WithNotifyTimeout], [WithCycleCallback].
type Option func(*watcherConfig) error

// WithTarget adds a single [Target]. Can be called multiple times; at least
// one target must be configured for [New] to succeed.
func WithTarget(t Target) Option {
	return func(cfg *watcherConfig) error {
		cfg.targets = append(cfg.targets, t)
		return nil
	}
}

// WithTargets adds several targets at once.
func WithTargets(targets ...Target) Option {
	return func(cfg *watcherConfig) error {
		cfg.targets = append(cfg.targets, targets...)
		return nil
	}
}

// WithNotifier sets where availability alerts are sent.
//
// If not specified, alerts are only logged through a [LogNotifier].
//
// Returns an error if n is nil.
func WithNotifier(n Notifier) Option {
	return func(cfg *watcherConfig) error {
		if n == nil {
			return errors.New("notifier cannot be nil")
		}
		cfg.notifier = n
		return nil
	}
}

// WithNotifyTimeout bounds each call to the notifier. A notifier still
// running when it expires has its context cancelled and the message counts
// as failed. Default: 1 minute.
//
// Returns an error if d is not positive.
func WithNotifyTimeout(d time.Duration) Option {
	return func(cfg *watcherConfig) error {
		if d <= 0 {
			return errors.New("notify timeout must be positive")
		}
		cfg.notifyTimeout = d
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	w, err := permitwatch.New(
//	    permitwatch.WithTarget(tgt),
//	    permitwatch.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *watcherConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithCycleCallback registers a function called after every cycle of every
// target.
//
// Callbacks run synchronously on the target's own goroutine, so a slow
// callback delays that target's next cycle. Panics are recovered and logged.
// Multiple callbacks run in registration order. Nil callbacks are ignored.
//
// Example:
//
//	w, err := permitwatch.New(
//	    permitwatch.WithTarget(tgt),
//	    permitwatch.WithCycleCallback(func(r permitwatch.CycleResult) {
//	        if r.Booking != nil && r.Booking.Kind == permitwatch.Booked {
//	            fmt.Println("holding", r.Booking.Label)
//	        }
//	    }),
//	)
func WithCycleCallback(cb func(CycleResult)) Option {
	return func(cfg *watcherConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// withClock replaces time.Now for label ordering and cycle timestamps.
func withClock(now func() time.Time) Option {
	return func(cfg *watcherConfig) error {
		cfg.now = now
		return nil
	}
}

// withSleeper replaces the wait between cycles.
func withSleeper(s poller.Sleeper) Option {
	return func(cfg *watcherConfig) error {
		cfg.sleep = s
		return nil
	}
}
