package permitwatch

import (
	"errors"
	"time"
)

const (
	defaultInterval              = 10 * time.Second
	defaultErrorBackoff          = time.Minute
	defaultCooldown              = 30 * time.Minute
	defaultFailurePause          = 30 * time.Minute
	defaultHoldExtensionInterval = 10 * time.Minute
	defaultNotifyTimeout         = time.Minute
)

// Target is one reservation site to watch.
//
// Target is immutable after creation via [NewTarget]. Booking preferences
// given here are only the starting point: [Watcher.UpdatePreferences] can
// replace them while the target is running.
type Target struct {
	name         string
	source       Source
	interval     time.Duration
	errorBackoff time.Duration

	booker       Booker
	prefs        BookingPreferences
	cooldown     time.Duration
	failurePause time.Duration
	holdInterval time.Duration
	holdMax      int
	holdEnabled  bool
}

// Name returns the target's name, used in logs and notification subjects.
func (t Target) Name() string {
	return t.name
}

// Source returns the availability source polled for this target.
func (t Target) Source() Source {
	return t.source
}

// Interval returns the delay between successful polls.
func (t Target) Interval() time.Duration {
	return t.interval
}

// ErrorBackoff returns the delay after a failed poll. It does not grow with
// repeated failures.
func (t Target) ErrorBackoff() time.Duration {
	return t.errorBackoff
}

// Booker returns the booker, or nil when the target only notifies.
func (t Target) Booker() Booker {
	return t.booker
}

// Preferences returns a copy of the initial booking preferences.
func (t Target) Preferences() BookingPreferences {
	return BookingPreferences{
		Labels:   append([]Label(nil), t.prefs.Labels...),
		Quantity: t.prefs.Quantity,
	}
}

// Cooldown returns how long polling pauses after a successful booking.
func (t Target) Cooldown() time.Duration {
	return t.cooldown
}

// FailurePause returns how long polling pauses after a failed booking.
func (t Target) FailurePause() time.Duration {
	return t.failurePause
}

// HoldExtension returns the re-touch interval and the maximum number of
// touches (0 means until one fails). ok is false when hold extension is off.
func (t Target) HoldExtension() (interval time.Duration, limit int, ok bool) {
	return t.holdInterval, t.holdMax, t.holdEnabled
}

// NewTarget creates a [Target] polling src.
//
// Example:
//
//	tgt, err := permitwatch.NewTarget("ferry", src,
//	    permitwatch.WithInterval(30*time.Second),
//	    permitwatch.WithErrorBackoff(2*time.Minute),
//	)
//
// Returns an error if the name is empty, src is nil, or an option fails.
func NewTarget(name string, src Source, opts ...TargetOption) (Target, error) {
	if name == "" {
		return Target{}, errors.New("target name cannot be empty")
	}
	if src == nil {
		return Target{}, errors.New("target source cannot be nil")
	}

	cfg := &targetConfig{
		interval:     defaultInterval,
		errorBackoff: defaultErrorBackoff,
		cooldown:     defaultCooldown,
		failurePause: defaultFailurePause,
		holdInterval: defaultHoldExtensionInterval,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Target{}, err
		}
	}

	if cfg.prefs.Enabled() && cfg.booker == nil {
		return Target{}, errors.New("booking preferences require a booker")
	}

	return Target{
		name:         name,
		source:       src,
		interval:     cfg.interval,
		errorBackoff: cfg.errorBackoff,
		booker:       cfg.booker,
		prefs:        cfg.prefs,
		cooldown:     cfg.cooldown,
		failurePause: cfg.failurePause,
		holdInterval: cfg.holdInterval,
		holdMax:      cfg.holdMax,
		holdEnabled:  cfg.holdEnabled,
	}, nil
}
