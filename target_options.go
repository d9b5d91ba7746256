package permitwatch

import (
	"errors"
	"time"
)

// targetConfig holds mutable state during target construction.
type targetConfig struct {
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

// TargetOption configures a [Target] during construction.
//
// Built-in options: [WithInterval], [WithErrorBackoff], [WithBooking],
// [WithCooldown], [WithFailurePause], [WithHoldExtension].
type TargetOption func(*targetConfig) error

// WithInterval sets the delay between successful polls. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithErrorBackoff sets the delay after a failed poll. Defaults to 1 minute.
//
// Returns an error if the duration is zero or negative.
func WithErrorBackoff(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("error backoff must be positive")
		}
		cfg.errorBackoff = d
		return nil
	}
}

// WithBooking enables automated booking through b for the labels in prefs.
//
// Example:
//
//	tgt, err := permitwatch.NewTarget("permit", src,
//	    permitwatch.WithBooking(src, permitwatch.BookingPreferences{
//	        Labels:   []permitwatch.Label{"07/16", "07/17"},
//	        Quantity: 2,
//	    }),
//	)
//
// Returns an error if b is nil or the quantity is negative.
func WithBooking(b Booker, prefs BookingPreferences) TargetOption {
	return func(cfg *targetConfig) error {
		if b == nil {
			return errors.New("booker cannot be nil")
		}
		if prefs.Quantity < 0 {
			return errors.New("booking quantity cannot be negative")
		}
		cfg.booker = b
		cfg.prefs = BookingPreferences{
			Labels:   append([]Label(nil), prefs.Labels...),
			Quantity: prefs.Quantity,
		}
		return nil
	}
}

// WithCooldown sets how long polling pauses after a successful booking.
// Defaults to 30 minutes.
func WithCooldown(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("cooldown must be positive")
		}
		cfg.cooldown = d
		return nil
	}
}

// WithFailurePause sets how long polling pauses after a failed booking.
// Defaults to 30 minutes.
func WithFailurePause(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("failure pause must be positive")
		}
		cfg.failurePause = d
		return nil
	}
}

// WithHoldExtension turns on hold-extension mode: once the cooldown after a
// booking ends, the hold is re-touched every interval instead of polling.
// limit caps the number of touches; 0 keeps going until a touch fails.
func WithHoldExtension(interval time.Duration, limit int) TargetOption {
	return func(cfg *targetConfig) error {
		if interval <= 0 {
			return errors.New("hold extension interval must be positive")
		}
		if limit < 0 {
			return errors.New("hold extension count cannot be negative")
		}
		cfg.holdInterval = interval
		cfg.holdMax = limit
		cfg.holdEnabled = true
		return nil
	}
}
