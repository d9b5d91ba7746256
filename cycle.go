package permitwatch

import "time"

// Mode is what a target does on its next cycle.
type Mode string

const (
	// ModePolling fetches availability and notifies on new labels.
	ModePolling Mode = "polling"

	// ModeCooldown follows a successful booking. Nothing is fetched.
	ModeCooldown Mode = "cooldown"

	// ModeHoldExtension re-touches the current hold instead of fetching.
	ModeHoldExtension Mode = "hold_extension"
)

func (m Mode) String() string {
	return string(m)
}

// CycleResult describes one completed cycle of a target.
//
// Fields that do not apply to the cycle's mode are left zero. CycleResult is
// a snapshot: its slices are copies and may be kept by the receiver.
type CycleResult struct {
	// Target is the target's name.
	Target string

	// Cycle counts cycles since the target started, from 1.
	Cycle int

	// Mode is the mode the cycle ran in.
	Mode Mode

	// CheckedAt is when the cycle started.
	CheckedAt time.Time

	// Snapshot holds the labels fetched this cycle. Handles is always nil:
	// action handles only point into the page they were read from.
	Snapshot Snapshot
	Delta    Delta

	// Notified is true when a notification was handed to the notifier,
	// whether or not delivery succeeded.
	Notified bool

	FetchErr    error
	DeliveryErr error

	// Booking is set when a booking attempt ran.
	Booking *Outcome

	// HoldErr is set when a hold touch failed.
	HoldErr error

	// NextDelay is how long the target sleeps before its next cycle.
	NextDelay time.Duration

	// NextMode is the mode the target is in while it sleeps.
	NextMode Mode
}
