package permitwatch

import (
	"context"
	"errors"
	"fmt"
)

// BookingStep names one stage of an automated reservation attempt.
type BookingStep string

const (
	StepSelectSlot BookingStep = "select_slot"
	StepConfirm    BookingStep = "confirm"
	StepAddToHold  BookingStep = "add_to_hold"
	StepExtendHold BookingStep = "extend_hold"
)

// Booker performs the page interactions behind a reservation. The browser
// source implements it against the same session it reads availability from.
type Booker interface {
	SelectSlot(ctx context.Context, h ActionHandle) error
	Confirm(ctx context.Context) error
	AddToHold(ctx context.Context, quantity int) error
	ExtendHold(ctx context.Context) error
}

// BookingStepError reports the step at which a booking attempt stopped.
type BookingStepError struct {
	Step  BookingStep
	Label Label
	Err   error
}

func (e *BookingStepError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("booking step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("booking %s at step %s: %v", e.Label, e.Step, e.Err)
}

func (e *BookingStepError) Unwrap() error {
	return e.Err
}

// ErrNoHandle is returned when a preferred label is available but the source
// gave no way to act on it.
var ErrNoHandle = errors.New("no action handle for label")

// OutcomeKind classifies the result of [BookingAssistant.TryBook].
type OutcomeKind int

const (
	NoneAvailable OutcomeKind = iota
	Booked
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoneAvailable:
		return "none_available"
	case Booked:
		return "booked"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one booking attempt. Label is set for Booked and
// Failed; Err is a [*BookingStepError] for Failed.
type Outcome struct {
	Kind  OutcomeKind
	Label Label
	Err   error
}

// BookingPreferences lists the labels worth booking, most wanted first, and
// the quantity to put on hold.
type BookingPreferences struct {
	Labels   []Label
	Quantity int
}

// QuantitySetter is implemented by bookers whose source only reports slots
// with room for the quantity being booked. The booking quantity is pushed to
// it when the target starts and whenever its preferences change; zero means
// booking is off.
type QuantitySetter interface {
	SetQuantity(n int)
}

// Enabled reports whether there is anything to book.
func (p BookingPreferences) Enabled() bool {
	return len(p.Labels) > 0
}

// SelectPreferred returns the first preferred label present in snap.
// Presence is judged on labels alone; handles are checked when booking.
func SelectPreferred(snap Snapshot, preferred []Label) (Label, bool) {
	set := snap.Set()
	for _, l := range preferred {
		if set.Has(l) {
			return l, true
		}
	}
	return "", false
}

// BookingAssistant drives a [Booker] through select, confirm and hold.
// Attempts are best effort: nothing is rolled back if a later step fails.
type BookingAssistant struct {
	booker Booker
}

// NewBookingAssistant returns an assistant acting through b.
func NewBookingAssistant(b Booker) *BookingAssistant {
	return &BookingAssistant{booker: b}
}

// TryBook attempts to hold the first of prefs.Labels present in snap.
//
// With no preferred label present it returns NoneAvailable and makes no
// calls on the booker. A failing step is not retried.
func (a *BookingAssistant) TryBook(ctx context.Context, snap Snapshot, prefs BookingPreferences) Outcome {
	label, ok := SelectPreferred(snap, prefs.Labels)
	if !ok {
		return Outcome{Kind: NoneAvailable}
	}

	fail := func(step BookingStep, err error) Outcome {
		return Outcome{
			Kind:  Failed,
			Label: label,
			Err:   &BookingStepError{Step: step, Label: label, Err: err},
		}
	}

	handle, ok := snap.Handle(label)
	if !ok {
		return fail(StepSelectSlot, ErrNoHandle)
	}
	if err := a.booker.SelectSlot(ctx, handle); err != nil {
		return fail(StepSelectSlot, err)
	}
	if err := a.booker.Confirm(ctx); err != nil {
		return fail(StepConfirm, err)
	}

	qty := prefs.Quantity
	if qty < 1 {
		qty = 1
	}
	if err := a.booker.AddToHold(ctx, qty); err != nil {
		return fail(StepAddToHold, err)
	}

	return Outcome{Kind: Booked, Label: label}
}

// ExtendHold re-touches the current hold so it does not expire.
func (a *BookingAssistant) ExtendHold(ctx context.Context) error {
	if err := a.booker.ExtendHold(ctx); err != nil {
		return &BookingStepError{Step: StepExtendHold, Err: err}
	}
	return nil
}
