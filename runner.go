package permitwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// runner is the per-target state machine driven by a poller loop. It owns
// the target's Tracker, so it must only be called from one goroutine.
type runner struct {
	target    Target
	tracker   *Tracker
	notifier  Notifier
	assistant *BookingAssistant
	prefs     atomic.Pointer[BookingPreferences]
	logger    *slog.Logger
	callbacks []func(CycleResult)
	now       func() time.Time

	notifyTimeout time.Duration

	cycle       int
	mode        Mode
	holdTouches int

	// held are the labels booked during this run; they are not booked again.
	held LabelSet
}

func newRunner(t Target, n Notifier, logger *slog.Logger, callbacks []func(CycleResult), now func() time.Time) *runner {
	r := &runner{
		target:    t,
		tracker:   NewTracker(),
		notifier:  n,
		logger:    logger.With("target", t.name),
		callbacks: callbacks,
		now:       now,
		mode:      ModePolling,
		held:      NewLabelSet(),

		notifyTimeout: defaultNotifyTimeout,
	}
	r.tracker.now = now
	if t.booker != nil {
		r.assistant = NewBookingAssistant(t.booker)
	}
	r.setPreferences(t.Preferences())
	return r
}

// setPreferences replaces the booking preferences used from the next cycle.
func (r *runner) setPreferences(p BookingPreferences) {
	cp := BookingPreferences{
		Labels:   append([]Label(nil), p.Labels...),
		Quantity: p.Quantity,
	}
	r.prefs.Store(&cp)

	if qs, ok := r.target.booker.(QuantitySetter); ok {
		q := 0
		if cp.Enabled() {
			q = cp.Quantity
		}
		qs.SetQuantity(q)
	}
}

// RunCycle performs one cycle in the current mode and returns the delay
// before the next one.
func (r *runner) RunCycle(ctx context.Context) time.Duration {
	r.cycle++

	if r.mode == ModeCooldown {
		r.leaveCooldown()
	}

	res := CycleResult{
		Target:    r.target.name,
		Cycle:     r.cycle,
		Mode:      r.mode,
		CheckedAt: r.now(),
	}

	switch r.mode {
	case ModeHoldExtension:
		r.extendHold(ctx, &res)
	default:
		r.logger.Debug("running scraping loop", "cycle", r.cycle)
		r.poll(ctx, &res)
	}

	res.NextMode = r.mode
	for _, cb := range r.callbacks {
		invokeCallbackSafe(cb, res, r.logger)
	}
	return res.NextDelay
}

func (r *runner) leaveCooldown() {
	if interval, _, ok := r.target.HoldExtension(); ok {
		r.logger.Info("cooldown over, extending hold", "interval", interval.String())
		r.mode = ModeHoldExtension
		r.holdTouches = 0
		return
	}
	r.logger.Info("cooldown over, resuming polling")
	r.mode = ModePolling
}

func (r *runner) poll(ctx context.Context, res *CycleResult) {
	snap, err := r.fetch(ctx)
	if err != nil {
		res.FetchErr = err
		res.NextDelay = r.target.errorBackoff
		attrs := []any{"error", err.Error(), "backoff", r.target.errorBackoff.String()}
		var fe *FetchError
		if errors.As(err, &fe) {
			attrs = append(attrs, "stage", string(fe.Stage))
		}
		r.logger.Warn("fetch failed", attrs...)
		return
	}

	res.Snapshot = Snapshot{Labels: append([]Label(nil), snap.Labels...)}
	res.NextDelay = r.target.interval

	delta := r.tracker.Update(snap)
	res.Delta = delta

	if len(delta.Already) > 0 {
		r.logger.Debug("skipping already notified labels", "labels", labelStrings(delta.Already))
	}

	if n := ComposeNotification(r.target.name, delta.New); n != nil {
		res.Notified = true
		if err := r.send(ctx, n.Subject, n.Body); err != nil {
			res.DeliveryErr = err
			r.logger.Error("notification failed", "error", err.Error(), "labels", labelStrings(n.Labels))
		} else {
			r.logger.Info("notification sent", "labels", labelStrings(n.Labels))
		}
	} else {
		r.logger.Debug("no new availability", "available", snap.Len())
	}

	r.book(ctx, snap, res)
}

func (r *runner) book(ctx context.Context, snap Snapshot, res *CycleResult) {
	if r.assistant == nil {
		return
	}
	prefs := *r.prefs.Load()
	prefs.Labels = r.unheld(prefs.Labels)
	if !prefs.Enabled() {
		return
	}

	out := r.assistant.TryBook(ctx, snap, prefs)
	if out.Kind == NoneAvailable {
		return
	}
	res.Booking = &out

	switch out.Kind {
	case Booked:
		r.held[out.Label] = struct{}{}
		r.logger.Info("booked slot, hold placed",
			"label", out.Label.String(),
			"quantity", prefs.Quantity,
			"cooldown", r.target.cooldown.String(),
		)
		subject := fmt.Sprintf("[%s] Booked %s", r.target.name, out.Label)
		body := fmt.Sprintf("%s\n\nA hold was placed on %s. Complete checkout before it expires.\n", subject, out.Label)
		if err := r.send(ctx, subject, body); err != nil {
			r.logger.Error("booking notification failed", "error", err.Error())
		}
		r.mode = ModeCooldown
		res.NextDelay = r.target.cooldown

	case Failed:
		attrs := []any{
			"label", out.Label.String(),
			"error", out.Err.Error(),
			"pause", r.target.failurePause.String(),
		}
		var se *BookingStepError
		if errors.As(out.Err, &se) {
			attrs = append(attrs, "step", string(se.Step))
		}
		r.logger.Warn("booking failed", attrs...)
		res.NextDelay = r.target.failurePause
	}
}

// unheld returns the preferred labels not already booked this run.
func (r *runner) unheld(labels []Label) []Label {
	var out []Label
	for _, l := range labels {
		if !r.held.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

func (r *runner) extendHold(ctx context.Context, res *CycleResult) {
	interval, limit, _ := r.target.HoldExtension()

	if err := r.assistant.ExtendHold(ctx); err != nil {
		res.HoldErr = err
		res.NextDelay = r.target.interval
		r.mode = ModePolling
		r.logger.Warn("hold extension failed, resuming polling", "error", err.Error(), "touches", r.holdTouches)
		return
	}

	r.holdTouches++
	if limit > 0 && r.holdTouches >= limit {
		r.logger.Info("hold extension limit reached, resuming polling", "touches", r.holdTouches)
		r.mode = ModePolling
		res.NextDelay = r.target.interval
		return
	}

	r.logger.Debug("hold extended", "touches", r.holdTouches)
	res.NextDelay = interval
}

// fetch calls the source with panic recovery and normalises its error to a
// *FetchError carrying the target name.
func (r *runner) fetch(ctx context.Context) (snap Snapshot, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			correlationID := uuid.NewString()
			r.logger.Error("source panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
			snap = Snapshot{}
			err = &FetchError{
				Target: r.target.name,
				Stage:  StagePanic,
				Err:    fmt.Errorf("source panic (correlation_id: %s)", correlationID),
			}
		}
	}()

	snap, err = r.target.source.Fetch(ctx)
	if err == nil {
		return snap, nil
	}
	return Snapshot{}, r.fetchError(err)
}

func (r *runner) fetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		cp := *fe
		if cp.Target == "" {
			cp.Target = r.target.name
		}
		return &cp
	}

	stage := StageRequest
	if errors.Is(err, context.DeadlineExceeded) {
		stage = StageTimeout
	}
	return &FetchError{Target: r.target.name, Stage: stage, Err: err}
}

// send delivers a message within the notify timeout, making sure any failure
// is a *DeliveryError.
func (r *runner) send(ctx context.Context, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, r.notifyTimeout)
	defer cancel()

	err := r.notifier.Send(ctx, subject, body)
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &DeliveryError{Err: err}
}

func labelStrings(labels []Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

// invokeCallbackSafe calls a cycle callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(CycleResult), result CycleResult, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle callback panicked",
				"panic", r,
				"cycle", result.Cycle,
			)
		}
	}()
	cb(result)
}
