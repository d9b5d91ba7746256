package permitwatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNew_Valid(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))

	w, err := New(WithTarget(tgt))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(w.Targets()) != 1 {
		t.Errorf("Targets() len = %d, want 1", len(w.Targets()))
	}
}

func TestNew_NoTargets(t *testing.T) {
	if _, err := New(); err == nil {
		t.Error("New() with no targets should fail")
	}
}

func TestNew_DuplicateTargetNames(t *testing.T) {
	a := mustTarget(t, "permit", snapshots(NewSnapshot()))
	b := mustTarget(t, "permit", snapshots(NewSnapshot()))

	_, err := New(WithTargets(a, b))
	if err == nil {
		t.Fatal("New() with duplicate names should fail")
	}
	if !strings.Contains(err.Error(), `"permit"`) {
		t.Errorf("error = %q, want it to name the duplicate", err)
	}
}

func TestNew_ZeroTarget(t *testing.T) {
	if _, err := New(WithTarget(Target{name: "bare"})); err == nil {
		t.Error("New() should reject a target not built with NewTarget")
	}
}

func TestWithLogger_Nil(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))
	if _, err := New(WithTarget(tgt), WithLogger(nil)); err == nil {
		t.Error("WithLogger(nil) should fail")
	}
}

func TestWithNotifier_Nil(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))
	if _, err := New(WithTarget(tgt), WithNotifier(nil)); err == nil {
		t.Error("WithNotifier(nil) should fail")
	}
}

func TestWithNotifyTimeout(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))

	if _, err := New(WithTarget(tgt), WithNotifyTimeout(0)); err == nil {
		t.Error("New() with zero notify timeout succeeded, want error")
	}

	w, err := New(WithTarget(tgt), WithNotifyTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := w.runners["permit"].notifyTimeout; got != 5*time.Second {
		t.Errorf("notifyTimeout = %v, want 5s", got)
	}

	w, err = New(WithTarget(tgt))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := w.runners["permit"].notifyTimeout; got != defaultNotifyTimeout {
		t.Errorf("notifyTimeout = %v, want default %v", got, defaultNotifyTimeout)
	}
}

func TestNew_DefaultsToLogNotifier(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))
	w, err := New(WithTarget(tgt), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := w.notifier.(LogNotifier); !ok {
		t.Errorf("notifier = %T, want LogNotifier", w.notifier)
	}
}

func TestWithCycleCallback_NilIsSafe(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))
	w, err := New(WithTarget(tgt), WithCycleCallback(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(w.runners["permit"].callbacks) != 0 {
		t.Error("nil callback was registered")
	}
}

func TestTargets_Immutability(t *testing.T) {
	tgt := mustTarget(t, "permit", snapshots(NewSnapshot()))
	w, err := New(WithTarget(tgt))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := w.Targets()
	got[0] = Target{}
	if w.Targets()[0].Name() != "permit" {
		t.Error("modifying Targets() result affected the watcher")
	}
}

// blockingSleeper never lets a loop run a second cycle; it waits for
// shutdown instead.
func blockingSleeper(ctx context.Context, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_PollsEveryTargetAndClosesSources(t *testing.T) {
	permit := snapshots(NewSnapshot("07/16"))
	ferry := snapshots(NewSnapshot("3:30 PM"))
	n := &recordingNotifier{}

	var mu sync.Mutex
	seen := map[string]int{}
	both := make(chan struct{})
	var once sync.Once

	w, err := New(
		WithTargets(
			mustTarget(t, "permit", permit),
			mustTarget(t, "ferry", ferry),
		),
		WithNotifier(n),
		WithLogger(testLogger()),
		withClock(func() time.Time { return julyRef }),
		withSleeper(blockingSleeper),
		WithCycleCallback(func(r CycleResult) {
			mu.Lock()
			defer mu.Unlock()
			seen[r.Target]++
			if len(seen) == 2 {
				once.Do(func() { close(both) })
			}
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-both:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for both targets to poll")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if len(n.Subjects()) != 2 {
		t.Errorf("notifications = %v, want one per target", n.Subjects())
	}
	if !permit.closed || !ferry.closed {
		t.Error("sources were not closed")
	}
}

func TestRun_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	src := snapshots(NewSnapshot())
	w, err := New(WithTarget(mustTarget(t, "permit", src)), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if src.Calls() != 0 {
		t.Errorf("source calls = %d, want 0", src.Calls())
	}
}

func TestRun_Twice(t *testing.T) {
	w, err := New(WithTarget(mustTarget(t, "permit", snapshots(NewSnapshot()))), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	if err := w.Run(ctx); err == nil {
		t.Error("second Run() should fail")
	}
}

// TestRun_InFlightCycleFinishes cancels while a fetch is blocked and checks
// that the fetch still sees a live context and its result is processed.
func TestRun_InFlightCycleFinishes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var fetchCtxErr error

	src := SourceFunc(func(ctx context.Context) (Snapshot, error) {
		close(entered)
		<-release
		fetchCtxErr = ctx.Err()
		return NewSnapshot("07/16"), nil
	})
	n := &recordingNotifier{}

	w, err := New(
		WithTarget(mustTarget(t, "permit", src)),
		WithNotifier(n),
		WithLogger(testLogger()),
		withSleeper(blockingSleeper),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-entered
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if fetchCtxErr != nil {
		t.Errorf("in-flight fetch saw ctx.Err() = %v, want nil", fetchCtxErr)
	}
	if len(n.Subjects()) != 1 {
		t.Errorf("notifications = %d, want 1", len(n.Subjects()))
	}
}

func TestUpdatePreferences(t *testing.T) {
	b := &fakeBooker{}
	w, err := New(
		WithTargets(
			bookingTarget(t, snapshots(NewSnapshot()), b),
			mustTarget(t, "ferry", snapshots(NewSnapshot())),
		),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := w.UpdatePreferences("permit", BookingPreferences{Labels: []Label{"08/01"}, Quantity: 3}); err != nil {
		t.Fatalf("UpdatePreferences() error = %v", err)
	}
	got := *w.runners["permit"].prefs.Load()
	if len(got.Labels) != 1 || got.Labels[0] != "08/01" || got.Quantity != 3 {
		t.Errorf("preferences = %+v", got)
	}

	if err := w.UpdatePreferences("ferry", BookingPreferences{Labels: []Label{"3:30 PM"}}); err == nil {
		t.Error("UpdatePreferences() on a target without booker should fail")
	}
	if err := w.UpdatePreferences("nope", BookingPreferences{}); err == nil {
		t.Error("UpdatePreferences() on unknown target should fail")
	}
}

func TestLogNotifier_NilLogger(t *testing.T) {
	if err := (LogNotifier{}).Send(context.Background(), "s", "b"); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

func TestErrorTypes_Unwrap(t *testing.T) {
	cause := errors.New("cause")

	if !errors.Is(&FetchError{Stage: StageParse, Err: cause}, cause) {
		t.Error("FetchError does not unwrap")
	}
	if !errors.Is(&DeliveryError{Recipient: "me@example.com", Err: cause}, cause) {
		t.Error("DeliveryError does not unwrap")
	}
	if !errors.Is(&BookingStepError{Step: StepConfirm, Err: cause}, cause) {
		t.Error("BookingStepError does not unwrap")
	}

	fe := &FetchError{Target: "ferry", Stage: StageStatus, Err: cause}
	if got := fe.Error(); got != "fetch ferry failed (status): cause" {
		t.Errorf("FetchError.Error() = %q", got)
	}
}
