package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cycle is one unit of work repeated by a [Loop]. RunCycle returns how long
// to sleep before the next call.
type Cycle interface {
	RunCycle(ctx context.Context) time.Duration
}

// CycleFunc adapts a plain function to the [Cycle] interface.
type CycleFunc func(ctx context.Context) time.Duration

// RunCycle calls f(ctx).
func (f CycleFunc) RunCycle(ctx context.Context) time.Duration {
	return f(ctx)
}

// Sleeper waits for d or until ctx is done, whichever comes first. It
// returns ctx.Err() when interrupted.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default [Sleeper], backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Loop runs a [Cycle] repeatedly in its own goroutine, sleeping between runs
// for whatever the cycle asked for.
//
// Cancelling the context (or calling [Loop.Stop]) interrupts the sleep but
// never a cycle that is already running: the cycle sees a context that is
// not cancelled and is expected to bound its own waits. A panicking cycle is
// recovered, logged with a correlation ID, and followed by panicDelay.
//
// All lifecycle methods are safe for concurrent use.
type Loop struct {
	name       string
	cycle      Cycle
	panicDelay time.Duration
	sleep      Sleeper
	logger     *slog.Logger

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	runs      int
}

// NewLoop creates a [Loop] named name. A nil sleep uses [Sleep].
//
// The loop must be started with [Loop.Start] and stopped with [Loop.Stop].
func NewLoop(name string, cycle Cycle, panicDelay time.Duration, logger *slog.Logger, sleep Sleeper) *Loop {
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		name:       name,
		cycle:      cycle,
		panicDelay: panicDelay,
		sleep:      sleep,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start runs the first cycle immediately in a background goroutine and
// keeps going until ctx is cancelled or [Loop.Stop] is called.
//
// Start is idempotent. If Stop was called before Start, Start is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer l.closeOnce.Do(func() { close(l.done) })

		// cycles finish even when shutdown arrives mid-flight
		cycleCtx := context.WithoutCancel(loopCtx)

		for loopCtx.Err() == nil {
			delay := l.runSafe(cycleCtx)
			if err := l.sleep(loopCtx, delay); err != nil {
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to return.
//
// Stop is idempotent and safe to call before Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		}
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.closeOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Runs returns the number of cycles started so far.
func (l *Loop) Runs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs
}

// runSafe calls the cycle with panic recovery. A panic is logged with its
// stack under a fresh correlation ID and turns into panicDelay.
func (l *Loop) runSafe(ctx context.Context) (delay time.Duration) {
	l.mu.Lock()
	l.runs++
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			l.logger.Error("cycle panic",
				"loop", l.name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			delay = l.panicDelay
		}
	}()
	return l.cycle.RunCycle(ctx)
}
