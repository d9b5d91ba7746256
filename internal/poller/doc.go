// Package poller runs the per-target polling loops for permitwatch.
//
// Each target gets one [Loop], which repeatedly calls a [Cycle] and sleeps
// for the delay the cycle returns. The loop knows nothing about fetching or
// notifying: the cycle decides between the poll interval, the error backoff,
// and the booking pauses.
//
// The main components are:
//
//   - [Loop]: goroutine lifecycle, panic recovery and interruptible sleep
//   - [Cycle]: the work repeated by a loop
//   - [Sleeper]: the wait between cycles, replaceable in tests
//
// Users of the permitwatch library should not need to interact with this
// package directly.
package poller
