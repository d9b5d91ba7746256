// Package permitwatch watches reservation sites for newly opened slots and
// sends one alert per slot the first time it appears.
//
// # Quick Start
//
// Wrap an availability [Source] in a [Target], create a [Watcher], and run
// it until a signal arrives:
//
//	src := permitwatch.SourceFunc(func(ctx context.Context) (permitwatch.Snapshot, error) {
//	    return permitwatch.NewSnapshot("07/16", "07/17"), nil
//	})
//
//	tgt, err := permitwatch.NewTarget("permit", src,
//	    permitwatch.WithInterval(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := permitwatch.New(
//	    permitwatch.WithTarget(tgt),
//	    permitwatch.WithNotifier(notifier),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	w.Run(ctx)
//
// # Deduplication
//
// Every target has a [Tracker] holding the labels it has already alerted
// on. Each poll is split into labels seen before and labels that are new,
// and only a non-empty set of new labels produces a notification. The new
// labels are recorded before the notifier is called, so a failed email is
// lost rather than repeated. The set lives in memory only: restarting the
// process alerts again on everything still open.
//
// # Polling
//
// A target is polled at its interval after a successful fetch and at its
// error backoff after a failed one. The backoff is flat. Fetch errors,
// source panics, and notifier failures are logged and never stop the loop.
//
// # Booking
//
// A target given [WithBooking] also tries to place a hold on the first of
// its preferred labels that is open. After a hold is placed the target
// stops polling for the cooldown and then, with [WithHoldExtension],
// re-touches the hold at a fixed interval until that fails. A failed
// attempt pauses the target and then polling resumes. Booking is best
// effort and never affects which alerts are sent.
//
// # Sources
//
// Ready-made sources live in subpackages: source/browser drives a headless
// Chrome session through a reservation page, source/httpapi reads a JSON
// availability API, and source/htmlpage scrapes a server-rendered schedule.
// [JSONListExtractor] and [RegexExtractor] turn response bodies into labels.
package permitwatch
