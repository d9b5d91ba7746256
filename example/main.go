package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/source/htmlpage"
	"github.com/jpalmerr/permitwatch/source/httpapi"
)

func main() {
	// start mock reservation site (see mock_server.go)
	go StartMockFerryServer(":9999")
	time.Sleep(100 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ferrySrc, err := httpapi.New(httpapi.Options{
		URL: "http://localhost:9999/api/sailings",
		Extract: permitwatch.JSONListExtractor(permitwatch.JSONListSpec{
			ItemsPath:  "sailings",
			LabelField: "departs",
			CountField: "seats",
		}),
	})
	if err != nil {
		slog.Error("failed to create ferry source", "error", err)
		os.Exit(1)
	}
	ferry, err := permitwatch.NewTarget("ferry", ferrySrc,
		permitwatch.WithInterval(5*time.Second),
		permitwatch.WithErrorBackoff(30*time.Second),
	)
	if err != nil {
		slog.Error("failed to create ferry target", "error", err)
		os.Exit(1)
	}

	campSrc, err := htmlpage.New(htmlpage.Options{
		URL:           "http://localhost:9999/campground",
		RowSelector:   "tr.site",
		LabelSelector: "td.date",
		CountSelector: "td.status",
		RequireRows:   true,
	})
	if err != nil {
		slog.Error("failed to create campground source", "error", err)
		os.Exit(1)
	}
	camp, err := permitwatch.NewTarget("campground", campSrc, permitwatch.WithInterval(10*time.Second))
	if err != nil {
		slog.Error("failed to create campground target", "error", err)
		os.Exit(1)
	}

	// no notifier configured, so alerts go to the log
	w, err := permitwatch.New(
		permitwatch.WithTargets(ferry, camp),
		permitwatch.WithLogger(logger),
		permitwatch.WithCycleCallback(func(r permitwatch.CycleResult) {
			if r.Notified {
				fmt.Printf("  >> %s: new %v\n", r.Target, r.Delta.New)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  permitwatch demo")
	fmt.Println()
	fmt.Println("  Targets:")
	fmt.Println("    ferry       JSON API, every 5s")
	fmt.Println("    campground  HTML page, every 10s")
	fmt.Println()
	fmt.Println("  A random slot opens or sells out every 20-60s.")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		slog.Error("watcher error", "error", err)
		os.Exit(1)
	}
}
