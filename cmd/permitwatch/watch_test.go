package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/config"
)

type nopBooker struct{}

func (nopBooker) SelectSlot(context.Context, permitwatch.ActionHandle) error { return nil }
func (nopBooker) Confirm(context.Context) error { return nil }
func (nopBooker) AddToHold(context.Context, int) error { return nil }
func (nopBooker) ExtendHold(context.Context) error { return nil }

var emptySource = permitwatch.SourceFunc(func(context.Context) (permitwatch.Snapshot, error) {
	return permitwatch.Snapshot{}, nil
})

func TestApplyPreferences(t *testing.T) {
	permit, err := permitwatch.NewTarget("permit", emptySource,
		permitwatch.WithBooking(nopBooker{}, permitwatch.BookingPreferences{
			Labels: []permitwatch.Label{"07/16"}, Quantity: 1,
		}),
	)
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	ferry, err := permitwatch.NewTarget("ferry", emptySource)
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	w, err := permitwatch.New(permitwatch.WithTargets(permit, ferry), permitwatch.WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg := &config.Config{Targets: []config.TargetConfig{
		{Name: "permit", Booking: config.BookingConfig{Enabled: true, PreferredLabels: []string{"07/18", "07/19"}, Quantity: 3}},
		{Name: "ferry", Booking: config.BookingConfig{Enabled: true, PreferredLabels: []string{"9:15 AM"}}},
		{Name: "gone", Booking: config.BookingConfig{Enabled: true, PreferredLabels: []string{"07/20"}}},
	}}

	applyPreferences(w, cfg, logger)

	out := logs.String()
	if strings.Count(out, "booking preferences updated") != 1 {
		t.Errorf("want exactly one update logged\nGot:\n%s", out)
	}
	if !strings.Contains(out, "target=permit") || !strings.Contains(out, "quantity=3") {
		t.Errorf("update log missing permit details\nGot:\n%s", out)
	}
	if strings.Contains(out, "not applied") {
		t.Errorf("non-booking targets should be skipped silently\nGot:\n%s", out)
	}
}

func TestNewLogger_FlagOverridesConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "error")
	logger.Debug("visible")
	if !strings.Contains(buf.String(), `"msg":"visible"`) {
		t.Errorf("debug line missing: %s", buf.String())
	}

	buf.Reset()
	logger = newLogger(&buf, "", "error")
	logger.Warn("hidden")
	if buf.Len() != 0 {
		t.Errorf("warn line logged at error level: %s", buf.String())
	}

	_ = newLogger(io.Discard, "", "")
}
