package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/notify/email"
	"github.com/jpalmerr/permitwatch/source/browser"
	"github.com/jpalmerr/permitwatch/source/htmlpage"
	"github.com/jpalmerr/permitwatch/source/httpapi"
)

// BuildTargets converts parsed configuration into SDK Target objects.
//
// If only is non-empty, just the named targets are built, in config order.
// An unknown name is an error. On error, sources already built are closed.
func BuildTargets(cfg *Config, only []string) ([]permitwatch.Target, error) {
	selected, err := selectTargets(cfg, only)
	if err != nil {
		return nil, err
	}

	var targets []permitwatch.Target
	for _, tc := range selected {
		t, err := buildTarget(tc)
		if err != nil {
			CloseTargets(targets)
			return nil, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// CloseTargets closes every target source that holds resources.
func CloseTargets(targets []permitwatch.Target) {
	for _, t := range targets {
		if c, ok := t.Source().(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

func selectTargets(cfg *Config, only []string) ([]TargetConfig, error) {
	if len(only) == 0 {
		return cfg.Targets, nil
	}

	want := make(map[string]bool, len(only))
	for _, name := range only {
		want[name] = true
	}

	var selected []TargetConfig
	for _, tc := range cfg.Targets {
		if want[tc.Name] {
			selected = append(selected, tc)
			delete(want, tc.Name)
		}
	}
	if len(want) > 0 {
		var missing []string
		for _, name := range only {
			if want[name] {
				missing = append(missing, name)
			}
		}
		return nil, fmt.Errorf("unknown target(s): %s", strings.Join(missing, ", "))
	}
	return selected, nil
}

func buildTarget(tc TargetConfig) (permitwatch.Target, error) {
	var opts []permitwatch.TargetOption

	if tc.Interval != 0 {
		opts = append(opts, permitwatch.WithInterval(tc.Interval.Duration()))
	}
	if tc.ErrorBackoff != 0 {
		opts = append(opts, permitwatch.WithErrorBackoff(tc.ErrorBackoff.Duration()))
	}

	var src permitwatch.Source
	switch tc.Type {
	case TypeBrowser:
		bs, err := browser.New(browserOptions(tc))
		if err != nil {
			return permitwatch.Target{}, err
		}
		src = bs
		if tc.Booking.Enabled {
			opts = append(opts, bookingOptions(tc.Booking, bs, tc.Browser.HoldURL != "")...)
		}
	default:
		s, err := BuildSource(tc)
		if err != nil {
			return permitwatch.Target{}, err
		}
		src = s
	}

	t, err := permitwatch.NewTarget(tc.Name, src, opts...)
	if err != nil {
		if c, ok := src.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return permitwatch.Target{}, err
	}
	return t, nil
}

func bookingOptions(bc BookingConfig, b permitwatch.Booker, withHold bool) []permitwatch.TargetOption {
	opts := []permitwatch.TargetOption{
		permitwatch.WithBooking(b, Preferences(bc)),
		permitwatch.WithCooldown(bc.Cooldown.Duration()),
		permitwatch.WithFailurePause(bc.FailurePause.Duration()),
	}
	if withHold {
		opts = append(opts, permitwatch.WithHoldExtension(bc.HoldExtensionInterval.Duration(), bc.HoldExtensions))
	}
	return opts
}

// Preferences returns the booking preferences in bc. Disabled booking yields
// empty preferences.
func Preferences(bc BookingConfig) permitwatch.BookingPreferences {
	if !bc.Enabled {
		return permitwatch.BookingPreferences{}
	}
	labels := make([]permitwatch.Label, len(bc.PreferredLabels))
	for i, l := range bc.PreferredLabels {
		labels[i] = permitwatch.Label(l)
	}
	return permitwatch.BookingPreferences{Labels: labels, Quantity: bc.Quantity}
}

// BuildSource builds the availability source for tc without booking
// support. It is used on its own by one-shot checks.
func BuildSource(tc TargetConfig) (permitwatch.Source, error) {
	switch tc.Type {
	case TypeBrowser:
		return browser.New(browserOptions(tc))
	case TypeAPI:
		return buildAPISource(*tc.API)
	case TypeHTML:
		h := tc.HTML
		return htmlpage.New(htmlpage.Options{
			URL:               h.URL,
			RowSelector:       h.RowSelector,
			LabelSelector:     h.LabelSelector,
			AvailableSelector: h.AvailableSelector,
			AvailableText:     h.AvailableText,
			CountSelector:     h.CountSelector,
			MinCount:          h.MinCount,
			RequireRows:       h.RequireRows,
			Headers:           h.Headers,
			Timeout:           h.Timeout.Duration(),
		})
	default:
		return nil, fmt.Errorf("unknown target type %q", tc.Type)
	}
}

func browserOptions(tc TargetConfig) browser.Options {
	b := tc.Browser
	headless := b.Headless == nil || *b.Headless

	return browser.Options{
		URL:               b.URL,
		DivisionSelector:  b.DivisionSelector,
		Division:          b.Division,
		GroupDropdown:     b.GroupDropdown,
		GroupIncrement:    b.GroupIncrement,
		GroupSize:         b.GroupSize,
		TableSelector:     b.TableSelector,
		WaitTimeout:       b.WaitTimeout.Duration(),
		CellXPath:         b.CellXPath,
		FirstColumn:       b.FirstColumn,
		Days:              b.Days,
		MinCount:          b.MinCount,
		Timezone:          b.Timezone,
		LabelLayout:       b.LabelLayout,
		BookSelector:      b.BookSelector,
		QuantitySelector:  b.QuantitySelector,
		AddToHoldSelector: b.AddToHoldSelector,
		HoldURL:           b.HoldURL,
		ExtendSelector:    b.ExtendSelector,
		Headless:          headless,
		ExecPath:          b.ExecPath,
		ActionTimeout:     b.ActionTimeout.Duration(),
	}
}

func buildAPISource(a APIConfig) (*httpapi.Source, error) {
	var extract permitwatch.LabelExtractor
	if a.Regex != "" {
		re, err := permitwatch.RegexExtractor(a.Regex)
		if err != nil {
			return nil, err
		}
		extract = re
	} else {
		var loc *time.Location
		if a.Timezone != "" {
			l, err := time.LoadLocation(a.Timezone)
			if err != nil {
				return nil, err
			}
			loc = l
		}
		extract = permitwatch.JSONListExtractor(permitwatch.JSONListSpec{
			ItemsPath:   a.ItemsPath,
			LabelField:  a.LabelField,
			KeyAsLabel:  a.KeyAsLabel,
			CountField:  a.CountField,
			MinCount:    a.MinCount,
			TimeLayout:  a.TimeLayout,
			LabelLayout: a.LabelLayout,
			Location:    loc,
		})
	}

	return httpapi.New(httpapi.Options{
		URL:              a.URL,
		Method:           a.Method,
		Headers:          a.Headers,
		Query:            a.Query,
		Body:             a.Body,
		Timeout:          a.Timeout.Duration(),
		CloudflareBypass: a.CloudflareBypass,
		Extract:          extract,
	})
}

// BuildNotifier returns an email notifier when a recipient is configured,
// and a log-only notifier otherwise.
func BuildNotifier(cfg *Config, logger *slog.Logger) (permitwatch.Notifier, error) {
	n := cfg.Notify
	if n.To == "" {
		logger.Warn("no notify.to configured; notifications will only be logged")
		return permitwatch.LogNotifier{Logger: logger}, nil
	}
	return email.New(email.Options{
		To:            n.To,
		From:          n.From,
		SubjectPrefix: n.SubjectPrefix,
		Host:          n.SMTP.Host,
		Port:          n.SMTP.Port,
		Username:      n.SMTP.Username,
		Password:      n.SMTP.Password,
		Timeout:       n.Timeout.Duration(),
		Logger:        logger,
	})
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
