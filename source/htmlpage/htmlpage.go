// Package htmlpage scrapes availability from a server-rendered schedule
// page, one table row (or card) per slot.
package htmlpage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/internal/poller"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Options configures a [Source].
type Options struct {
	// URL is the schedule page. Required.
	URL string

	// RowSelector matches one element per slot. Required.
	RowSelector string

	// LabelSelector finds the label inside a row. Empty uses the row text.
	LabelSelector string

	// A row is available when AvailableSelector matches inside it, when its
	// text contains AvailableText (case-insensitive), or when the number in
	// CountSelector is at least MinCount. With none of these set every row
	// is available.
	AvailableSelector string
	AvailableText     string
	CountSelector     string
	MinCount          int

	// RequireRows treats a page without any matching row as broken rather
	// than fully booked.
	RequireRows bool

	Headers map[string]string

	// Timeout bounds each page request. Defaults to 20s.
	Timeout time.Duration
}

// Source scrapes one schedule page per fetch.
type Source struct {
	opts      Options
	transport *http.Transport
}

// New validates opts and returns a [Source].
func New(opts Options) (*Source, error) {
	if opts.URL == "" {
		return nil, errors.New("htmlpage: url is required")
	}
	if opts.RowSelector == "" {
		return nil, errors.New("htmlpage: row selector is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MinCount < 1 {
		opts.MinCount = 1
	}
	return &Source{opts: opts, transport: poller.NewTransport()}, nil
}

// Fetch visits the page and returns the labels of available rows.
func (s *Source) Fetch(ctx context.Context) (permitwatch.Snapshot, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(defaultUserAgent),
		colly.MaxBodySize(poller.MaxResponseBodySize),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(s.transport)
	c.SetRequestTimeout(s.opts.Timeout)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range s.opts.Headers {
			r.Headers.Set(k, v)
		}
	})

	var (
		rows   int
		labels []permitwatch.Label
		seen   = make(map[permitwatch.Label]bool)
	)
	c.OnHTML(s.opts.RowSelector, func(e *colly.HTMLElement) {
		rows++
		l, ok := rowLabel(e.DOM, s.opts)
		if !ok || seen[l] {
			return
		}
		seen[l] = true
		labels = append(labels, l)
	})

	var status int
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(s.opts.URL); err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(visitStage(err, status), err)
	}

	if rows == 0 && s.opts.RequireRows {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(
			permitwatch.StageStructure,
			fmt.Errorf("no elements match %q on %s", s.opts.RowSelector, s.opts.URL),
		)
	}

	return permitwatch.NewSnapshot(labels...), nil
}

// Close releases pooled connections.
func (s *Source) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

// rowLabel returns the label of row when the row is available.
func rowLabel(row *goquery.Selection, opts Options) (permitwatch.Label, bool) {
	text := row.Text()
	if opts.LabelSelector != "" {
		text = row.Find(opts.LabelSelector).First().Text()
	}
	label := permitwatch.Label(strings.Join(strings.Fields(text), " "))
	if label == "" {
		return "", false
	}

	switch {
	case opts.AvailableSelector != "":
		if row.Find(opts.AvailableSelector).Length() == 0 {
			return "", false
		}
	case opts.AvailableText != "":
		if !strings.Contains(strings.ToLower(row.Text()), strings.ToLower(opts.AvailableText)) {
			return "", false
		}
	case opts.CountSelector != "":
		n, ok := permitwatch.ParseCount(row.Find(opts.CountSelector).First().Text())
		if !ok || n < opts.MinCount {
			return "", false
		}
	}
	return label, true
}

func visitStage(err error, status int) permitwatch.FetchStage {
	if status >= 300 {
		return permitwatch.StageStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return permitwatch.StageTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return permitwatch.StageTimeout
	}
	return permitwatch.StageRequest
}
