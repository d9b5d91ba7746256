// Package browser drives a headless Chrome session through a JavaScript-heavy
// availability page, reading a row of per-day counts and optionally putting
// a slot on hold.
//
// One [Source] owns one browser tab for the life of the process. It is both a
// [permitwatch.Source] and a [permitwatch.Booker]: the handles it returns
// from Fetch are XPaths into the page it just loaded.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/chromedp/chromedp"

	"github.com/jpalmerr/permitwatch"
)

const (
	defaultFirstColumn   = 2
	defaultDays          = 7
	defaultTimezone      = "US/Eastern"
	defaultLabelLayout   = "01/02"
	defaultWaitTimeout   = 5 * time.Second
	defaultActionTimeout = 30 * time.Second
	cellReadTimeout      = 3 * time.Second
)

// Options configures a [Source].
type Options struct {
	// URL is the detailed-availability page. Required.
	URL string

	// DivisionSelector and Division pick an entry in a <select> before the
	// table is read. Both are optional.
	DivisionSelector string
	Division         string

	// GroupDropdown opens the group-size control and GroupIncrement is
	// clicked GroupSize times inside it.
	GroupDropdown  string
	GroupIncrement string
	GroupSize      int

	// TableSelector is waited on for up to WaitTimeout before any cell is
	// read. Required.
	TableSelector string
	WaitTimeout   time.Duration

	// CellXPath locates one day's count; its single %d verb is the column.
	// Columns FirstColumn through FirstColumn+Days-1 are read, and column c
	// is labelled today+c days in Timezone.
	CellXPath   string
	FirstColumn int
	Days        int
	MinCount    int
	Timezone    string
	LabelLayout string

	// Booking selectors. BookSelector and AddToHoldSelector are required
	// for the Source to act as a Booker.
	BookSelector      string
	QuantitySelector  string
	AddToHoldSelector string
	HoldURL           string
	ExtendSelector    string

	Headless bool

	// ExecPath overrides Chrome discovery.
	ExecPath string

	// ActionTimeout bounds navigation and each booking step.
	ActionTimeout time.Duration
}

// Source is a browser-backed availability source and booker.
type Source struct {
	opts Options
	loc  *time.Location
	now  func() time.Time

	// quantity is the live booking quantity; cells below it are not available.
	quantity atomic.Int64

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// New validates opts. Chrome is not launched until the first Fetch.
func New(opts Options) (*Source, error) {
	if opts.URL == "" {
		return nil, errors.New("browser: url is required")
	}
	if opts.TableSelector == "" {
		return nil, errors.New("browser: table selector is required")
	}
	if strings.Count(opts.CellXPath, "%d") != 1 {
		return nil, errors.New("browser: cell xpath must contain exactly one %d")
	}
	if (opts.DivisionSelector == "") != (opts.Division == "") {
		return nil, errors.New("browser: division and division selector must be set together")
	}
	if opts.GroupSize > 0 && (opts.GroupDropdown == "" || opts.GroupIncrement == "") {
		return nil, errors.New("browser: group size needs both group dropdown and group increment selectors")
	}

	if opts.FirstColumn <= 0 {
		opts.FirstColumn = defaultFirstColumn
	}
	if opts.Days <= 0 {
		opts.Days = defaultDays
	}
	if opts.MinCount < 1 {
		opts.MinCount = 1
	}
	if opts.Timezone == "" {
		opts.Timezone = defaultTimezone
	}
	if opts.LabelLayout == "" {
		opts.LabelLayout = defaultLabelLayout
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}

	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("browser: timezone: %w", err)
	}

	return &Source{opts: opts, loc: loc, now: time.Now}, nil
}

var _ permitwatch.QuantitySetter = (*Source)(nil)

// SetQuantity raises the availability threshold to n places from the next
// fetch. Values below Options.MinCount leave MinCount in force.
func (s *Source) SetQuantity(n int) {
	s.quantity.Store(int64(n))
}

func (s *Source) minCount() int {
	if q := int(s.quantity.Load()); q > s.opts.MinCount {
		return q
	}
	return s.opts.MinCount
}

// CanBook reports whether the booking selectors are configured.
func (s *Source) CanBook() bool {
	return s.opts.BookSelector != "" && s.opts.AddToHoldSelector != ""
}

// Fetch loads the page, applies the division and group-size selections, and
// reads one count per day.
func (s *Source) Fetch(ctx context.Context) (permitwatch.Snapshot, error) {
	bctx, err := s.browser()
	if err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(permitwatch.StageRequest, err)
	}

	runCtx, cancel := bound(ctx, bctx, s.opts.ActionTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, s.setupTasks()); err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(actionStage(err, permitwatch.StageRequest), err)
	}

	waitCtx, cancelWait := context.WithTimeout(runCtx, s.opts.WaitTimeout)
	err = chromedp.Run(waitCtx, chromedp.WaitVisible(s.opts.TableSelector, chromedp.BySearch))
	cancelWait()
	if err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(
			actionStage(err, permitwatch.StageStructure),
			fmt.Errorf("waiting for %s: %w", s.opts.TableSelector, err),
		)
	}

	texts := make([]string, s.opts.Days)
	read := make(chromedp.Tasks, 0, s.opts.Days)
	for i := range texts {
		read = append(read, chromedp.Text(cellXPath(s.opts.CellXPath, s.opts.FirstColumn+i), &texts[i], chromedp.BySearch))
	}
	readCtx, cancelRead := context.WithTimeout(runCtx, cellReadTimeout)
	err = chromedp.Run(readCtx, read)
	cancelRead()
	if err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(permitwatch.StageStructure, fmt.Errorf("reading cells: %w", err))
	}

	opts := s.opts
	opts.MinCount = s.minCount()
	return labelsFromCells(texts, opts, s.now().In(s.loc)), nil
}

func (s *Source) setupTasks() chromedp.Tasks {
	tasks := chromedp.Tasks{chromedp.Navigate(s.opts.URL)}
	if s.opts.DivisionSelector != "" {
		tasks = append(tasks, chromedp.SendKeys(s.opts.DivisionSelector, s.opts.Division, chromedp.BySearch))
	}
	if s.opts.GroupSize > 0 {
		tasks = append(tasks, chromedp.Click(s.opts.GroupDropdown, chromedp.BySearch))
		for i := 0; i < s.opts.GroupSize; i++ {
			tasks = append(tasks, chromedp.Click(s.opts.GroupIncrement, chromedp.BySearch))
		}
		tasks = append(tasks, chromedp.Click(s.opts.GroupDropdown, chromedp.BySearch))
	}
	return tasks
}

// SelectSlot clicks the cell the handle points at.
func (s *Source) SelectSlot(ctx context.Context, h permitwatch.ActionHandle) error {
	return s.act(ctx, chromedp.Click(string(h), chromedp.BySearch))
}

// Confirm clicks the book button.
func (s *Source) Confirm(ctx context.Context) error {
	if s.opts.BookSelector == "" {
		return errors.New("book selector not configured")
	}
	return s.act(ctx, chromedp.Click(s.opts.BookSelector, chromedp.BySearch))
}

// AddToHold enters the quantity, if the page asks for one, and adds the
// selection to the cart.
func (s *Source) AddToHold(ctx context.Context, quantity int) error {
	if s.opts.AddToHoldSelector == "" {
		return errors.New("add-to-hold selector not configured")
	}
	var tasks chromedp.Tasks
	if s.opts.QuantitySelector != "" {
		tasks = append(tasks,
			chromedp.SetValue(s.opts.QuantitySelector, "", chromedp.BySearch),
			chromedp.SendKeys(s.opts.QuantitySelector, strconv.Itoa(quantity), chromedp.BySearch),
		)
	}
	tasks = append(tasks, chromedp.Click(s.opts.AddToHoldSelector, chromedp.BySearch))
	return s.act(ctx, tasks)
}

// ExtendHold reloads the hold page and clicks the extend control, if any.
func (s *Source) ExtendHold(ctx context.Context) error {
	if s.opts.HoldURL == "" {
		return errors.New("hold url not configured")
	}
	tasks := chromedp.Tasks{chromedp.Navigate(s.opts.HoldURL)}
	if s.opts.ExtendSelector != "" {
		tasks = append(tasks, chromedp.Click(s.opts.ExtendSelector, chromedp.BySearch))
	}
	return s.act(ctx, tasks)
}

func (s *Source) act(ctx context.Context, action chromedp.Action) error {
	bctx, err := s.browser()
	if err != nil {
		return err
	}
	runCtx, cancel := bound(ctx, bctx, s.opts.ActionTimeout)
	defer cancel()
	return chromedp.Run(runCtx, action)
}

// browser starts Chrome on first use.
func (s *Source) browser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil {
		return s.browserCtx, nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
	)
	if s.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	s.browserCtx = browserCtx
	s.cancelBrowser = cancelBrowser
	s.cancelAlloc = cancelAlloc
	return browserCtx, nil
}

// Close shuts the browser down. It is safe to call on a Source that never
// fetched.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx == nil {
		return nil
	}
	s.cancelBrowser()
	s.cancelAlloc()
	s.browserCtx = nil
	return nil
}

// bound derives a context from the browser context that expires after d or
// when ctx is done, whichever comes first.
func bound(ctx, bctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(bctx, d)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func actionStage(err error, fallback permitwatch.FetchStage) permitwatch.FetchStage {
	if errors.Is(err, context.DeadlineExceeded) {
		return permitwatch.StageTimeout
	}
	return fallback
}

func cellXPath(pattern string, column int) string {
	return fmt.Sprintf(pattern, column)
}

// labelsFromCells turns the cell texts read on day today into a snapshot.
// Empty, non-numeric and below-minimum cells are skipped.
func labelsFromCells(texts []string, opts Options, today time.Time) permitwatch.Snapshot {
	snap := permitwatch.Snapshot{Handles: make(map[permitwatch.Label]permitwatch.ActionHandle)}
	for i, text := range texts {
		n, ok := permitwatch.ParseCount(text)
		if !ok || n < opts.MinCount {
			continue
		}
		column := opts.FirstColumn + i
		label := permitwatch.Label(today.AddDate(0, 0, column).Format(opts.LabelLayout))
		if _, dup := snap.Handles[label]; dup {
			continue
		}
		snap.Labels = append(snap.Labels, label)
		snap.Handles[label] = permitwatch.ActionHandle(cellXPath(opts.CellXPath, column))
	}
	return snap
}
