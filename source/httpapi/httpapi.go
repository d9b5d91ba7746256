// Package httpapi reads availability from a JSON reservation API, such as a
// permit site's month-availability endpoint or a ferry operator's schedule.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/internal/poller"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Options configures a [Source].
type Options struct {
	// URL is the availability endpoint. Required.
	URL string

	// Method is GET (default) or POST.
	Method string

	Headers map[string]string
	Query   map[string]string

	// Body is sent as-is with POST requests.
	Body string

	// Timeout bounds the whole request, body included. Defaults to 15s.
	Timeout time.Duration

	// CloudflareBypass wraps the transport so requests carry browser-like
	// TLS and header fingerprints.
	CloudflareBypass bool

	// Extract turns the response body into labels. Required.
	Extract permitwatch.LabelExtractor
}

// Source polls a JSON API. It is safe for sequential use by one target.
type Source struct {
	client    *resty.Client
	transport *http.Transport
	opts      Options
}

// New validates opts and builds a [Source] with its own pooled transport.
func New(opts Options) (*Source, error) {
	if opts.URL == "" {
		return nil, errors.New("httpapi: url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("httpapi: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpapi: url scheme must be http or https, got %q", u.Scheme)
	}
	if opts.Extract == nil {
		return nil, errors.New("httpapi: an extractor is required")
	}

	switch strings.ToUpper(opts.Method) {
	case "":
		opts.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
		opts.Method = strings.ToUpper(opts.Method)
	default:
		return nil, fmt.Errorf("httpapi: method must be GET or POST, got %q", opts.Method)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	transport := poller.NewTransport()
	client := resty.New()
	client.SetTransport(transport)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetTimeout(opts.Timeout)
	client.SetHeader("user-agent", defaultUserAgent)
	client.SetHeader("accept", "application/json")
	client.SetHeaders(opts.Headers)

	return &Source{
		client:    client,
		transport: transport,
		opts:      opts,
	}, nil
}

// Fetch requests the availability document and extracts its labels.
func (s *Source) Fetch(ctx context.Context) (permitwatch.Snapshot, error) {
	req := s.client.R().
		SetContext(ctx).
		SetQueryParams(s.opts.Query).
		SetDoNotParseResponse(true)
	if s.opts.Method == http.MethodPost && s.opts.Body != "" {
		req.SetBody(s.opts.Body)
	}

	res, err := req.Execute(s.opts.Method, s.opts.URL)
	if res != nil && res.RawBody() != nil {
		defer res.RawBody().Close()
	}
	if err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(requestStage(err), err)
	}

	if !res.IsSuccess() {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(
			permitwatch.StageStatus,
			fmt.Errorf("%s %s: unexpected status %s", s.opts.Method, s.opts.URL, res.Status()),
		)
	}

	body, err := io.ReadAll(io.LimitReader(res.RawBody(), poller.MaxResponseBodySize+1))
	if err != nil {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(requestStage(err), fmt.Errorf("reading body: %w", err))
	}
	if len(body) > poller.MaxResponseBodySize {
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(
			permitwatch.StageParse,
			fmt.Errorf("response exceeds %d bytes", poller.MaxResponseBodySize),
		)
	}

	labels, err := s.opts.Extract(body)
	if err != nil {
		stage := permitwatch.StageParse
		if errors.Is(err, permitwatch.ErrPathNotFound) {
			stage = permitwatch.StageStructure
		}
		return permitwatch.Snapshot{}, permitwatch.NewFetchError(stage, err)
	}

	return permitwatch.NewSnapshot(labels...), nil
}

// Close releases pooled connections.
func (s *Source) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

func requestStage(err error) permitwatch.FetchStage {
	if errors.Is(err, context.DeadlineExceeded) {
		return permitwatch.StageTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return permitwatch.StageTimeout
	}
	return permitwatch.StageRequest
}
