package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/permitwatch"
	"github.com/jpalmerr/permitwatch/internal/poller"
)

var monthExtractor = permitwatch.JSONListExtractor(permitwatch.JSONListSpec{
	ItemsPath:   "payload.availability",
	KeyAsLabel:  true,
	CountField:  "remaining",
	TimeLayout:  "2006-01-02",
	LabelLayout: "01/02",
})

func newSource(t *testing.T, opts Options) *Source {
	t.Helper()
	src, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func fetchStage(t *testing.T, err error) permitwatch.FetchStage {
	t.Helper()
	var fe *permitwatch.FetchError
	require.True(t, errors.As(err, &fe), "error %v is not a *FetchError", err)
	return fe.Stage
}

func TestFetch_Labels(t *testing.T) {
	var gotMonth, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMonth = r.URL.Query().Get("month")
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payload": {"availability": {
			"2025-07-16": {"remaining": 2},
			"2025-07-17": {"remaining": 0},
			"2025-07-18": {"remaining": 6}
		}}}`))
	}))
	defer server.Close()

	src := newSource(t, Options{
		URL:     server.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
		Query:   map[string]string{"month": "2025-07"},
		Extract: monthExtractor,
	})

	snap, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []permitwatch.Label{"07/16", "07/18"}, snap.Labels)
	require.Equal(t, "2025-07", gotMonth)
	require.Equal(t, "secret", gotKey)
}

func TestFetch_Post(t *testing.T) {
	var gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"sailings": [{"time": "3:30 PM", "seats": 4}]}`))
	}))
	defer server.Close()

	src := newSource(t, Options{
		URL:    server.URL,
		Method: "post",
		Body:   `{"route": "ANA-FRH"}`,
		Extract: permitwatch.JSONListExtractor(permitwatch.JSONListSpec{
			ItemsPath:  "sailings",
			LabelField: "time",
			CountField: "seats",
		}),
	})

	snap, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []permitwatch.Label{"3:30 PM"}, snap.Labels)
	require.Equal(t, http.MethodPost, gotMethod)
	require.JSONEq(t, `{"route": "ANA-FRH"}`, gotBody)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr permitwatch.FetchStage
	}{
		{"server error", http.StatusServiceUnavailable, `{}`, permitwatch.StageStatus},
		{"rate limited", http.StatusTooManyRequests, `{}`, permitwatch.StageStatus},
		{"not json", http.StatusOK, `<html>maintenance</html>`, permitwatch.StageParse},
		{"shape changed", http.StatusOK, `{"payload": {}}`, permitwatch.StageStructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			src := newSource(t, Options{URL: server.URL, Extract: monthExtractor})

			_, err := src.Fetch(context.Background())
			require.Error(t, err)
			require.Equal(t, tt.wantErr, fetchStage(t, err))
		})
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payload": {"availability": {}}, "padding": "`))
		_, _ = w.Write([]byte(strings.Repeat("x", poller.MaxResponseBodySize)))
		_, _ = w.Write([]byte(`"}`))
	}))
	defer server.Close()

	src := newSource(t, Options{URL: server.URL, Extract: monthExtractor})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	require.Equal(t, permitwatch.StageParse, fetchStage(t, err))
	require.ErrorContains(t, err, fmt.Sprintf("response exceeds %d bytes", poller.MaxResponseBodySize))
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	src := newSource(t, Options{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
		Extract: monthExtractor,
	})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	require.Equal(t, permitwatch.StageTimeout, fetchStage(t, err))
}

func TestFetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	src := newSource(t, Options{URL: url, Extract: monthExtractor})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	require.Equal(t, permitwatch.StageRequest, fetchStage(t, err))
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing url", Options{Extract: monthExtractor}},
		{"bad scheme", Options{URL: "ftp://example.com", Extract: monthExtractor}},
		{"missing extractor", Options{URL: "https://example.com"}},
		{"bad method", Options{URL: "https://example.com", Method: "DELETE", Extract: monthExtractor}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
		})
	}
}

func TestNew_CloudflareBypass(t *testing.T) {
	src := newSource(t, Options{
		URL:              "https://example.com",
		CloudflareBypass: true,
		Extract:          monthExtractor,
	})
	require.NotSame(t, src.transport, src.client.GetClient().Transport)
}
