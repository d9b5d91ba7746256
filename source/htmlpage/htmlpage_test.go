package htmlpage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/permitwatch"
)

const schedulePage = `<html><body>
<table id="schedule">
  <tr class="slot"><td class="date">07/16</td><td class="left">2 left</td><td><a class="book">Book</a></td></tr>
  <tr class="slot"><td class="date">07/17</td><td class="left">Sold out</td><td></td></tr>
  <tr class="slot"><td class="date"> 07/18 </td><td class="left">5 left</td><td><a class="book">Book</a></td></tr>
  <tr class="slot"><td class="date">07/16</td><td class="left">1 left</td><td><a class="book">Book</a></td></tr>
</table>
</body></html>`

func newSource(t *testing.T, opts Options) *Source {
	t.Helper()
	src, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func serve(t *testing.T, status int, page string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetch_AvailableSelector(t *testing.T) {
	server := serve(t, http.StatusOK, schedulePage)
	src := newSource(t, Options{
		URL:               server.URL,
		RowSelector:       "tr.slot",
		LabelSelector:     "td.date",
		AvailableSelector: "a.book",
	})

	snap, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []permitwatch.Label{"07/16", "07/18"}, snap.Labels)
}

func TestFetch_CountSelector(t *testing.T) {
	server := serve(t, http.StatusOK, schedulePage)
	src := newSource(t, Options{
		URL:           server.URL,
		RowSelector:   "tr.slot",
		LabelSelector: "td.date",
		CountSelector: "td.left",
		MinCount:      2,
	})

	snap, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []permitwatch.Label{"07/16", "07/18"}, snap.Labels)
}

func TestFetch_SendsHeaders(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte(schedulePage))
	}))
	defer server.Close()

	src := newSource(t, Options{
		URL:         server.URL,
		RowSelector: "tr.slot td.date",
		Headers:     map[string]string{"Cookie": "session=abc"},
	})

	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "session=abc", gotCookie)
}

func TestFetch_NoRows(t *testing.T) {
	server := serve(t, http.StatusOK, `<html><body><p>Nothing scheduled</p></body></html>`)

	t.Run("allowed", func(t *testing.T) {
		src := newSource(t, Options{URL: server.URL, RowSelector: "tr.slot"})
		snap, err := src.Fetch(context.Background())
		require.NoError(t, err)
		require.Zero(t, snap.Len())
	})

	t.Run("required", func(t *testing.T) {
		src := newSource(t, Options{URL: server.URL, RowSelector: "tr.slot", RequireRows: true})
		_, err := src.Fetch(context.Background())
		var fe *permitwatch.FetchError
		require.True(t, errors.As(err, &fe))
		require.Equal(t, permitwatch.StageStructure, fe.Stage)
	})
}

func TestFetch_ErrorStatus(t *testing.T) {
	server := serve(t, http.StatusBadGateway, `<html>down</html>`)
	src := newSource(t, Options{URL: server.URL, RowSelector: "tr.slot"})

	_, err := src.Fetch(context.Background())
	var fe *permitwatch.FetchError
	require.True(t, errors.As(err, &fe), "error %v is not a *FetchError", err)
	require.Equal(t, permitwatch.StageStatus, fe.Stage)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	src := newSource(t, Options{URL: addr, RowSelector: "tr.slot"})
	_, err := src.Fetch(context.Background())
	var fe *permitwatch.FetchError
	require.True(t, errors.As(err, &fe), "error %v is not a *FetchError", err)
	require.Equal(t, permitwatch.StageRequest, fe.Stage)
}

func TestRowLabel(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<table>
		<tr id="open"><td>  Fri
		07/18 </td><td>Available</td></tr>
		<tr id="full"><td>Sat 07/19</td><td>Waitlist</td></tr>
		<tr id="blank"><td> </td><td>Available</td></tr>
	</table>`))
	require.NoError(t, err)

	opts := Options{AvailableText: "available", MinCount: 1}

	label, ok := rowLabel(doc.Find("#open"), Options{LabelSelector: "td", AvailableText: "AVAILABLE"})
	require.True(t, ok)
	require.Equal(t, permitwatch.Label("Fri 07/18"), label)

	_, ok = rowLabel(doc.Find("#full"), opts)
	require.False(t, ok)

	_, ok = rowLabel(doc.Find("#blank"), opts)
	require.False(t, ok)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Options{RowSelector: "tr"})
	require.Error(t, err)

	_, err = New(Options{URL: "https://example.com"})
	require.Error(t, err)
}
