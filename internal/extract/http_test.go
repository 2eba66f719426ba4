package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/data-mapper/internal/resilience"
)

func newSearchServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "Lincoln High":
			fmt.Fprint(w, `<html><body>
				<a class="result" href="/lincoln">Lincoln</a>
				<a class="result" href="/lincoln/plan.pdf">Plan</a>
				<a class="result" href="/broken">Broken</a>
				<a class="result" href="/lincoln/staff">Staff</a>
			</body></html>`)
		case "overloaded":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "forbidden":
			w.WriteHeader(http.StatusForbidden)
		default:
			fmt.Fprint(w, `<html><body>No results</body></html>`)
		}
	})
	mux.HandleFunc("/lincoln", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="mailto:principal@lincoln.org">Principal</a>`)
	})
	mux.HandleFunc("/lincoln/staff", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="mailto:PRINCIPAL@lincoln.org">x</a><a href="mailto:office@lincoln.org">office@lincoln.org</a>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTP(t *testing.T, srv *httptest.Server) *HTTPExtractor {
	t.Helper()
	h, err := NewHTTP(HTTPConfig{
		SearchURL:      srv.URL + "/search?q={query}",
		ResultSelector: "a.result",
		MaxResults:     3,
		Timeout:        2 * time.Second,
		Field:          "emails",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHTTPExtractor_CollectsEmails(t *testing.T) {
	srv := newSearchServer(t)
	h := newTestHTTP(t, srv)

	rec, err := h.Extract(context.Background(), "Lincoln High")
	require.NoError(t, err)
	// The pdf is filtered, the 404 page is skipped, duplicates fold by case.
	assert.Equal(t, "principal@lincoln.org\noffice@lincoln.org", rec["emails"])
	assert.Equal(t, srv.URL+"/lincoln/staff", h.LastLocation())
}

func TestHTTPExtractor_NoResults(t *testing.T) {
	srv := newSearchServer(t)
	h := newTestHTTP(t, srv)

	rec, err := h.Extract(context.Background(), "Nowhere Elementary")
	require.NoError(t, err)
	assert.Equal(t, Record{"emails": ""}, rec)
}

func TestHTTPExtractor_TransientStatusIsRecoverable(t *testing.T) {
	srv := newSearchServer(t)
	h := newTestHTTP(t, srv)

	_, err := h.Extract(context.Background(), "overloaded")
	re, ok := AsRecoverable(err)
	require.True(t, ok)
	assert.Contains(t, re.Location, "/search?q=overloaded")
}

func TestHTTPExtractor_ClientErrorIsUnrecoverable(t *testing.T) {
	srv := newSearchServer(t)
	h := newTestHTTP(t, srv)

	_, err := h.Extract(context.Background(), "forbidden")
	require.Error(t, err)
	var ue *UnrecoverableError
	assert.ErrorAs(t, err, &ue)
}

func TestHTTPExtractor_ConnectionRefusedIsRecoverable(t *testing.T) {
	srv := newSearchServer(t)
	h := newTestHTTP(t, srv)
	srv.Close()

	_, err := h.Extract(context.Background(), "Lincoln High")
	_, ok := AsRecoverable(err)
	assert.True(t, ok, "expected recoverable, got %v", err)
}

func TestNewHTTP_RequiresPlaceholder(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{SearchURL: "http://localhost/search"})
	assert.Error(t, err)
}

func TestHTTPExtractor_RetriesFlakyResultPage(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a class="result" href="/flaky">Flaky</a>`)
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `<a href="mailto:office@grant.org">Office</a>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h, err := NewHTTP(HTTPConfig{
		SearchURL:      srv.URL + "/search?q={query}",
		ResultSelector: "a.result",
		Timeout:        2 * time.Second,
		PageRetry:      resilience.Backoff{Attempts: 2, Initial: time.Millisecond},
		Field:          "emails",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	rec, err := h.Extract(context.Background(), "Grant")
	require.NoError(t, err)
	assert.Equal(t, "office@grant.org", rec["emails"])
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPExtractor_MissingPageNotRetried(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a class="result" href="/gone">Gone</a>`)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h, err := NewHTTP(HTTPConfig{
		SearchURL:      srv.URL + "/search?q={query}",
		ResultSelector: "a.result",
		PageRetry:      resilience.Backoff{Attempts: 3, Initial: time.Millisecond},
		Field:          "emails",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	rec, err := h.Extract(context.Background(), "Gone")
	require.NoError(t, err)
	assert.Equal(t, "", rec["emails"])
	assert.Equal(t, int32(1), hits.Load())
}
