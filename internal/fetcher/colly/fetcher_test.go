package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

func testConfig() Config {
	return Config{
		UserAgent:      "rivalwatch-test",
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "rivalwatch-test", r.UserAgent())
		require.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Pro $49</body></html>"))
	}))
	defer srv.Close()

	f := New(testConfig())
	doc, err := f.Fetch(context.Background(), monitor.FetchRequest{
		URL:     srv.URL + "/pricing",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, doc.StatusCode)
	require.Equal(t, srv.URL+"/pricing", doc.URL)
	require.Equal(t, 1, doc.Attempts)
	require.Contains(t, string(doc.Body), "Pro $49")
	require.Equal(t, "text/html", doc.Headers.Get("Content-Type"))
	require.False(t, doc.FetchedAt.IsZero())
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	doc, err := New(testConfig()).Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 3, doc.Attempts)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "ok", string(doc.Body))
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	_, err := New(cfg).Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL})
	var fetchErr *monitor.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(testConfig()).Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL})
	var fetchErr *monitor.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.Equal(t, 1, fetchErr.Attempts)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchRetriesConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 1
	_, err := New(cfg).Fetch(context.Background(), monitor.FetchRequest{URL: addr})
	var fetchErr *monitor.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 2, fetchErr.Attempts)
	require.Zero(t, fetchErr.StatusCode)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(testConfig()).Fetch(ctx, monitor.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	var fetchErr *monitor.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 1, fetchErr.Attempts)
}

func TestFetchOnceCanceledReturnsEmptyDocument(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("X-Late", "1")
		_, _ = w.Write([]byte("late body"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc, err := New(testConfig()).fetchOnce(ctx, monitor.FetchRequest{URL: srv.URL})
	close(release)

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, monitor.RawDocument{}, doc)
}

func TestFetchTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxBodyBytes = 1024
	doc, err := New(cfg).Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, doc.Body, 1024)
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return nil
}

func TestFetchWaitsOnLimiterEachAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	_, err := New(testConfig(), WithLimiter(limiter)).Fetch(context.Background(), monitor.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL, srv.URL}, limiter.urls)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := monitor.FetchRequest{
		URL:     "https://acme.test/pricing",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result attemptResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://acme.test/pricing/")},
	})
	require.True(t, result.got)
	require.Equal(t, "body", string(result.doc.Body))
	require.Equal(t, "https://acme.test/pricing/", result.doc.FinalURL)
	require.Equal(t, "ok", result.doc.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusServiceUnavailable, result.doc.StatusCode)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(monitor.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
