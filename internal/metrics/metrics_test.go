package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, pagesTotal)
	require.NotNil(t, changesTotal)
	require.NotNil(t, httpRequestsTotal)

	ObservePage("https://init-test.example/pricing", "success", 512)
	require.Equal(t, float64(1), testutil.ToFloat64(pagesTotal.WithLabelValues("init-test.example", "success")))
	require.Equal(t, float64(512), testutil.ToFloat64(bytesTotal.WithLabelValues("init-test.example")))
}

func TestObserveDomainMetrics(t *testing.T) {
	Init()

	before := testutil.ToFloat64(changesTotal.WithLabelValues("blog"))
	ObserveChange("blog")
	require.Equal(t, before+1, testutil.ToFloat64(changesTotal.WithLabelValues("blog")))

	retries := testutil.ToFloat64(fetchRetriesTotal.WithLabelValues("retry.example"))
	ObserveFetchRetry("https://retry.example/a")
	require.Equal(t, retries+1, testutil.ToFloat64(fetchRetriesTotal.WithLabelValues("retry.example")))

	runs := testutil.ToFloat64(runsTotal.WithLabelValues("completed"))
	ObserveRun("completed")
	require.Equal(t, runs+1, testutil.ToFloat64(runsTotal.WithLabelValues("completed")))

	IncActiveWorkers()
	DecActiveWorkers()
	ObserveExtraction("pricing", 3)
	ObserveRateLimitDelay("acme.test", 150*time.Millisecond)
	ObserveHeadlessPromotion("success")
	require.Positive(t, testutil.CollectAndCount(extractedItems))
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
