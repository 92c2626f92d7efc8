package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer func() { _ = fetcher.Close() }()
	require.Equal(t, 2, cap(fetcher.slots))
	require.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)
	require.Equal(t, defaultSettleDelay, fetcher.cfg.SettleDelay)
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, defaultNavigationTimeout, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, fetcher.navTimeout())
}

func TestAcquireHonorsCancellation(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestHeaderConversion(t *testing.T) {
	t.Parallel()

	got := headerFromNetwork(network.Headers{
		"Set-Cookie":   "a=1\nb=2",
		"Content-Type": "text/html",
		"X-List":       []any{"x", "y"},
	})
	require.Equal(t, []string{"a=1", "b=2"}, got.Values("Set-Cookie"))
	require.Equal(t, "text/html", got.Get("Content-Type"))
	require.Equal(t, []string{"x", "y"}, got.Values("X-List"))

	out := networkHeaders(http.Header{"Accept-Language": {"en", "de"}, "X-Empty": {}})
	require.Equal(t, network.Headers{"Accept-Language": "en, de"}, out)
}

func TestPageResponseKeepsMainDocument(t *testing.T) {
	t.Parallel()

	page := &pageResponse{}
	page.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://acme.test/pricing/",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	page.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://acme.test/app.js"},
	})
	page.observe("unrelated event")

	doc := page.document("https://acme.test/pricing", "https://acme.test/pricing/#plans")
	require.Equal(t, 200, doc.StatusCode)
	require.Equal(t, "abc", doc.Headers.Get("X-Request-ID"))
	require.Equal(t, "https://acme.test/pricing/", doc.FinalURL)
	require.Equal(t, "https://acme.test/pricing", doc.URL)
}

func TestPageResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := (&pageResponse{}).document("https://acme.test/req", "https://acme.test/final")
	require.Equal(t, http.StatusOK, doc.StatusCode)
	require.Equal(t, "https://acme.test/final", doc.FinalURL)
	require.NotNil(t, doc.Headers)

	doc = (&pageResponse{}).document("https://acme.test/req", "")
	require.Equal(t, "https://acme.test/req", doc.FinalURL)
}

func TestCapBody(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte("abc"), capBody([]byte("abcdef"), 3))
	require.Equal(t, []byte("abcdef"), capBody([]byte("abcdef"), 0))
	require.Equal(t, []byte("ab"), capBody([]byte("ab"), 10))
}

func TestWaitForContentWithoutBrowserFails(t *testing.T) {
	t.Parallel()

	// Without a chromedp target the selector wait fails immediately rather than being
	// mistaken for a settle timeout.
	err := waitForContent(".pricing-grid", time.Second).Do(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), ".pricing-grid")
}
