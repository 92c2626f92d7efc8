// Package headless renders script-built competitor pages in headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond

	// Pricing grids collapse into a single column on narrow viewports.
	viewportWidth  = 1366
	viewportHeight = 900
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay bounds the wait for the page's content selector. Pages without a
	// selector are given exactly this long to finish client-side rendering.
	SettleDelay time.Duration
	// MaxBodyBytes truncates the rendered DOM. Zero disables the cap.
	MaxBodyBytes int
}

// Fetcher renders pages with chromedp and returns the resulting DOM.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser allocator down.
func (f *Fetcher) Close() error {
	f.allocCancel()
	return nil
}

// Fetch renders the page and returns its DOM once the content selector is visible or the
// settle delay runs out, whichever comes first.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.RawDocument, error) {
	if err := f.acquire(ctx); err != nil {
		return monitor.RawDocument{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()

	page := &pageResponse{}
	chromedp.ListenTarget(tabCtx, page.observe)

	start := time.Now()
	var dom, location string
	actions := []chromedp.Action{
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitForContent(request.Selector, f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &dom, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return monitor.RawDocument{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	doc := page.document(request.URL, location)
	doc.Body = capBody([]byte(dom), f.cfg.MaxBodyBytes)
	doc.FetchedAt = time.Now().UTC()
	doc.Duration = time.Since(start)
	doc.Attempts = 1
	doc.UsedHeadless = true
	return doc, nil
}

// prepareTab applies the desktop viewport, user agent and extra request headers.
func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(viewportWidth, viewportHeight, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := networkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// waitForContent waits up to settle for selector to become visible. A selector that never
// shows up is not an error: the page is captured as rendered so far and the normalizer
// falls back to the whole document.
func waitForContent(selector string, settle time.Duration) chromedp.Action {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return chromedp.Sleep(settle)
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, settle)
		defer cancel()
		err := chromedp.WaitVisible(selector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wait for %q: %w", selector, err)
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	<-f.slots
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// pageResponse keeps the main document's response as seen on the network domain.
// Subresource responses (scripts, XHR, images) are ignored.
type pageResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (p *pageResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := headerFromNetwork(resp.Response.Headers)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = int(resp.Response.Status)
	p.headers = headers
	p.url = resp.Response.URL
}

// document builds the RawDocument shell. A page that never reported its document
// response (served from cache, or navigated by script) is treated as a 200.
func (p *pageResponse) document(requestURL, location string) monitor.RawDocument {
	p.mu.Lock()
	defer p.mu.Unlock()

	finalURL := p.url
	if finalURL == "" {
		finalURL = location
	}
	if finalURL == "" {
		finalURL = requestURL
	}
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := p.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return monitor.RawDocument{
		URL:        requestURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
	}
}

func capBody(body []byte, limit int) []byte {
	if limit > 0 && len(body) > limit {
		return body[:limit]
	}
	return body
}

func headerFromNetwork(src network.Headers) http.Header {
	out := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			// Chrome folds repeated headers into one newline-separated value.
			for _, part := range strings.Split(v, "\n") {
				out.Add(key, part)
			}
		case []any:
			for _, part := range v {
				out.Add(key, fmt.Sprint(part))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
