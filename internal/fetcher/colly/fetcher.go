// Package collyfetcher implements the HTTP page fetcher on top of gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/metrics"
	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// Config controls collector and retry behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxBodyBytes   int
	RespectRobots  bool
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter installs a per-host politeness limiter consulted before every attempt.
func WithLimiter(l Waiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.transport = rt
		}
	}
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	retry         *RetryPolicy
	limiter       Waiter
	logger        *zap.Logger
	sleep         func(context.Context, time.Duration) error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult is what one collector visit produced.
type attemptResult struct {
	doc monitor.RawDocument
	got bool
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.retry = NewRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax)

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.Timeout)
	f.baseCollector = c
	return f
}

// Fetch retrieves the page, retrying transient failures with exponential backoff.
// Failures after the last attempt are reported as *monitor.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.RawDocument, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				return monitor.RawDocument{}, &monitor.FetchError{URL: request.URL, Attempts: attempt, Err: err}
			}
		}

		doc, err := f.fetchOnce(ctx, request)
		attempts := attempt + 1
		if err == nil && doc.StatusCode < http.StatusBadRequest {
			doc.Attempts = attempts
			doc.Duration = time.Since(start)
			return doc, nil
		}
		if err == nil {
			err = fmt.Errorf("unexpected status %d", doc.StatusCode)
		}
		if ctx.Err() != nil || !f.retry.ShouldRetry(errOrNil(doc.StatusCode, err), doc.StatusCode, attempt) {
			return monitor.RawDocument{}, &monitor.FetchError{
				URL:        request.URL,
				StatusCode: doc.StatusCode,
				Attempts:   attempts,
				Err:        err,
			}
		}

		delay := f.retry.Backoff(attempt, doc.StatusCode, doc.Headers)
		metrics.ObserveFetchRetry(request.URL)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempts),
			zap.Int("status", doc.StatusCode),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return monitor.RawDocument{}, &monitor.FetchError{URL: request.URL, Attempts: attempts, Err: err}
		}
	}
}

// errOrNil hides the synthetic status error so the policy classifies by status code.
func errOrNil(status int, err error) error {
	if status > 0 {
		return nil
	}
	return err
}

func (f *Fetcher) fetchOnce(ctx context.Context, request monitor.FetchRequest) (monitor.RawDocument, error) {
	var (
		result   attemptResult
		fetchErr error
	)
	collector := f.buildCollector(request, time.Now(), &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		if ctx.Err() != nil {
			// The visit goroutine may still be filling result.
			return monitor.RawDocument{}, err
		}
		return result.doc, err
	}
	if !result.got {
		return monitor.RawDocument{}, errors.New("no response received")
	}
	return result.doc, nil
}

func (f *Fetcher) buildCollector(
	request monitor.FetchRequest,
	start time.Time,
	result *attemptResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request monitor.FetchRequest,
	start time.Time,
	result *attemptResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = attemptResult{
			got: true,
			doc: monitor.RawDocument{
				URL:        request.URL,
				FinalURL:   finalURL,
				StatusCode: r.StatusCode,
				Headers:    headers,
				Body:       append([]byte(nil), r.Body...),
				FetchedAt:  time.Now().UTC(),
				Duration:   time.Since(start),
			},
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil && r.StatusCode > 0 {
			result.doc.StatusCode = r.StatusCode
			if r.Headers != nil {
				result.doc.Headers = r.Headers.Clone()
			}
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request monitor.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
