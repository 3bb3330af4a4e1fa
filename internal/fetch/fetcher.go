// Package fetch implements the concurrency-bounded, retrying page fetcher.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrNoContent marks a response screened out before its body was read:
// wrong content type or a declared length above the cap. Callers treat it
// as a skip, not a failure.
var ErrNoContent = errors.New("no usable content")

// Config controls fetcher behavior.
type Config struct {
	UserAgent    string
	Concurrency  int64
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Fetcher performs bounded HTTP fetches with retry and content screening.
// At most Concurrency requests are in flight at once; every dispatch is
// preceded by a small random delay to throttle the remote site.
type Fetcher struct {
	cfg       Config
	sem       *semaphore.Weighted
	policy    *RetryPolicy
	transport http.RoundTripper
	base      *colly.Collector
	logger    *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, policy *RetryPolicy, logger *zap.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 * 1024 * 1024
	}
	if policy == nil {
		policy = NewRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit(), colly.IgnoreRobotsTxt())
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.Concurrency),
		policy:    policy,
		transport: transport,
		base:      c,
		logger:    logger,
	}
}

// Fetch retrieves url and returns the raw body bytes. With checkContent
// set, non-HTML or oversized responses are rejected before the body is
// read and reported as ErrNoContent. Transient failures are retried per
// the policy; other errors propagate after the first attempt.
func (f *Fetcher) Fetch(ctx context.Context, url string, checkContent bool) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer f.sem.Release(1)

	for attempt := 0; ; attempt++ {
		if err := sleepJitter(ctx); err != nil {
			return nil, err
		}
		body, err := f.fetchOnce(ctx, url, checkContent)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrNoContent) {
			return nil, ErrNoContent
		}
		// A dead caller context ends the loop even when the error itself
		// would classify as transient (a request timeout racing the
		// caller's own deadline).
		if ctx.Err() != nil {
			return nil, err
		}
		if !f.policy.ShouldRetry(err, attempt+1) {
			return nil, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Warn("fetch retry",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, checkContent bool) ([]byte, error) {
	var (
		body     []byte
		screened bool
		fetchErr error
	)

	collector := f.base.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	if checkContent {
		collector.OnResponseHeaders(func(r *colly.Response) {
			ctype := strings.ToLower(r.Headers.Get("Content-Type"))
			if !strings.Contains(ctype, "text/html") {
				f.logger.Warn("skipping non-HTML content", zap.String("url", url), zap.String("content_type", ctype))
				screened = true
				r.Request.Abort()
				return
			}
			if cl := r.Headers.Get("Content-Length"); cl != "" {
				if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > f.cfg.MaxBodyBytes {
					f.logger.Warn("skipping oversized content", zap.String("url", url), zap.Int64("length", n))
					screened = true
					r.Request.Abort()
				}
			}
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = &StatusError{Code: r.StatusCode}
			return
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, url); err != nil {
		if screened {
			return nil, ErrNoContent
		}
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, err
	}
	if screened {
		return nil, ErrNoContent
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return body, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The collector owns the response callbacks; wait for the visit
		// to finish (bounded by the request timeout) so no callback
		// writes outlive this call.
		<-done
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func sleepJitter(ctx context.Context) error {
	delay := 300*time.Millisecond + time.Duration(rand.Int63n(int64(300*time.Millisecond)))
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// newHTTPTransport returns a pooled transport that tolerates the legacy
// TLS configuration of the target server.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS10,
			InsecureSkipVerify: true, //nolint:gosec // target serves a legacy chain
		},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
