// Package scraper fetches section pages and turns them into listing snapshots.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/ss-monitor/config"
)

// Fetcher wraps a colly collector with the single retry policy used for every page.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Fetcher{
		cfg:       cfg,
		collector: collector,
		Metrics:   metrics,
		sleep:     sleepContext,
	}, nil
}

// Fetch returns the body of pageURL. Transient failures are retried with capped
// exponential backoff; the caller only ever sees success or a final error.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	attempts := f.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
		}

		body, err := f.fetchOnce(pageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		category := ErrorTypeLabel(err)
		f.Metrics.IncError(category)
		slog.Debug("fetch attempt failed",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if !IsTransient(err) || attempt == attempts {
			break
		}
		f.Metrics.IncRetries()
		wait := f.backoff(attempt)
		if requested := retryAfter(err); requested > wait {
			wait = min(requested, maxRetryAfter)
		}
		if err := f.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, pageURL, lastErr)
}

func (f *Fetcher) fetchOnce(pageURL string) ([]byte, error) {
	c := f.collector.Clone()

	var (
		body    []byte
		status  int
		headers http.Header
		cbErr   error
	)
	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		f.Metrics.IncRequest("started")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
		f.Metrics.IncRequest("succeeded")
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
			if r.Headers != nil {
				headers = *r.Headers
			}
		}
		cbErr = err
	})

	err := c.Visit(pageURL)
	if err == nil {
		err = cbErr
	}
	if err != nil || status >= http.StatusBadRequest {
		typed := classifyError(err, status)
		if limited, ok := typed.(ErrRateLimited); ok {
			limited.RetryAfter = parseRetryAfter(headers.Get("Retry-After"))
			typed = limited
		}
		if typed != nil {
			return nil, typed
		}
		return nil, fmt.Errorf("unexpected status %d", status)
	}
	return body, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// maxRetryAfter caps how long a Retry-After header can hold a pass.
const maxRetryAfter = time.Minute

// parseRetryAfter reads a Retry-After value in seconds. HTTP-date values are ignored.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Status: statusCode, Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
