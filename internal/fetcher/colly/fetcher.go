// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/siteharvest/harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs plain HTTP fetches through a cloned Colly collector
// per request.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport shared by all clones.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Failures are wrapped in
// harvest.FetchError with their retryability classified: connection
// errors, timeouts, 429 and 5xx are transient, other 4xx are permanent.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   harvest.FetchResponse
		fetchErr error
		status   int
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result = harvest.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return harvest.FetchResponse{}, &harvest.FetchError{
			URL:       request.URL,
			Transient: false,
			Err:       fmt.Errorf("fetch canceled: %w", ctx.Err()),
		}
	case err := <-done:
		if err == nil && fetchErr == nil {
			return result, nil
		}
		cause := fetchErr
		if cause == nil {
			cause = err
		}
		return harvest.FetchResponse{}, classify(request.URL, status, cause)
	}
}

func classify(url string, status int, err error) *harvest.FetchError {
	// Statusless failures are connection-level (refused, DNS, reset,
	// timeout) and are always worth a retry; only an HTTP status can
	// mark a fetch permanent.
	transient := true
	if status > 0 {
		transient = harvest.RetryableStatus(status)
	}
	return &harvest.FetchError{URL: url, StatusCode: status, Transient: transient, Err: err}
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
		IdleConnTimeout:       90 * time.Second,
	}
}
