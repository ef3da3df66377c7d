// Package collyfetcher implements the page transport using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
}

// Transport issues single HTTP GETs through a Colly collector. It performs no
// pacing and no retries; both live in the fetch client above it.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes one HTTP GET. Non-2xx responses are returned as results with
// their status code and a nil error; only transport-level failures (DNS,
// connect, timeout) surface as errors.
func (t *Transport) Get(ctx context.Context, url, userAgent string) (scrape.FetchResult, error) {
	var (
		result      scrape.FetchResult
		gotResponse bool
	)
	start := time.Now()

	collector := t.baseCollector.Clone()
	if userAgent != "" {
		collector.UserAgent = userAgent
	}
	timeout := t.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	capture := func(r *colly.Response) {
		result = scrape.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		gotResponse = true
	}

	collector.OnResponse(capture)
	collector.OnError(func(r *colly.Response, _ error) {
		// Colly reports non-2xx statuses through OnError; the server still
		// answered, so hand the status back instead of failing.
		if r != nil && r.StatusCode != 0 {
			capture(r)
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return scrape.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if gotResponse {
			return result, nil
		}
		if err != nil {
			return scrape.FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
