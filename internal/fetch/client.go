// Package fetch implements the rate-limited, retrying fetch client.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/metrics"
	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// Transport performs one unpaced HTTP GET. Implemented by the colly fetcher
// in production and by fakes in tests.
type Transport interface {
	Get(ctx context.Context, url, userAgent string) (scrape.FetchResult, error)
}

// RequestGate blocks until the shared inter-request spacing allows another
// outbound call.
type RequestGate interface {
	Wait(ctx context.Context) error
}

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of tries per URL, including the first.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration
	// UserAgents overrides the built-in rotation pool.
	UserAgents []string
}

// Client is the fetch client: every call passes the shared gate, failed
// attempts back off exponentially with a fresh user agent, and terminal
// failures carry the full attempt history.
type Client struct {
	transport Transport
	gate      RequestGate
	cfg       Config
	agents    *agentPool
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// New constructs a Client.
func New(transport Transport, gate RequestGate, cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		gate:      gate,
		cfg:       cfg,
		agents:    newAgentPool(cfg.UserAgents),
		sleep:     sleepCtx,
		logger:    logger,
	}
}

// Fetch retrieves url, retrying transient failures with exponential backoff.
// A 404 returns a *PermanentError immediately without consuming retry budget;
// the caller decides whether that ends pagination or fails the page. Other
// non-retryable 4xx statuses also fail permanently. Exhausted retries return
// a *ExhaustedError.
func (c *Client) Fetch(ctx context.Context, url string) (scrape.FetchResult, error) {
	var lastStatus int

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return scrape.FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
		}

		res, err := c.transport.Get(ctx, url, c.agents.pick())
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return scrape.FetchResult{}, fmt.Errorf("fetch %s: %w", url, ctx.Err())
			}
			lastStatus = 0
			c.logger.Warn("fetch attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
		case res.StatusCode >= 200 && res.StatusCode < 300:
			res.Attempts = attempt
			metrics.ObservePage("ok")
			return res, nil
		case isPermanentStatus(res.StatusCode):
			metrics.ObservePage("failed")
			return scrape.FetchResult{}, &PermanentError{URL: url, Status: res.StatusCode}
		default:
			lastStatus = res.StatusCode
			c.logger.Warn("fetch attempt got retryable status",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", res.StatusCode))
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		metrics.ObserveRetry()
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return scrape.FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
		}
	}

	metrics.ObservePage("failed")
	return scrape.FetchResult{}, &ExhaustedError{
		URL:        url,
		LastStatus: lastStatus,
		Attempts:   c.cfg.MaxAttempts,
	}
}

// backoff returns the delay after the given 1-based attempt: base, 2x, 4x...
func (c *Client) backoff(attempt int) time.Duration {
	return c.cfg.BackoffBase << (attempt - 1)
}

// isPermanentStatus reports statuses that retrying cannot fix. 429 stays
// retryable on purpose: it clears once the remote cools down.
func isPermanentStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
