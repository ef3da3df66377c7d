// Package ratelimit implements the single global request gate shared by all
// concurrent section crawls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/esnpulse/pulse-crawler/internal/metrics"
)

// Gate paces outbound requests so that concurrency never multiplies the
// effective request rate. One token is released per configured interval,
// burst 1, so callers serialize at the remote host's pace.
type Gate struct {
	limiter *rate.Limiter
}

// Config holds rate gate configuration.
type Config struct {
	// MinInterval is the minimum spacing between any two outbound requests.
	MinInterval time.Duration
}

// New creates a Gate. A non-positive interval disables pacing.
func New(cfg Config) *Gate {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Gate{
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until a token is available, respecting the context.
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
