package scrape

import (
	"context"
	"time"
)

// Fetcher performs one rate-limited, retried HTTP GET and returns the page
// body with its status code.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// FetchResult is the successful result of a Fetcher call.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// SectionStore reads the section catalog and claims sections for crawling.
type SectionStore interface {
	// ListEligible returns a snapshot of every section whose CanScrape flag
	// is true or unknown, in no particular order.
	ListEligible(ctx context.Context) ([]Section, error)
	// MarkInProgress transitions the section to in_progress before a crawl.
	MarkInProgress(ctx context.Context, sectionID int64) error
}

// BatchStore applies one section's commit batch atomically.
type BatchStore interface {
	CommitBatch(ctx context.Context, batch CommitBatch) error
}

// FetchLog appends terminal page-fetch failures.
type FetchLog interface {
	RecordFailedFetch(ctx context.Context, failure FailedFetch) error
}

// RunStore persists run-level status rows.
type RunStore interface {
	CreateRun(ctx context.Context, run RunStatus) error
	FinishRun(ctx context.Context, run RunStatus) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
