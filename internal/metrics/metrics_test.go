package metrics

import (
	"testing"
	"time"
)

func TestObserversBeforeInitDoNotPanic(t *testing.T) {
	// Deliberately not parallel: exercises the uninitialized nil-guard path
	// before any other test calls Init.
	ObservePage("ok")
	ObserveRetry()
	ObserveRateLimitDelay(time.Second)
	ObserveSection("completed")
	ObserveRecords("upserted", 3)
	CrawlStarted()
	CrawlFinished()
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	ObservePage("failed")
	ObserveSection("failed")
	ObserveRecords("rejected", 1)
	ObserveRecords("rejected", 0)
	ObserveRateLimitDelay(250 * time.Millisecond)
}
