// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scraperPagesTotal         *prometheus.CounterVec
	scraperFetchRetriesTotal  prometheus.Counter
	scraperRateLimitDelaySecs prometheus.Histogram
	scraperSectionsTotal      *prometheus.CounterVec
	scraperRecordsTotal       *prometheus.CounterVec
	scraperActiveCrawls       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of listing pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of fetch retry attempts.",
			},
		)

		scraperRateLimitDelaySecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of delays introduced by the global request gate.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		scraperSectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_sections_total",
				Help: "Total number of sections processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scraperRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_total",
				Help: "Total number of activity records handled, labeled by result.",
			},
			[]string{"result"},
		)

		scraperActiveCrawls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_crawls",
				Help: "Number of section crawls currently in flight.",
			},
		)
	})
}

// ObservePage counts one fetched page by outcome ("ok" or "failed").
func ObservePage(outcome string) {
	if scraperPagesTotal == nil {
		return
	}
	scraperPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one fetch retry attempt.
func ObserveRetry() {
	if scraperFetchRetriesTotal == nil {
		return
	}
	scraperFetchRetriesTotal.Inc()
}

// ObserveRateLimitDelay records time spent waiting on the request gate.
func ObserveRateLimitDelay(d time.Duration) {
	if scraperRateLimitDelaySecs == nil {
		return
	}
	scraperRateLimitDelaySecs.Observe(d.Seconds())
}

// ObserveSection counts one section reaching a terminal status.
func ObserveSection(status string) {
	if scraperSectionsTotal == nil {
		return
	}
	scraperSectionsTotal.WithLabelValues(status).Inc()
}

// ObserveRecords counts records by result ("upserted" or "rejected").
func ObserveRecords(result string, n int) {
	if scraperRecordsTotal == nil || n <= 0 {
		return
	}
	scraperRecordsTotal.WithLabelValues(result).Add(float64(n))
}

// CrawlStarted increments the in-flight crawl gauge.
func CrawlStarted() {
	if scraperActiveCrawls == nil {
		return
	}
	scraperActiveCrawls.Inc()
}

// CrawlFinished decrements the in-flight crawl gauge.
func CrawlFinished() {
	if scraperActiveCrawls == nil {
		return
	}
	scraperActiveCrawls.Dec()
}
