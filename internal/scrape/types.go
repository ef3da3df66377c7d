// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// SectionStatus represents the lifecycle state of a section crawl attempt.
type SectionStatus string

// Section status values persisted in the sections table.
const (
	SectionStatusPending    SectionStatus = "pending"
	SectionStatusInProgress SectionStatus = "in_progress"
	SectionStatusCompleted  SectionStatus = "completed"
	SectionStatusFailed     SectionStatus = "failed"
)

// Section is one remote organisational unit whose activity listings we crawl.
// Catalog fields are created by the external seed loader; this engine only
// reads them and mutates the freshness metadata.
type Section struct {
	ID             int64
	Name           string
	CountryCode    string
	ActivitiesSlug string
	CanScrape      *bool
	LastScraped    *time.Time
	LastAttempt    *time.Time
	ScrapeCount    int
	Status         SectionStatus
}

// Eligible reports whether the section may be crawled. A nil CanScrape flag
// means capability has not been probed yet and counts as eligible.
func (s Section) Eligible() bool {
	return s.CanScrape == nil || *s.CanScrape
}

// RawRecord is one listing entry exactly as extracted from page content.
// All fields are unvalidated strings; absence is the empty string. Undated is
// set when the entry carries no dates block at all, which is the only case
// where a missing start date is acceptable downstream.
type RawRecord struct {
	Slug         string
	Title        string
	URL          string
	Description  string
	City         string
	Country      string
	Participants string
	ActivityType string
	StartDate    string
	Undated      bool
}

// Activity is a validated record eligible for commit, keyed by EventSlug.
type Activity struct {
	EventSlug    string
	URL          string
	Title        string
	Description  string
	City         string
	CountryCode  string
	Participants *int
	ActivityType string
	StartDate    *time.Time
	IsFuture     bool
	SectionID    int64
}

// FailedFetch is one exhausted or permanently failed page fetch.
// StatusCode is nil for pure network errors.
type FailedFetch struct {
	URL        string
	SectionID  int64
	StatusCode *int
	Message    string
	RetryCount int
	OccurredAt time.Time
}

// ValidationFailure is one record the validator refused, with enough raw
// context to debug the source page later.
type ValidationFailure struct {
	SectionID  int64
	EventSlug  string
	Field      string
	Message    string
	Raw        RawRecord
	OccurredAt time.Time
}

// RunState is the lifecycle state of one coordinator run.
type RunState string

// Run states persisted in the scraper_runs table.
const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// RunStatus summarises one coordinator execution.
type RunStatus struct {
	ID                string
	Module            string
	State             RunState
	StartedAt         time.Time
	FinishedAt        *time.Time
	SectionsProcessed int
	SectionsFailed    int
	ErrorSummary      string
}

// CrawlOutcome is everything a section crawl produced, handed whole to the
// ingestion pipeline. Records is an immutable snapshot; the crawler never
// touches it after returning.
type CrawlOutcome struct {
	Section        Section
	StartedAt      time.Time
	Records        []RawRecord
	PagesSucceeded int
	PagesFailed    int
	PagesSkipped   int
}

// Succeeded reports whether the crawl fetched at least one page, which is the
// bar for marking the section completed even if zero records validated.
func (o CrawlOutcome) Succeeded() bool {
	return o.PagesSucceeded > 0
}

// CommitBatch is the atomic unit the store applies for one section: all
// upserts, all validation failures, and the freshness update commit together
// or not at all.
type CommitBatch struct {
	Section      Section
	Outcome      SectionStatus
	CrawlStarted time.Time
	AttemptedAt  time.Time
	Activities   []Activity
	Rejections   []ValidationFailure
}
