// Package postgres provides the Postgres-backed persistence layer.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// scraperModule tags every log row this engine writes.
const scraperModule = "activities"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// UpsertBatchSize caps how many upserts ride in one wire batch inside
	// the commit transaction.
	UpsertBatchSize int
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements the section, batch, fetch-log and run stores on Postgres.
type Store struct {
	pool      dbPool
	batchSize int
}

// New creates a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, batchSize: normalizeBatchSize(cfg.UpsertBatchSize)}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, upsertBatchSize int) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, batchSize: normalizeBatchSize(upsertBatchSize)}, nil
}

func normalizeBatchSize(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies store reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const sectionColumns = `id, name, country_code, activities_platform_slug,
	can_scrape_activities, last_scraped, last_attempt, scrape_count, scrape_status`

// ListEligible returns every section whose scrape capability is true or not
// yet probed. Ordering is left to the scheduler.
func (s *Store) ListEligible(ctx context.Context) ([]scrape.Section, error) {
	query := `SELECT ` + sectionColumns + `
FROM sections
WHERE can_scrape_activities IS DISTINCT FROM FALSE`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list eligible sections: %w", err)
	}
	defer rows.Close()

	var sections []scrape.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible sections: %w", err)
	}
	return sections, nil
}

// GetSectionBySlug fetches one section by its activities platform slug.
func (s *Store) GetSectionBySlug(ctx context.Context, slug string) (scrape.Section, error) {
	query := `SELECT ` + sectionColumns + `
FROM sections
WHERE activities_platform_slug = $1`

	sec, err := scanSection(s.pool.QueryRow(ctx, query, slug))
	if err != nil {
		return scrape.Section{}, fmt.Errorf("section %q: %w", slug, err)
	}
	return sec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSection(row rowScanner) (scrape.Section, error) {
	var sec scrape.Section
	if err := row.Scan(
		&sec.ID,
		&sec.Name,
		&sec.CountryCode,
		&sec.ActivitiesSlug,
		&sec.CanScrape,
		&sec.LastScraped,
		&sec.LastAttempt,
		&sec.ScrapeCount,
		&sec.Status,
	); err != nil {
		return scrape.Section{}, fmt.Errorf("scan section: %w", err)
	}
	return sec, nil
}

// MarkInProgress claims a section before its crawl starts.
func (s *Store) MarkInProgress(ctx context.Context, sectionID int64) error {
	query := `UPDATE sections SET scrape_status = $1, updated_at = NOW() WHERE id = $2`
	if _, err := s.pool.Exec(ctx, query, scrape.SectionStatusInProgress, sectionID); err != nil {
		return fmt.Errorf("mark section %d in progress: %w", sectionID, err)
	}
	return nil
}

// RecordFailedFetch appends one terminal page-fetch failure.
func (s *Store) RecordFailedFetch(ctx context.Context, failure scrape.FailedFetch) error {
	query := `
INSERT INTO failed_fetches (url, section_id, http_status_code, error_message, retry_count, scraper_module, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, query,
		failure.URL,
		failure.SectionID,
		failure.StatusCode,
		failure.Message,
		failure.RetryCount,
		scraperModule,
		failure.OccurredAt,
	); err != nil {
		return fmt.Errorf("record failed fetch: %w", err)
	}
	return nil
}

const upsertActivitySQL = `
INSERT INTO activities (
	event_slug, url, title, description, city, country_code,
	participants, activity_type, start_date, is_future_event, is_valid, section_id
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (event_slug) DO UPDATE SET
	url = COALESCE(NULLIF(EXCLUDED.url, ''), activities.url),
	title = EXCLUDED.title,
	description = COALESCE(NULLIF(EXCLUDED.description, ''), activities.description),
	city = COALESCE(NULLIF(EXCLUDED.city, ''), activities.city),
	country_code = COALESCE(NULLIF(EXCLUDED.country_code, ''), activities.country_code),
	participants = COALESCE(EXCLUDED.participants, activities.participants),
	activity_type = COALESCE(NULLIF(EXCLUDED.activity_type, ''), activities.activity_type),
	start_date = COALESCE(EXCLUDED.start_date, activities.start_date),
	is_future_event = EXCLUDED.is_future_event,
	is_valid = EXCLUDED.is_valid,
	section_id = EXCLUDED.section_id,
	updated_at = NOW()`

const insertValidationErrorSQL = `
INSERT INTO validation_errors (section_id, activity_event_slug, field_name, error_message, raw_data, scraper_module, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// CommitBatch applies one section's crawl results atomically: every upsert,
// every validation failure, and the freshness update commit together or the
// whole transaction rolls back, leaving the section eligible for retry.
func (s *Store) CommitBatch(ctx context.Context, batch scrape.CommitBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.sendUpserts(ctx, tx, batch.Activities); err != nil {
		return err
	}
	if err := s.sendRejections(ctx, tx, batch.Rejections); err != nil {
		return err
	}
	if err := s.updateSection(ctx, tx, batch); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch for section %d: %w", batch.Section.ID, err)
	}
	return nil
}

// sendUpserts queues activity upserts in wire batches of batchSize within
// the surrounding transaction.
func (s *Store) sendUpserts(ctx context.Context, tx pgx.Tx, activities []scrape.Activity) error {
	for start := 0; start < len(activities); start += s.batchSize {
		end := min(start+s.batchSize, len(activities))

		var wire pgx.Batch
		for _, a := range activities[start:end] {
			wire.Queue(upsertActivitySQL,
				a.EventSlug,
				a.URL,
				a.Title,
				a.Description,
				a.City,
				a.CountryCode,
				a.Participants,
				a.ActivityType,
				a.StartDate,
				a.IsFuture,
				true,
				a.SectionID,
			)
		}

		results := tx.SendBatch(ctx, &wire)
		for i := start; i < end; i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert activity %q: %w", activities[i].EventSlug, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close upsert batch: %w", err)
		}
	}
	return nil
}

func (s *Store) sendRejections(ctx context.Context, tx pgx.Tx, rejections []scrape.ValidationFailure) error {
	for _, rej := range rejections {
		raw, err := json.Marshal(rej.Raw)
		if err != nil {
			return fmt.Errorf("marshal rejected record: %w", err)
		}
		if _, err := tx.Exec(ctx, insertValidationErrorSQL,
			rej.SectionID,
			rej.EventSlug,
			rej.Field,
			rej.Message,
			raw,
			scraperModule,
			rej.OccurredAt,
		); err != nil {
			return fmt.Errorf("record validation failure: %w", err)
		}
	}
	return nil
}

// updateSection writes the terminal freshness metadata. Failed crawls keep
// last_scraped and scrape_count untouched so staleness ordering retries them.
func (s *Store) updateSection(ctx context.Context, tx pgx.Tx, batch scrape.CommitBatch) error {
	var (
		query string
		args  []any
	)
	if batch.Outcome == scrape.SectionStatusCompleted {
		query = `
UPDATE sections
SET scrape_status = $1, last_scraped = $2, scrape_count = scrape_count + 1, last_attempt = $3, updated_at = NOW()
WHERE id = $4`
		args = []any{batch.Outcome, batch.CrawlStarted, batch.AttemptedAt, batch.Section.ID}
	} else {
		query = `
UPDATE sections
SET scrape_status = $1, last_attempt = $2, updated_at = NOW()
WHERE id = $3`
		args = []any{batch.Outcome, batch.AttemptedAt, batch.Section.ID}
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update section %d: %w", batch.Section.ID, err)
	}
	return nil
}

// CreateRun inserts the row for a starting coordinator run.
func (s *Store) CreateRun(ctx context.Context, run scrape.RunStatus) error {
	query := `
INSERT INTO scraper_runs (id, module, status, started_at, sections_processed, sections_failed)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Module,
		run.State,
		run.StartedAt,
		run.SectionsProcessed,
		run.SectionsFailed,
	); err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun finalizes a run row with its terminal state and counters.
func (s *Store) FinishRun(ctx context.Context, run scrape.RunStatus) error {
	query := `
UPDATE scraper_runs
SET status = $2, finished_at = $3, sections_processed = $4, sections_failed = $5, error_summary = NULLIF($6, '')
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query,
		run.ID,
		run.State,
		run.FinishedAt,
		run.SectionsProcessed,
		run.SectionsFailed,
		run.ErrorSummary,
	); err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}
