// Package repo contains all database access for the tracesync agent.
// Each record kind has its own file with an interface and a Postgres
// implementation. No sync logic lives here, only SQL and type mapping.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/tracesync/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test, giving free
// per-test isolation without any manual cleanup.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TripRepo defines the persistence operations for trip documents.
// The service layer depends on this interface, not the Postgres
// implementation, so it can be unit-tested with a mock.
type TripRepo interface {
	// SaveAll inserts the given documents in a single batch. Used for
	// chunk saves so a chunk commits as one round trip, not one call
	// per trip.
	SaveAll(ctx context.Context, docs []domain.TripDocument) error

	// FindByStartDateRange returns documents of the scope whose start date
	// falls within [first, last], ordered by start date descending, up to
	// limit rows. This is the dedup lookup.
	FindByStartDateRange(ctx context.Context, scope domain.AccountScope, first, last time.Time, limit int) ([]domain.TripDocument, error)

	// FindByInterval returns the single document of the scope whose
	// (start date, end date) exactly equals the given interval.
	// Returns domain.ErrNotFound when no document matches.
	FindByInterval(ctx context.Context, scope domain.AccountScope, start, end time.Time) (domain.TripDocument, error)

	// Update overwrites the series of an existing document (annotation
	// merge). Returns domain.ErrNotFound if the id no longer exists.
	Update(ctx context.Context, doc domain.TripDocument) (domain.TripDocument, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

const tripColumns = `id, source, source_account, capture_device, start_date, end_date, series, created_at, updated_at`

// SaveAll inserts all documents in one pgx batch.
func (r *pgTripRepo) SaveAll(ctx context.Context, docs []domain.TripDocument) error {
	if len(docs) == 0 {
		return nil
	}

	const q = `
		INSERT INTO trips (source, source_account, capture_device, start_date, end_date, series)
		VALUES (@source, @source_account, @capture_device, @start_date, @end_date, @series)`

	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(q, pgx.NamedArgs{
			"source":         doc.Source,
			"source_account": doc.SourceAccount,
			"capture_device": doc.CaptureDevice,
			"start_date":     doc.StartDate,
			"end_date":       doc.EndDate,
			"series":         doc.Series, // encoded as jsonb
		})
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("repo.TripRepo.SaveAll: %w", err)
		}
	}
	return nil
}

// FindByStartDateRange is the dedup lookup over the account's documents.
func (r *pgTripRepo) FindByStartDateRange(ctx context.Context, scope domain.AccountScope, first, last time.Time, limit int) ([]domain.TripDocument, error) {
	const q = `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE source = @source
		  AND source_account = @source_account
		  AND start_date >= @first
		  AND start_date <= @last
		ORDER BY start_date DESC
		LIMIT @limit`

	args := pgx.NamedArgs{
		"source":         scope.Vendor,
		"source_account": scope.AccountID,
		"first":          first,
		"last":           last,
		"limit":          limit,
	}

	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.FindByStartDateRange: %w", err)
	}
	defer rows.Close()

	var docs []domain.TripDocument
	for rows.Next() {
		doc, err := scanTripDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.TripRepo.FindByStartDateRange: scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TripRepo.FindByStartDateRange: rows: %w", err)
	}

	return docs, nil
}

// FindByInterval returns the one document matching the exact interval.
func (r *pgTripRepo) FindByInterval(ctx context.Context, scope domain.AccountScope, start, end time.Time) (domain.TripDocument, error) {
	const q = `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE source = @source
		  AND source_account = @source_account
		  AND start_date = @start_date
		  AND end_date = @end_date
		LIMIT 1`

	args := pgx.NamedArgs{
		"source":         scope.Vendor,
		"source_account": scope.AccountID,
		"start_date":     start,
		"end_date":       end,
	}

	row := r.db.QueryRow(ctx, q, args)
	doc, err := scanTripDocument(row)
	if err != nil {
		return domain.TripDocument{}, fmt.Errorf("repo.TripRepo.FindByInterval: %w", err)
	}
	return doc, nil
}

// Update overwrites the series of an existing document.
func (r *pgTripRepo) Update(ctx context.Context, doc domain.TripDocument) (domain.TripDocument, error) {
	const q = `
		UPDATE trips
		SET series     = @series,
		    updated_at = now()
		WHERE id = @id
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"id":     doc.ID,
		"series": doc.Series,
	}

	row := r.db.QueryRow(ctx, q, args)
	updated, err := scanTripDocument(row)
	if err != nil {
		return domain.TripDocument{}, fmt.Errorf("repo.TripRepo.Update: %w", err)
	}
	return updated, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing scanTripDocument
// to be reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// scanTripDocument maps a single database row into a domain.TripDocument.
func scanTripDocument(s scanner) (domain.TripDocument, error) {
	var (
		doc domain.TripDocument
		id  pgtype.UUID
	)

	err := s.Scan(&id, &doc.Source, &doc.SourceAccount, &doc.CaptureDevice,
		&doc.StartDate, &doc.EndDate, &doc.Series, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TripDocument{}, domain.ErrNotFound
		}
		return domain.TripDocument{}, err
	}

	doc.ID = uuid.UUID(id.Bytes)
	return doc, nil
}
