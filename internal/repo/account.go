package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pkordes/tracesync/internal/domain"
)

// AccountRepo defines the persistence operations for the per-account
// watermark record.
type AccountRepo interface {
	// GetSyncState returns the watermark record for the account.
	// Returns domain.ErrNotFound when the account has never been synced.
	GetSyncState(ctx context.Context, accountID string) (domain.SyncState, error)

	// SaveSyncState upserts the full watermark record for the account.
	// Callers pass the complete state; a partial advance is expressed by
	// mutating the in-memory state and writing it back whole.
	SaveSyncState(ctx context.Context, accountID string, state domain.SyncState) error
}

// pgAccountRepo is the Postgres implementation of AccountRepo.
type pgAccountRepo struct {
	db db
}

// NewAccountRepo constructs an AccountRepo backed by the provided db connection.
func NewAccountRepo(db db) AccountRepo {
	return &pgAccountRepo{db: db}
}

// GetSyncState reads the watermark record.
func (r *pgAccountRepo) GetSyncState(ctx context.Context, accountID string) (domain.SyncState, error) {
	const q = `
		SELECT last_saved_trip_date, last_saved_manual_date
		FROM accounts
		WHERE id = @id`

	var state domain.SyncState
	err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": accountID}).
		Scan(&state.LastSavedTripDate, &state.LastSavedManualDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SyncState{}, domain.ErrNotFound
		}
		return domain.SyncState{}, fmt.Errorf("repo.AccountRepo.GetSyncState: %w", err)
	}
	return state, nil
}

// SaveSyncState upserts the watermark record.
func (r *pgAccountRepo) SaveSyncState(ctx context.Context, accountID string, state domain.SyncState) error {
	const q = `
		INSERT INTO accounts (id, last_saved_trip_date, last_saved_manual_date)
		VALUES (@id, @trip_date, @manual_date)
		ON CONFLICT (id) DO UPDATE
		SET last_saved_trip_date   = EXCLUDED.last_saved_trip_date,
		    last_saved_manual_date = EXCLUDED.last_saved_manual_date,
		    updated_at             = now()`

	args := pgx.NamedArgs{
		"id":          accountID,
		"trip_date":   state.LastSavedTripDate,
		"manual_date": state.LastSavedManualDate,
	}

	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("repo.AccountRepo.SaveSyncState: %w", err)
	}
	return nil
}
