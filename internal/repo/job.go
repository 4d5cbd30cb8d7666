package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// JobRepo enqueues restart jobs. When a run exhausts its time budget it
// inserts one pending job row; an external job runner picks it up and
// launches the next invocation, which resumes from the persisted watermark.
type JobRepo interface {
	// EnqueueRestart inserts a pending restart job for the account.
	// Fire-and-forget: the run does not wait for or chain the job.
	EnqueueRestart(ctx context.Context, accountID string) error
}

// pgJobRepo is the Postgres implementation of JobRepo.
type pgJobRepo struct {
	db db
}

// NewJobRepo constructs a JobRepo backed by the provided db connection.
func NewJobRepo(db db) JobRepo {
	return &pgJobRepo{db: db}
}

// EnqueueRestart inserts the job row.
func (r *pgJobRepo) EnqueueRestart(ctx context.Context, accountID string) error {
	const q = `
		INSERT INTO sync_jobs (account_id, status)
		VALUES (@account_id, 'pending')`

	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"account_id": accountID}); err != nil {
		return fmt.Errorf("repo.JobRepo.EnqueueRestart: %w", err)
	}
	return nil
}
