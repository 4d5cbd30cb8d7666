package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tracesync/internal/domain"
	"github.com/pkordes/tracesync/internal/repo"
	"github.com/pkordes/tracesync/testutil"
)

// newTestTx opens a transaction against the test database. The transaction
// is automatically rolled back when the test finishes, giving free per-test
// isolation.
//
// Requires TEST_DATABASE_URL to be set; migrations are applied by TestMain.
func newTestTx(t *testing.T) pgx.Tx {
	t.Helper()
	pool := testutil.NewPool(t)

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err, "begin transaction")

	t.Cleanup(func() {
		// Rollback discards all changes made during the test.
		_ = tx.Rollback(context.Background())
	})

	return tx
}

func testScope() domain.AccountScope {
	return domain.AccountScope{Vendor: "agremob.com", AccountID: "account-1"}
}

// docFixture returns a TripDocument with a one-hour trip on the given start
// time. Callers can override fields after calling this function.
func docFixture(start time.Time) domain.TripDocument {
	end := start.Add(time.Hour)
	return domain.TripDocument{
		Source:        "agremob.com",
		SourceAccount: "account-1",
		CaptureDevice: "Tracemob",
		StartDate:     start,
		EndDate:       end,
		Series: []domain.FullTrip{{
			Type: "Feature",
			Properties: domain.TripProperties{
				StartFmtTime: start.Format(domain.FmtTimeLayout),
				EndFmtTime:   end.Format(domain.FmtTimeLayout),
				Distance:     1200,
			},
		}},
	}
}

func TestTripRepo_SaveAll_And_FindByStartDateRange(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)
	ctx := context.Background()

	base := time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)
	docs := []domain.TripDocument{
		docFixture(base),
		docFixture(base.Add(2 * time.Hour)),
		docFixture(base.Add(24 * time.Hour)),
	}

	require.NoError(t, r.SaveAll(ctx, docs))

	got, err := r.FindByStartDateRange(ctx, testScope(), base, base.Add(3*time.Hour), 100)

	require.NoError(t, err)
	require.Len(t, got, 2, "third doc starts outside the range")
	// Ordered by start date descending.
	assert.True(t, got[0].StartDate.After(got[1].StartDate))
	assert.NotEqual(t, [16]byte{}, got[0].ID, "ID should be DB-generated")
	require.Len(t, got[0].Series, 1, "series survives the jsonb round trip")
	assert.Equal(t, 1200.0, got[0].Series[0].Properties.Distance)
}

func TestTripRepo_SaveAll_Empty(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)

	assert.NoError(t, r.SaveAll(context.Background(), nil))
}

func TestTripRepo_FindByStartDateRange_ScopedToAccount(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)
	ctx := context.Background()

	base := time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)
	mine := docFixture(base)
	other := docFixture(base)
	other.SourceAccount = "someone-else"

	require.NoError(t, r.SaveAll(ctx, []domain.TripDocument{mine, other}))

	got, err := r.FindByStartDateRange(ctx, testScope(), base, base, 100)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "account-1", got[0].SourceAccount)
}

func TestTripRepo_FindByInterval(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)
	ctx := context.Background()

	start := time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.SaveAll(ctx, []domain.TripDocument{docFixture(start)}))

	got, err := r.FindByInterval(ctx, testScope(), start, start.Add(time.Hour))

	require.NoError(t, err)
	assert.True(t, got.StartDate.Equal(start))
}

func TestTripRepo_FindByInterval_NotFound(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)

	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := r.FindByInterval(context.Background(), testScope(), start, start.Add(time.Hour))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTripRepo_Update(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)
	ctx := context.Background()

	start := time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.SaveAll(ctx, []domain.TripDocument{docFixture(start)}))

	saved, err := r.FindByInterval(ctx, testScope(), start, start.Add(time.Hour))
	require.NoError(t, err)

	saved.Series[0].Properties.ManualPurpose = "COMMUTE"
	updated, err := r.Update(ctx, saved)

	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	require.Len(t, updated.Series, 1)
	assert.Equal(t, "COMMUTE", updated.Series[0].Properties.ManualPurpose)
}

func TestTripRepo_Update_NotFound(t *testing.T) {
	tx := newTestTx(t)
	r := repo.NewTripRepo(tx)

	ghost := docFixture(time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC))
	ghost.ID = [16]byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef,
		0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef}

	_, err := r.Update(context.Background(), ghost)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
