package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/pkordes/tracesync/internal/domain"
	"github.com/pkordes/tracesync/internal/repo"
	"github.com/pkordes/tracesync/internal/service"
)

// Hand-written test doubles in the function-field style: each method is a
// function field, and tests set only the ones they need. Constructors give
// every field a harmless default so tests override selectively.

type mockTripRepo struct {
	saveAll              func(ctx context.Context, docs []domain.TripDocument) error
	findByStartDateRange func(ctx context.Context, scope domain.AccountScope, first, last time.Time, limit int) ([]domain.TripDocument, error)
	findByInterval       func(ctx context.Context, scope domain.AccountScope, start, end time.Time) (domain.TripDocument, error)
	update               func(ctx context.Context, doc domain.TripDocument) (domain.TripDocument, error)

	saveAllCalls [][]domain.TripDocument
	rangeCalls   int
	updateCalls  []domain.TripDocument
}

func newMockTripRepo() *mockTripRepo {
	m := &mockTripRepo{}
	m.saveAll = func(context.Context, []domain.TripDocument) error { return nil }
	m.findByStartDateRange = func(context.Context, domain.AccountScope, time.Time, time.Time, int) ([]domain.TripDocument, error) {
		return nil, nil
	}
	m.findByInterval = func(context.Context, domain.AccountScope, time.Time, time.Time) (domain.TripDocument, error) {
		return domain.TripDocument{}, domain.ErrNotFound
	}
	m.update = func(_ context.Context, doc domain.TripDocument) (domain.TripDocument, error) { return doc, nil }
	return m
}

func (m *mockTripRepo) SaveAll(ctx context.Context, docs []domain.TripDocument) error {
	m.saveAllCalls = append(m.saveAllCalls, docs)
	return m.saveAll(ctx, docs)
}

func (m *mockTripRepo) FindByStartDateRange(ctx context.Context, scope domain.AccountScope, first, last time.Time, limit int) ([]domain.TripDocument, error) {
	m.rangeCalls++
	return m.findByStartDateRange(ctx, scope, first, last, limit)
}

func (m *mockTripRepo) FindByInterval(ctx context.Context, scope domain.AccountScope, start, end time.Time) (domain.TripDocument, error) {
	return m.findByInterval(ctx, scope, start, end)
}

func (m *mockTripRepo) Update(ctx context.Context, doc domain.TripDocument) (domain.TripDocument, error) {
	m.updateCalls = append(m.updateCalls, doc)
	return m.update(ctx, doc)
}

var _ repo.TripRepo = (*mockTripRepo)(nil)

type mockAccountRepo struct {
	getSyncState  func(ctx context.Context, accountID string) (domain.SyncState, error)
	saveSyncState func(ctx context.Context, accountID string, state domain.SyncState) error

	savedStates []domain.SyncState
}

func newMockAccountRepo() *mockAccountRepo {
	m := &mockAccountRepo{}
	m.getSyncState = func(context.Context, string) (domain.SyncState, error) {
		return domain.SyncState{}, domain.ErrNotFound
	}
	m.saveSyncState = func(context.Context, string, domain.SyncState) error { return nil }
	return m
}

func (m *mockAccountRepo) GetSyncState(ctx context.Context, accountID string) (domain.SyncState, error) {
	return m.getSyncState(ctx, accountID)
}

func (m *mockAccountRepo) SaveSyncState(ctx context.Context, accountID string, state domain.SyncState) error {
	m.savedStates = append(m.savedStates, state)
	return m.saveSyncState(ctx, accountID, state)
}

var _ repo.AccountRepo = (*mockAccountRepo)(nil)

type mockJobRepo struct {
	enqueueRestart func(ctx context.Context, accountID string) error

	restartCalls int
}

func newMockJobRepo() *mockJobRepo {
	m := &mockJobRepo{}
	m.enqueueRestart = func(context.Context, string) error { return nil }
	return m
}

func (m *mockJobRepo) EnqueueRestart(ctx context.Context, accountID string) error {
	m.restartCalls++
	return m.enqueueRestart(ctx, accountID)
}

var _ repo.JobRepo = (*mockJobRepo)(nil)

type mockTraceClient struct {
	firstAndLast    func(ctx context.Context, token string) (domain.TimestampRange, error)
	collectionSince func(ctx context.Context, token, collection string, since time.Time, excludeBoundary bool) ([]domain.CollectionEntry, error)
	tripsForDay     func(ctx context.Context, token, day string) ([]domain.FullTrip, error)

	// mu guards the recorded calls: day fetches are issued concurrently.
	mu              sync.Mutex
	collectionCalls []string // collection names, in call order
	daysRequested   []string
}

func newMockTraceClient() *mockTraceClient {
	m := &mockTraceClient{}
	m.firstAndLast = func(context.Context, string) (domain.TimestampRange, error) {
		return domain.TimestampRange{}, nil
	}
	m.collectionSince = func(context.Context, string, string, time.Time, bool) ([]domain.CollectionEntry, error) {
		return nil, nil
	}
	m.tripsForDay = func(context.Context, string, string) ([]domain.FullTrip, error) { return nil, nil }
	return m
}

func (m *mockTraceClient) FirstAndLastTimestamp(ctx context.Context, token string) (domain.TimestampRange, error) {
	return m.firstAndLast(ctx, token)
}

func (m *mockTraceClient) CollectionSince(ctx context.Context, token, collection string, since time.Time, excludeBoundary bool) ([]domain.CollectionEntry, error) {
	m.mu.Lock()
	m.collectionCalls = append(m.collectionCalls, collection)
	m.mu.Unlock()
	return m.collectionSince(ctx, token, collection, since, excludeBoundary)
}

func (m *mockTraceClient) TripsForDay(ctx context.Context, token, day string) ([]domain.FullTrip, error) {
	m.mu.Lock()
	m.daysRequested = append(m.daysRequested, day)
	m.mu.Unlock()
	return m.tripsForDay(ctx, token, day)
}

var _ service.TraceClient = (*mockTraceClient)(nil)

// ---- fixtures --------------------------------------------------------------

func testScope() domain.AccountScope {
	return domain.AccountScope{Vendor: "agremob.com", AccountID: "account-1"}
}

// mdEntry builds a trip metadata entry with a 30-minute interval.
func mdEntry(start, write string) domain.CollectionEntry {
	st, err := time.Parse(domain.FmtTimeLayout, start)
	if err != nil {
		panic(err)
	}
	return domain.CollectionEntry{
		Data: domain.EntryData{
			StartFmtTime: start,
			EndFmtTime:   st.Add(30 * time.Minute).Format(domain.FmtTimeLayout),
		},
		Metadata: domain.EntryMetadata{WriteFmtTime: write},
	}
}

// manualEntry builds an annotation entry for the given interval and label.
func manualEntry(start, end, label, write string) domain.CollectionEntry {
	return domain.CollectionEntry{
		Data:     domain.EntryData{StartFmtTime: start, EndFmtTime: end, Label: label},
		Metadata: domain.EntryMetadata{WriteFmtTime: write},
	}
}

// fullTrip builds a trip feature with a 30-minute interval.
func fullTrip(start string) domain.FullTrip {
	st, err := time.Parse(domain.FmtTimeLayout, start)
	if err != nil {
		panic(err)
	}
	return domain.FullTrip{
		Type: "Feature",
		Properties: domain.TripProperties{
			StartFmtTime: start,
			EndFmtTime:   st.Add(30 * time.Minute).Format(domain.FmtTimeLayout),
		},
	}
}
