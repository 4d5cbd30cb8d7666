package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pkordes/tracesync/internal/domain"
	"github.com/pkordes/tracesync/internal/repo"
)

// TraceClient is the slice of the trace-server API the runner needs.
// Satisfied by *trace.Client; tests substitute a mock.
type TraceClient interface {
	FirstAndLastTimestamp(ctx context.Context, token string) (domain.TimestampRange, error)
	CollectionSince(ctx context.Context, token, collection string, since time.Time, excludeBoundary bool) ([]domain.CollectionEntry, error)
	TripsForDay(ctx context.Context, token, day string) ([]domain.FullTrip, error)
}

// RunnerConfig carries the per-account parameters of a sync run.
type RunnerConfig struct {
	// Scope is the destination account all reads and writes are scoped to.
	Scope domain.AccountScope

	// Token authenticates against the trace server.
	Token string

	// DeviceName is recorded on saved trips as the capture device.
	DeviceName string

	// ChunkSize is the number of trip metadata entries per checkpoint.
	// Zero or negative falls back to 100.
	ChunkSize int

	// TimeLimit is the external wall-clock budget for the whole run.
	TimeLimit time.Duration

	// SafetyMargin is subtracted from TimeLimit so the run stops while
	// there is still room to finish the chunk in flight.
	SafetyMargin time.Duration
}

// defaultChunkSize bounds per-iteration memory and creates checkpoint
// boundaries for the time-budget check.
const defaultChunkSize = 100

// Runner drives one end-to-end sync run: watermark resolution, chunked trip
// processing under the time budget, annotation merging, and watermark
// persistence. A Runner is cheap; construct one per run.
type Runner struct {
	client   TraceClient
	trips    repo.TripRepo
	accounts repo.AccountRepo
	jobs     repo.JobRepo
	cfg      RunnerConfig
	log      *slog.Logger
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithClock replaces the time source. Tests use this to simulate an
// exhausted budget without sleeping.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner constructs a Runner.
func NewRunner(client TraceClient, trips repo.TripRepo, accounts repo.AccountRepo, jobs repo.JobRepo, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	r := &Runner{
		client:   client,
		trips:    trips,
		accounts: accounts,
		jobs:     jobs,
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one sync run. Login failures surface as
// domain.ErrLoginFailed; every other failure surfaces as
// domain.ErrVendorUnavailable. A run cut short by the time budget is a
// success: the restart job carries on from the persisted watermark.
func (r *Runner) Run(ctx context.Context) error {
	err := r.run(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrLoginFailed) || errors.Is(err, domain.ErrVendorUnavailable) {
		return err
	}
	return fmt.Errorf("sync run: %v: %w", err, domain.ErrVendorUnavailable)
}

func (r *Runner) run(ctx context.Context) error {
	start := r.now()
	r.log.Info("starting sync run", "account", r.cfg.Scope.AccountID, "provider_vendor", r.cfg.Scope.Vendor)

	state, firstRun, err := r.resolveWatermark(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		// Bootstrap found no data on the server. Nothing to do.
		return nil
	}

	tripStart := *state.LastSavedTripDate
	r.log.Info("fetching trip metadata", "since", tripStart)
	metadata, err := r.client.CollectionSince(ctx, r.cfg.Token, domain.TripCollection, tripStart, !firstRun)
	if err != nil {
		return err
	}

	chunks := chunkEntries(metadata, r.cfg.ChunkSize)
	r.log.Info("trip metadata fetched", "entries", len(metadata), "chunks", len(chunks))

	for _, chunk := range chunks {
		lastWrite, err := r.fetchAndSaveTrips(ctx, chunk)
		if err != nil {
			return err
		}
		if lastWrite != nil {
			state.LastSavedTripDate = lastWrite
			r.persistState(ctx, *state)
		}
		if r.budgetExhausted(start) {
			r.log.Info("time budget exhausted, scheduling restart", "elapsed", r.now().Sub(start))
			return r.jobs.EnqueueRestart(ctx, r.cfg.Scope.AccountID)
		}
	}

	if r.budgetExhausted(start) {
		r.log.Info("no budget left for manual entries, scheduling restart", "elapsed", r.now().Sub(start))
		return r.jobs.EnqueueRestart(ctx, r.cfg.Scope.AccountID)
	}

	lastManual, err := r.syncManualEntries(ctx, *state.LastSavedManualDate, firstRun)
	if err != nil {
		return err
	}
	if lastManual != nil {
		state.LastSavedManualDate = lastManual
		r.persistState(ctx, *state)
	}

	r.log.Info("sync run complete", "elapsed", r.now().Sub(start))
	return nil
}

// resolveWatermark loads the account watermarks, falling back to range
// discovery on the very first run. Returns (nil, false, nil) when the
// bootstrap finds no usable range: the run terminates successfully with
// nothing to do. firstRun is true on bootstrap, which flips the boundary
// exclusion off for the first fetch of each stream, since there is no
// prior record to exclude yet.
func (r *Runner) resolveWatermark(ctx context.Context) (*domain.SyncState, bool, error) {
	state, err := r.accounts.GetSyncState(ctx, r.cfg.Scope.AccountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	firstRun := false
	if state.LastSavedTripDate == nil {
		rng, err := r.client.FirstAndLastTimestamp(ctx, r.cfg.Token)
		if err != nil {
			return nil, false, err
		}
		if rng.IsZero() {
			r.log.Info("no trips on the server yet, nothing to sync")
			return nil, false, nil
		}
		bootstrap := rng.Start()
		state.LastSavedTripDate = &bootstrap
		firstRun = true
	}
	if state.LastSavedManualDate == nil {
		state.LastSavedManualDate = state.LastSavedTripDate
	}
	return &state, firstRun, nil
}

// fetchAndSaveTrips processes one metadata chunk: derive the calendar days
// the chunk spans, fetch full trips per day, keep only trips whose start
// time exactly matches a chunk entry, drop stored duplicates, and save the
// survivors as one batch. Returns the chunk's last metadata write time when
// the filtered set was non-empty. The caller advances the watermark on
// that value even if dedup then dropped every candidate, since those trips
// are already durably stored.
func (r *Runner) fetchAndSaveTrips(ctx context.Context, chunk []domain.CollectionEntry) (*time.Time, error) {
	r.log.Info("processing trip chunk", "entries", len(chunk))

	days := map[string]bool{}
	startTimes := make(map[string]bool, len(chunk))
	for _, e := range chunk {
		st, err := e.StartTime()
		if err != nil {
			return nil, fmt.Errorf("trip metadata start time: %w", err)
		}
		days[st.UTC().Format("2006-01-02")] = true
		startTimes[e.Data.StartFmtTime] = true
	}

	dayList := make([]string, 0, len(days))
	for day := range days {
		dayList = append(dayList, day)
	}
	sort.Strings(dayList)

	// Day fetches are independent; issue them concurrently. Results are
	// keyed by exact start-time match afterwards, so completion order
	// does not matter.
	byDay := make([][]domain.FullTrip, len(dayList))
	g, gctx := errgroup.WithContext(ctx)
	for i, day := range dayList {
		i, day := i, day
		g.Go(func() error {
			r.log.Debug("fetching trips for day", "day", day)
			trips, err := r.client.TripsForDay(gctx, r.cfg.Token, day)
			if err != nil {
				return err
			}
			byDay[i] = trips
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The day granularity over-returns; keep only the trips the chunk
	// actually announced.
	var toSave []domain.FullTrip
	for _, trips := range byDay {
		for _, trip := range trips {
			if startTimes[trip.Properties.StartFmtTime] {
				toSave = append(toSave, trip)
			}
		}
	}
	if len(toSave) == 0 {
		return nil, nil
	}
	r.log.Info("trips found", "count", len(toSave))

	fresh, err := KeepOnlyNewTrips(ctx, r.trips, r.cfg.Scope, toSave)
	if err != nil {
		return nil, err
	}

	if len(fresh) > 0 {
		docs := make([]domain.TripDocument, 0, len(fresh))
		for _, trip := range fresh {
			doc, err := r.newTripDocument(trip)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if err := r.trips.SaveAll(ctx, docs); err != nil {
			return nil, err
		}
		r.log.Info("trips saved", "count", len(docs))
	}

	lastWrite, err := chunk[len(chunk)-1].WriteTime()
	if err != nil {
		return nil, fmt.Errorf("trip metadata write time: %w", err)
	}
	return &lastWrite, nil
}

// newTripDocument wraps a fetched trip into its persisted form.
func (r *Runner) newTripDocument(trip domain.FullTrip) (domain.TripDocument, error) {
	start, err := trip.StartTime()
	if err != nil {
		return domain.TripDocument{}, fmt.Errorf("trip start time: %w", err)
	}
	end, err := trip.EndTime()
	if err != nil {
		return domain.TripDocument{}, fmt.Errorf("trip end time: %w", err)
	}
	return domain.TripDocument{
		Source:        r.cfg.Scope.Vendor,
		SourceAccount: r.cfg.Scope.AccountID,
		CaptureDevice: r.cfg.DeviceName,
		StartDate:     start,
		EndDate:       end,
		Series:        []domain.FullTrip{trip},
	}, nil
}

// budgetExhausted reports whether the cooperative time budget is spent.
// The check is advisory: a chunk in flight always completes first, bounding
// the worst-case overrun by one chunk's processing time.
func (r *Runner) budgetExhausted(start time.Time) bool {
	return r.now().Sub(start) >= r.cfg.TimeLimit-r.cfg.SafetyMargin
}

// persistState writes the watermark record. Best-effort: a failure widens
// the next run's window, which is safe because dedup is idempotent.
func (r *Runner) persistState(ctx context.Context, state domain.SyncState) {
	if err := r.accounts.SaveSyncState(ctx, r.cfg.Scope.AccountID, state); err != nil {
		r.log.Warn("failed to persist watermark", "error", err)
	}
}

// chunkEntries splits entries into consecutive chunks of at most size
// elements, preserving order.
func chunkEntries(entries []domain.CollectionEntry, size int) [][]domain.CollectionEntry {
	var chunks [][]domain.CollectionEntry
	for len(entries) > size {
		chunks = append(chunks, entries[:size])
		entries = entries[size:]
	}
	if len(entries) > 0 {
		chunks = append(chunks, entries)
	}
	return chunks
}
