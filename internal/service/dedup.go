// Package service contains the sync logic of the tracesync agent: the
// dedup/merge algorithm, the manual-annotation join, and the chunked run
// orchestration. No SQL and no HTTP live here; the package depends on the
// repo interfaces and a trace-client interface.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/tracesync/internal/domain"
	"github.com/pkordes/tracesync/internal/repo"
)

// intervalKey identifies a trip by its start and end instants at timestamp
// resolution, independent of string formatting or offset representation.
type intervalKey struct {
	start, end int64
}

// KeepOnlyNewTrips returns the candidates that have no stored duplicate.
// A candidate is a duplicate iff an existing document of the scope has an
// identical start date AND identical end date, compared as instants rather
// than strings. Order is preserved; empty input returns empty without
// querying the store.
//
// Candidates must be in store-insertion order: the first and last start
// times bound the range query against the store.
func KeepOnlyNewTrips(ctx context.Context, trips repo.TripRepo, scope domain.AccountScope, candidates []domain.FullTrip) ([]domain.FullTrip, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	first, err := candidates[0].StartTime()
	if err != nil {
		return nil, fmt.Errorf("service.KeepOnlyNewTrips: first candidate: %w", err)
	}
	last, err := candidates[len(candidates)-1].StartTime()
	if err != nil {
		return nil, fmt.Errorf("service.KeepOnlyNewTrips: last candidate: %w", err)
	}

	existing, err := trips.FindByStartDateRange(ctx, scope, first, last, len(candidates))
	if err != nil {
		return nil, fmt.Errorf("service.KeepOnlyNewTrips: %w", err)
	}

	seen := make(map[intervalKey]bool, len(existing))
	for _, doc := range existing {
		seen[intervalKey{doc.StartDate.UnixNano(), doc.EndDate.UnixNano()}] = true
	}

	var fresh []domain.FullTrip
	for _, c := range candidates {
		start, err := c.StartTime()
		if err != nil {
			return nil, fmt.Errorf("service.KeepOnlyNewTrips: %w", err)
		}
		end, err := c.EndTime()
		if err != nil {
			return nil, fmt.Errorf("service.KeepOnlyNewTrips: %w", err)
		}
		if !seen[intervalKey{start.UnixNano(), end.UnixNano()}] {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}

// KeepMoreRecentTripsWhenDuplicates collapses documents sharing the same
// store id down to one: the instance with the latest start date wins, ties
// broken by original order. Two annotations landing on the same trip in one
// batch each stage their own copy of the document; without this pass the
// second write would overwrite the first with stale data.
func KeepMoreRecentTripsWhenDuplicates(docs []domain.TripDocument) []domain.TripDocument {
	sorted := make([]domain.TripDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.After(sorted[j].StartDate)
	})

	seen := make(map[uuid.UUID]bool, len(sorted))
	var kept []domain.TripDocument
	for _, doc := range sorted {
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		kept = append(kept, doc)
	}
	return kept
}

// laterOf returns the later of two optional times; a nil operand is
// excluded from the comparison.
func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
