package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkordes/tracesync/internal/domain"
)

// syncManualEntries fetches the purpose and mode streams since the manual
// watermark, merges each non-empty stream into stored trips, and returns
// the later of the two streams' last write times. nil means neither stream
// had new entries and the manual watermark must not move.
func (r *Runner) syncManualEntries(ctx context.Context, since time.Time, firstRun bool) (*time.Time, error) {
	purposes, err := r.client.CollectionSince(ctx, r.cfg.Token, domain.PurposeCollection, since, !firstRun)
	if err != nil {
		return nil, err
	}
	modes, err := r.client.CollectionSince(ctx, r.cfg.Token, domain.ModeCollection, since, !firstRun)
	if err != nil {
		return nil, err
	}

	var lastPurpose, lastMode *time.Time
	if len(purposes) > 0 {
		r.log.Info("new manual purposes found", "count", len(purposes))
		if err := r.UpdateTripsWithManualEntries(ctx, purposes, domain.ManualPurpose); err != nil {
			return nil, err
		}
		if lastPurpose, err = lastWriteTime(purposes); err != nil {
			return nil, err
		}
	}
	if len(modes) > 0 {
		r.log.Info("new manual modes found", "count", len(modes))
		if err := r.UpdateTripsWithManualEntries(ctx, modes, domain.ManualMode); err != nil {
			return nil, err
		}
		if lastMode, err = lastWriteTime(modes); err != nil {
			return nil, err
		}
	}

	return laterOf(lastPurpose, lastMode), nil
}

// UpdateTripsWithManualEntries joins each annotation to the stored trip
// whose interval exactly equals the annotation's, sets the manual field on
// the trip's embedded record, and stages the document for write. A lookup
// miss is non-fatal: the annotation is logged and skipped, the rest of the
// batch still processes. Staged documents are collapsed through
// KeepMoreRecentTripsWhenDuplicates before writing, so several annotations
// landing on the same trip produce one write.
func (r *Runner) UpdateTripsWithManualEntries(ctx context.Context, entries []domain.CollectionEntry, field domain.ManualField) error {
	var staged []domain.TripDocument
	for _, entry := range entries {
		start, err := entry.StartTime()
		if err != nil {
			r.log.Error("manual entry has unparseable start time, skipping",
				"start", entry.Data.StartFmtTime, "error", err)
			continue
		}
		end, err := entry.EndTime()
		if err != nil {
			r.log.Error("manual entry has unparseable end time, skipping",
				"end", entry.Data.EndFmtTime, "error", err)
			continue
		}

		doc, err := r.trips.FindByInterval(ctx, r.cfg.Scope, start, end)
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Error("no trip found for manual entry",
				"start", entry.Data.StartFmtTime, "end", entry.Data.EndFmtTime)
			continue
		}
		if err != nil {
			return err
		}
		if len(doc.Series) == 0 {
			r.log.Error("stored trip has an empty series, skipping manual entry", "id", doc.ID)
			continue
		}

		switch field {
		case domain.ManualPurpose:
			doc.Series[0].Properties.ManualPurpose = entry.Data.Label
		case domain.ManualMode:
			doc.Series[0].Properties.ManualMode = entry.Data.Label
		default:
			return fmt.Errorf("unknown manual field %q", field)
		}
		staged = append(staged, doc)
	}

	for _, doc := range KeepMoreRecentTripsWhenDuplicates(staged) {
		r.log.Info("updating trip with manual entry",
			"id", doc.ID, "from", doc.StartDate, "to", doc.EndDate, "field", string(field))
		if _, err := r.trips.Update(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// lastWriteTime parses the write time of the last entry of a non-empty,
// write-time-ordered stream.
func lastWriteTime(entries []domain.CollectionEntry) (*time.Time, error) {
	t, err := entries[len(entries)-1].WriteTime()
	if err != nil {
		return nil, fmt.Errorf("manual entry write time: %w", err)
	}
	return &t, nil
}
