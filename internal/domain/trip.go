// Package domain contains the core data types for the tracesync agent.
// This package has no dependency beyond uuid and is imported by every other
// internal package (trace, repo, service).
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Collection names exposed by the trace server. Each is an independent
// event stream addressed through the same find_entries endpoint.
const (
	TripCollection    = "analysis/cleaned_trip"
	PurposeCollection = "manual/purpose_confirm"
	ModeCollection    = "manual/mode_confirm"
)

// FmtTimeLayout is the layout of the server's *_fmt_time fields:
// RFC 3339 timestamps with a numeric offset.
const FmtTimeLayout = time.RFC3339

// TripProperties holds the properties of a trip geojson feature.
// Manual fields stay empty until an annotation is merged in.
type TripProperties struct {
	StartFmtTime  string  `json:"start_fmt_time"`
	EndFmtTime    string  `json:"end_fmt_time"`
	Distance      float64 `json:"distance,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	ManualPurpose string  `json:"manual_purpose,omitempty"`
	ManualMode    string  `json:"manual_mode,omitempty"`
}

// FullTrip is the complete geographic/temporal record for one trip, as
// returned by the per-day timeline endpoint. The geometry is kept as raw
// JSON; the agent never inspects it, only stores it.
type FullTrip struct {
	Type       string          `json:"type,omitempty"`
	Properties TripProperties  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

// StartTime parses the trip's start_fmt_time.
func (t FullTrip) StartTime() (time.Time, error) {
	return time.Parse(FmtTimeLayout, t.Properties.StartFmtTime)
}

// EndTime parses the trip's end_fmt_time.
func (t FullTrip) EndTime() (time.Time, error) {
	return time.Parse(FmtTimeLayout, t.Properties.EndFmtTime)
}

// EntryData is the payload of a metadata stream element. For trips only the
// start/end times are populated; for manual entries Label carries the
// user-chosen purpose or mode.
type EntryData struct {
	StartFmtTime string `json:"start_fmt_time"`
	EndFmtTime   string `json:"end_fmt_time"`
	Label        string `json:"label,omitempty"`
}

// EntryMetadata carries the server-side write time of a stream element.
// Change-discovery results are server-ordered by this value ascending, so
// the last element's write time becomes the new watermark.
type EntryMetadata struct {
	WriteFmtTime string `json:"write_fmt_time"`
}

// CollectionEntry is one element of a metadata stream, either trip metadata or a
// manual annotation. Entries are ephemeral: fetched, consumed, discarded.
type CollectionEntry struct {
	Data     EntryData     `json:"data"`
	Metadata EntryMetadata `json:"metadata"`
}

// StartTime parses the entry's data start time.
func (e CollectionEntry) StartTime() (time.Time, error) {
	return time.Parse(FmtTimeLayout, e.Data.StartFmtTime)
}

// EndTime parses the entry's data end time.
func (e CollectionEntry) EndTime() (time.Time, error) {
	return time.Parse(FmtTimeLayout, e.Data.EndFmtTime)
}

// WriteTime parses the entry's server write time.
func (e CollectionEntry) WriteTime() (time.Time, error) {
	return time.Parse(FmtTimeLayout, e.Metadata.WriteFmtTime)
}

// TripDocument is the persisted representation of a trip. The dedup identity
// is the (StartDate, EndDate) pair scoped to (Source, SourceAccount); the
// uniqueness key for merge-conflict resolution is the store-assigned ID.
type TripDocument struct {
	ID            uuid.UUID
	Source        string
	SourceAccount string
	CaptureDevice string
	StartDate     time.Time
	EndDate       time.Time
	Series        []FullTrip
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountScope identifies the slice of the store a sync run operates on.
// Every query and write is scoped to one vendor + account pair.
type AccountScope struct {
	Vendor    string
	AccountID string
}

// SyncState is the per-account watermark record. Both watermarks are
// monotonically non-decreasing across successful runs; a nil field means
// the corresponding stream has never been synced.
type SyncState struct {
	LastSavedTripDate   *time.Time
	LastSavedManualDate *time.Time
}

// TimestampRange is the full range of data available on the server, in
// seconds since the epoch. Returned by range discovery and used only on
// the bootstrap run.
type TimestampRange struct {
	StartTS float64 `json:"start_ts"`
	EndTS   float64 `json:"end_ts"`
}

// IsZero reports whether the range is unusable (no data on the server yet).
func (r TimestampRange) IsZero() bool {
	return r.StartTS == 0 || r.EndTS == 0
}

// Start converts the range start to a UTC time.
func (r TimestampRange) Start() time.Time {
	return time.UnixMilli(int64(r.StartTS * 1000)).UTC()
}

// ManualField selects which manual annotation field an entry stream updates
// on the stored trip.
type ManualField string

const (
	ManualPurpose ManualField = "manual_purpose"
	ManualMode    ManualField = "manual_mode"
)
