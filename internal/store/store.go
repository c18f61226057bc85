// Package store persists scan events durably and exposes the provenance
// traversal operations the correlation engine depends on (§4.9, §6).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Sentinel errors (§7 Storage/Validation kinds).
var (
	ErrInvalidHash      = errors.New("store: hash must be alphanumeric")
	ErrEventNotFound    = errors.New("store: event not found")
	ErrDuplicateRoot    = errors.New("store: scan already has a root event")
	ErrScanNotFound     = errors.New("store: scan not found")
	ErrInvalidEventData = errors.New("store: event failed field validation")
)

// Row is the persisted form of an event: eventmodel.Event plus the
// bookkeeping fields the schema carries (generated as ms-int at rest,
// per §9's "float seconds in memory, ms-int in the store" decision) and the
// false-positive flag.
type Row struct {
	ScanID          string
	Hash            string
	EventType       string
	GeneratedMS     int64
	Confidence      int
	Visibility      int
	Risk            int
	Module          string
	Data            string
	SourceEventHash string
	FalsePositive   bool
	ActualSource    string
	DataSource      string
}

// ToEvent converts a stored Row back into an in-memory Event, restoring
// the float-seconds Generated representation.
func (r Row) ToEvent() *eventmodel.Event {
	return &eventmodel.Event{
		EventType:    r.EventType,
		Data:         r.Data,
		Module:       r.Module,
		SourceHash:   r.SourceEventHash,
		Hash:         r.Hash,
		Generated:    float64(r.GeneratedMS) / 1000.0,
		Confidence:   r.Confidence,
		Visibility:   r.Visibility,
		Risk:         r.Risk,
		ActualSource: r.ActualSource,
		DataSource:   r.DataSource,
	}
}

// RowFromEvent builds a storable Row from event for scanID, normalizing
// Generated (float seconds) to ms-int.
func RowFromEvent(scanID string, event *eventmodel.Event) Row {
	return Row{
		ScanID:          scanID,
		Hash:            event.Hash,
		EventType:       event.EventType,
		GeneratedMS:     int64(event.Generated * 1000),
		Confidence:      event.Confidence,
		Visibility:      event.Visibility,
		Risk:            event.Risk,
		Module:          event.Module,
		Data:            event.Data,
		SourceEventHash: event.SourceHash,
		ActualSource:    event.ActualSource,
		DataSource:      event.DataSource,
	}
}

// ResultFilter narrows result_event queries (§4.9).
type ResultFilter struct {
	EventTypes          []string
	Modules             []string
	Data                string
	SourceHashes        []string
	CorrelationID       string
	FilterFalsePositive bool
}

// UniqueRow is one result_event_unique row: a distinct (data, type) pair
// with its occurrence count.
type UniqueRow struct {
	Data  string
	Type  string
	Count int
}

// SummaryBy selects the grouping key for result_summary.
type SummaryBy string

// Summary grouping keys (§4.9).
const (
	SummaryByType   SummaryBy = "type"
	SummaryByModule SummaryBy = "module"
	SummaryByEntity SummaryBy = "entity"
)

// SummaryRow is one result_summary aggregation row.
type SummaryRow struct {
	Key   string
	Count int
}

// SearchCriteria filters the search operation (§4.9).
type SearchCriteria struct {
	ScanID string
	Type   string
	Data   string
	Module string
	From   time.Time
	To     time.Time
}

// LogEntry is one scan_log row (§6).
type LogEntry struct {
	ScanID      string
	GeneratedMS int64
	Component   string
	Type        string
	Message     string
}

// EventStore is the persistence contract every backend implements (§4.9).
type EventStore interface {
	// StoreEvent persists one event, truncating Data to truncateSize bytes
	// if truncateSize is positive.
	StoreEvent(ctx context.Context, scanID string, event *eventmodel.Event, truncateSize int) error

	// ResultEvent returns matching events ordered by Data ascending.
	ResultEvent(ctx context.Context, scanID string, filter ResultFilter) ([]Row, error)

	// ResultEventUnique returns distinct (data, type) rows with counts,
	// optionally narrowed to eventType.
	ResultEventUnique(ctx context.Context, scanID string, eventType string, filterFalsePositive bool) ([]UniqueRow, error)

	// ResultSummary returns one aggregation row per grouping key.
	ResultSummary(ctx context.Context, scanID string, by SummaryBy) ([]SummaryRow, error)

	// UpdateFalsePositive bulk-flags hashes as false positive (idempotent).
	UpdateFalsePositive(ctx context.Context, scanID string, hashes []string, flag bool) error

	// SourcesDirect returns the one-hop parent rows for childHashes.
	SourcesDirect(ctx context.Context, scanID string, childHashes []string) ([]Row, error)

	// ChildrenDirect returns the one-hop child rows for parentHashes.
	ChildrenDirect(ctx context.Context, scanID string, parentHashes []string) ([]Row, error)

	// SourcesAll walks upward from childRows iteratively until ROOT,
	// returning both the full hash->row map reached and the
	// parent_hash->[child_hash] reverse map describing how they connect.
	SourcesAll(ctx context.Context, scanID string, childRows []Row) (map[string]Row, map[string][]string, error)

	// ChildrenAll walks downward from parentHashes iteratively, returning
	// every descendant row.
	ChildrenAll(ctx context.Context, scanID string, parentHashes []string) ([]Row, error)

	// Search filters on scan id plus optional type/data/module/date range.
	Search(ctx context.Context, criteria SearchCriteria) ([]Row, error)

	// LogEvents appends scan_log rows, stamping an entry whose GeneratedMS
	// is zero with the current time in ms. It is not idempotent: submitting
	// the same entries again appends them again.
	LogEvents(ctx context.Context, batch []LogEntry) error

	// GetScanStatus returns the persisted status string for scanID.
	GetScanStatus(ctx context.Context, scanID string) (string, error)

	// SetScanStatus updates the persisted status string for scanID.
	SetScanStatus(ctx context.Context, scanID string, status string) error

	// CreateScan inserts the scan_instance row.
	CreateScan(ctx context.Context, scan ScanRecord) error

	// StoreCorrelationResult persists one correlation run's output (§6).
	StoreCorrelationResult(ctx context.Context, result CorrelationResult) error

	// ListCorrelationResults returns every stored correlation result for
	// scanID.
	ListCorrelationResults(ctx context.Context, scanID string) ([]CorrelationResult, error)
}

// ScanStatus is one of the scan lifecycle statuses surfaced to external
// callers (§6 Exit conditions).
type ScanStatus string

// Scan statuses. Only the terminal ones permit correlation runs.
const (
	ScanStatusStarting       ScanStatus = "STARTING"
	ScanStatusStarted        ScanStatus = "STARTED"
	ScanStatusRunning        ScanStatus = "RUNNING"
	ScanStatusFinished       ScanStatus = "FINISHED"
	ScanStatusAbortRequested ScanStatus = "ABORT-REQUESTED"
	ScanStatusAborted        ScanStatus = "ABORTED"
	ScanStatusErrorFailed    ScanStatus = "ERROR-FAILED"
)

// IsTerminal reports whether status permits correlation runs (§4.7, §6).
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanStatusFinished, ScanStatusAborted, ScanStatusErrorFailed:
		return true
	default:
		return false
	}
}

// ScanRecord is the scan_instance row (§6).
type ScanRecord struct {
	GUID       string
	Name       string
	SeedTarget string
	TargetType string
	CreatedMS  int64
	Status     string
}

// CorrelationResult is one correlation_results row (§3, §6): a surviving
// bucket from a rule run.
type CorrelationResult struct {
	ScanID      string
	RuleID      string
	Name        string
	Description string
	Risk        string
	RawYAML     string
	Title       string
	EventHashes []string
}

// ValidHash reports whether hash is safe to interpolate into a store query
// (alphanumeric only, §4.9/§8 boundary behavior).
func ValidHash(hash string) bool {
	return eventmodel.ValidHash(hash)
}

// FilterValidHashes drops any hash that is not alphanumeric, silently, per
// the §8 boundary behavior ("a hash containing non-alphanumeric characters
// → that hash is silently filtered out").
func FilterValidHashes(hashes []string) []string {
	out := make([]string, 0, len(hashes))

	for _, h := range hashes {
		if ValidHash(h) {
			out = append(out, h)
		}
	}

	return out
}
