package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Memory is an in-process EventStore implementation: a single mutex
// protects every public method for the duration of its interaction, as
// required of any backend by §5's shared-resource discipline. Intended for
// tests and single-node deployments without Postgres.
type Memory struct {
	mu           sync.Mutex
	scans        map[string]ScanRecord
	rows         map[string]map[string]Row // scanID -> hash -> Row
	logs         []LogEntry
	correlations map[string][]CorrelationResult
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		scans:        map[string]ScanRecord{},
		rows:         map[string]map[string]Row{},
		correlations: map[string][]CorrelationResult{},
	}
}

// CreateScan inserts the scan_instance row.
func (m *Memory) CreateScan(_ context.Context, scan ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scans[scan.GUID] = scan
	m.rows[scan.GUID] = map[string]Row{}

	return nil
}

// GetScanStatus returns the persisted status string for scanID.
func (m *Memory) GetScanStatus(_ context.Context, scanID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scan, ok := m.scans[scanID]
	if !ok {
		return "", ErrScanNotFound
	}

	return scan.Status, nil
}

// SetScanStatus updates the persisted status string for scanID.
func (m *Memory) SetScanStatus(_ context.Context, scanID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scan, ok := m.scans[scanID]
	if !ok {
		return ErrScanNotFound
	}

	scan.Status = status
	m.scans[scanID] = scan

	return nil
}

// StoreEvent persists one event, truncating Data to truncateSize bytes if
// truncateSize is positive.
func (m *Memory) StoreEvent(_ context.Context, scanID string, event *eventmodel.Event, truncateSize int) error {
	if event == nil || event.EventType == "" || event.Data == "" {
		return ErrInvalidEventData
	}

	if !ValidHash(event.Hash) {
		return ErrInvalidHash
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return ErrScanNotFound
	}

	if event.IsRoot() {
		for _, r := range scanRows {
			if r.Hash == RootHashSentinel {
				return ErrDuplicateRoot
			}
		}
	} else if _, exists := scanRows[event.SourceHash]; !exists {
		return ErrInvalidEventData
	}

	row := RowFromEvent(scanID, event)
	if truncateSize > 0 && len(row.Data) > truncateSize {
		row.Data = row.Data[:truncateSize]
	}

	scanRows[row.Hash] = row

	return nil
}

// RootHashSentinel is the literal ROOT sentinel, re-exported for readability
// at call sites that compare against it without importing eventmodel.
const RootHashSentinel = eventmodel.RootHash

// ResultEvent returns matching events ordered by Data ascending.
func (m *Memory) ResultEvent(_ context.Context, scanID string, filter ResultFilter) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return nil, nil
	}

	var allow map[string]bool

	if filter.CorrelationID != "" {
		allow = map[string]bool{}

		for _, c := range m.correlations[scanID] {
			if c.RuleID == filter.CorrelationID {
				for _, h := range c.EventHashes {
					allow[h] = true
				}
			}
		}
	}

	types := toSet(filter.EventTypes)
	modules := toSet(filter.Modules)
	sources := toSet(filter.SourceHashes)

	out := make([]Row, 0, len(scanRows))

	for _, row := range scanRows {
		if filter.FilterFalsePositive && row.FalsePositive {
			continue
		}

		if len(types) > 0 && !types[row.EventType] {
			continue
		}

		if len(modules) > 0 && !modules[row.Module] {
			continue
		}

		if len(sources) > 0 && !sources[row.SourceEventHash] {
			continue
		}

		if filter.Data != "" && !strings.Contains(row.Data, filter.Data) {
			continue
		}

		if allow != nil && !allow[row.Hash] {
			continue
		}

		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Data < out[j].Data })

	return out, nil
}

// ResultEventUnique returns distinct (data, type) rows with counts,
// optionally narrowed to eventType.
func (m *Memory) ResultEventUnique(_ context.Context, scanID string, eventType string, filterFalsePositive bool) ([]UniqueRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return nil, nil
	}

	counts := map[[2]string]int{}

	for _, row := range scanRows {
		if filterFalsePositive && row.FalsePositive {
			continue
		}

		if eventType != "" && row.EventType != eventType {
			continue
		}

		counts[[2]string{row.Data, row.EventType}]++
	}

	out := make([]UniqueRow, 0, len(counts))
	for k, count := range counts {
		out = append(out, UniqueRow{Data: k[0], Type: k[1], Count: count})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Data < out[j].Data })

	return out, nil
}

// ResultSummary returns one aggregation row per grouping key.
func (m *Memory) ResultSummary(_ context.Context, scanID string, by SummaryBy) ([]SummaryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return nil, nil
	}

	counts := map[string]int{}

	for _, row := range scanRows {
		var key string

		switch by {
		case SummaryByModule:
			key = row.Module
		case SummaryByType, SummaryByEntity:
			key = row.EventType
		default:
			key = row.EventType
		}

		counts[key]++
	}

	out := make([]SummaryRow, 0, len(counts))
	for k, c := range counts {
		out = append(out, SummaryRow{Key: k, Count: c})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

// UpdateFalsePositive bulk-flags hashes as false positive (idempotent).
func (m *Memory) UpdateFalsePositive(_ context.Context, scanID string, hashes []string, flag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return ErrScanNotFound
	}

	for _, h := range FilterValidHashes(hashes) {
		if row, exists := scanRows[h]; exists {
			row.FalsePositive = flag
			scanRows[h] = row
		}
	}

	return nil
}

// SourcesDirect returns the one-hop parent rows for childHashes.
func (m *Memory) SourcesDirect(_ context.Context, scanID string, childHashes []string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return nil, nil
	}

	seen := map[string]bool{}
	out := make([]Row, 0)

	for _, child := range FilterValidHashes(childHashes) {
		childRow, exists := scanRows[child]
		if !exists {
			continue
		}

		parent, exists := scanRows[childRow.SourceEventHash]
		if !exists || seen[parent.Hash] {
			continue
		}

		seen[parent.Hash] = true
		out = append(out, parent)
	}

	return out, nil
}

// ChildrenDirect returns the one-hop child rows for parentHashes.
func (m *Memory) ChildrenDirect(_ context.Context, scanID string, parentHashes []string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return nil, nil
	}

	parents := toSet(FilterValidHashes(parentHashes))
	out := make([]Row, 0)

	for _, row := range scanRows {
		if parents[row.SourceEventHash] {
			out = append(out, row)
		}
	}

	return out, nil
}

// SourcesAll walks upward from childRows iteratively until ROOT.
func (m *Memory) SourcesAll(_ context.Context, scanID string, childRows []Row) (map[string]Row, map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return map[string]Row{}, map[string][]string{}, nil
	}

	reached := map[string]Row{}
	reverse := map[string][]string{}

	frontier := make([]Row, 0, len(childRows))
	for _, row := range childRows {
		frontier = append(frontier, row)
		reached[row.Hash] = row
	}

	for len(frontier) > 0 {
		next := make([]Row, 0)

		for _, row := range frontier {
			if row.Hash == RootHashSentinel {
				continue
			}

			parent, exists := scanRows[row.SourceEventHash]
			if !exists {
				continue
			}

			reverse[parent.Hash] = appendUnique(reverse[parent.Hash], row.Hash)

			if _, already := reached[parent.Hash]; !already {
				reached[parent.Hash] = parent
				next = append(next, parent)
			}
		}

		frontier = next
	}

	return reached, reverse, nil
}

// ChildrenAll walks downward from parentHashes iteratively.
func (m *Memory) ChildrenAll(_ context.Context, scanID string, parentHashes []string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[scanID]
	if !ok {
		return nil, nil
	}

	childrenOf := map[string][]Row{}
	for _, row := range scanRows {
		childrenOf[row.SourceEventHash] = append(childrenOf[row.SourceEventHash], row)
	}

	visited := map[string]bool{}
	out := make([]Row, 0)
	frontier := append([]string(nil), FilterValidHashes(parentHashes)...)

	for len(frontier) > 0 {
		next := make([]string, 0)

		for _, parent := range frontier {
			for _, child := range childrenOf[parent] {
				if visited[child.Hash] {
					continue
				}

				visited[child.Hash] = true
				out = append(out, child)
				next = append(next, child.Hash)
			}
		}

		frontier = next
	}

	return out, nil
}

// Search filters on scan id plus optional type/data/module/date range.
func (m *Memory) Search(_ context.Context, criteria SearchCriteria) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scanRows, ok := m.rows[criteria.ScanID]
	if !ok {
		return nil, nil
	}

	out := make([]Row, 0)

	for _, row := range scanRows {
		if criteria.Type != "" && row.EventType != criteria.Type {
			continue
		}

		if criteria.Module != "" && row.Module != criteria.Module {
			continue
		}

		if criteria.Data != "" && !strings.Contains(row.Data, criteria.Data) {
			continue
		}

		generated := time.UnixMilli(row.GeneratedMS)

		if !criteria.From.IsZero() && generated.Before(criteria.From) {
			continue
		}

		if !criteria.To.IsZero() && generated.After(criteria.To) {
			continue
		}

		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Data < out[j].Data })

	return out, nil
}

// LogEvents appends scan_log rows, stamping an entry whose GeneratedMS is
// zero with the current time in ms. It is not idempotent: submitting the
// same entries again appends them again.
func (m *Memory) LogEvents(_ context.Context, batch []LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range batch {
		if entry.GeneratedMS == 0 {
			entry.GeneratedMS = time.Now().UnixMilli()
		}

		m.logs = append(m.logs, entry)
	}

	return nil
}

// StoreCorrelationResult persists one correlation run's output.
func (m *Memory) StoreCorrelationResult(_ context.Context, result CorrelationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.correlations[result.ScanID] = append(m.correlations[result.ScanID], result)

	return nil
}

// ListCorrelationResults returns every stored correlation result for
// scanID.
func (m *Memory) ListCorrelationResults(_ context.Context, scanID string) ([]CorrelationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]CorrelationResult(nil), m.correlations[scanID]...), nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}

	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}

	return set
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}

	return append(list, value)
}
