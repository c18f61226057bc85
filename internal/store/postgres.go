package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// Postgres is the production EventStore backend. A single *sql.DB
// connection pool is shared across goroutines; Postgres itself serializes
// concurrent writers, so unlike Memory no additional in-process lock is
// required, per §5's "single connection protected by a reentrant lock"
// discipline delegated to the driver's own connection pool.
type Postgres struct {
	db        *sql.DB
	closeOnce sync.Once
}

var _ EventStore = (*Postgres)(nil)

// NewPostgres wraps an already-opened *sql.DB. The caller owns connection
// pool sizing (SetMaxOpenConns etc.); Postgres only issues queries against
// it.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the underlying connection pool. Safe to call more than
// once.
func (p *Postgres) Close() error {
	var err error

	p.closeOnce.Do(func() {
		err = p.db.Close()
	})

	return err
}

// CreateScan inserts the scan_instance row.
func (p *Postgres) CreateScan(ctx context.Context, scan ScanRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scan_instance (guid, name, seed_target, target_type, created_ms, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, scan.GUID, scan.Name, scan.SeedTarget, scan.TargetType, scan.CreatedMS, scan.Status)
	if err != nil {
		return fmt.Errorf("store: create scan: %w", err)
	}

	return nil
}

// GetScanStatus returns the persisted status string for scanID.
func (p *Postgres) GetScanStatus(ctx context.Context, scanID string) (string, error) {
	var status string

	err := p.db.QueryRowContext(ctx, `SELECT status FROM scan_instance WHERE guid = $1`, scanID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrScanNotFound
	}

	if err != nil {
		return "", fmt.Errorf("store: get scan status: %w", err)
	}

	return status, nil
}

// SetScanStatus updates the persisted status string for scanID.
func (p *Postgres) SetScanStatus(ctx context.Context, scanID string, status string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE scan_instance SET status = $2 WHERE guid = $1`, scanID, status)
	if err != nil {
		return fmt.Errorf("store: set scan status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set scan status: %w", err)
	}

	if affected == 0 {
		return ErrScanNotFound
	}

	return nil
}

// StoreEvent persists one event, truncating Data to truncateSize bytes if
// truncateSize is positive. Retried once on a transient storage error per
// §7's "retryable writes retried once then logged" policy.
func (p *Postgres) StoreEvent(ctx context.Context, scanID string, event *eventmodel.Event, truncateSize int) error {
	if event == nil || event.EventType == "" || event.Data == "" {
		return ErrInvalidEventData
	}

	if !ValidHash(event.Hash) {
		return ErrInvalidHash
	}

	row := RowFromEvent(scanID, event)
	if truncateSize > 0 && len(row.Data) > truncateSize {
		row.Data = row.Data[:truncateSize]
	}

	insert := func() error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO scan_results
				(scan_instance_id, hash, type, generated_ms, confidence, visibility, risk, module, data,
				 source_event_hash, actual_source, data_source, false_positive)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (scan_instance_id, hash) DO NOTHING
		`, row.ScanID, row.Hash, row.EventType, row.GeneratedMS, row.Confidence, row.Visibility, row.Risk,
			row.Module, row.Data, row.SourceEventHash, row.ActualSource, row.DataSource, row.FalsePositive)

		return err
	}

	if err := insert(); err != nil {
		if err2 := insert(); err2 != nil {
			return fmt.Errorf("store: store event: %w", err2)
		}
	}

	return nil
}

// ResultEvent returns matching events ordered by Data ascending.
func (p *Postgres) ResultEvent(ctx context.Context, scanID string, filter ResultFilter) ([]Row, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + rowColumns + ` FROM scan_results WHERE scan_instance_id = $1`)

	args := []interface{}{scanID}

	if len(filter.EventTypes) > 0 {
		args = append(args, pq.Array(filter.EventTypes))
		fmt.Fprintf(&query, " AND type = ANY($%d)", len(args))
	}

	if len(filter.Modules) > 0 {
		args = append(args, pq.Array(filter.Modules))
		fmt.Fprintf(&query, " AND module = ANY($%d)", len(args))
	}

	if len(filter.SourceHashes) > 0 {
		args = append(args, pq.Array(FilterValidHashes(filter.SourceHashes)))
		fmt.Fprintf(&query, " AND source_event_hash = ANY($%d)", len(args))
	}

	if filter.Data != "" {
		args = append(args, "%"+filter.Data+"%")
		fmt.Fprintf(&query, " AND data LIKE $%d", len(args))
	}

	if filter.FilterFalsePositive {
		query.WriteString(" AND false_positive = FALSE")
	}

	if filter.CorrelationID != "" {
		args = append(args, filter.CorrelationID)
		fmt.Fprintf(&query, " AND hash = ANY(SELECT UNNEST(event_hashes) FROM correlation_results WHERE scan_instance_id = $1 AND rule_id = $%d)", len(args))
	}

	query.WriteString(" ORDER BY data ASC")

	rows, err := p.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: result event: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// ResultEventUnique returns distinct (data, type) rows with counts,
// optionally narrowed to eventType.
func (p *Postgres) ResultEventUnique(ctx context.Context, scanID string, eventType string, filterFalsePositive bool) ([]UniqueRow, error) {
	query := `SELECT data, type, COUNT(*) FROM scan_results WHERE scan_instance_id = $1`
	args := []interface{}{scanID}

	if eventType != "" {
		args = append(args, eventType)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}

	if filterFalsePositive {
		query += " AND false_positive = FALSE"
	}

	query += " GROUP BY data, type ORDER BY data ASC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: result event unique: %w", err)
	}
	defer rows.Close()

	out := make([]UniqueRow, 0)

	for rows.Next() {
		var u UniqueRow
		if err := rows.Scan(&u.Data, &u.Type, &u.Count); err != nil {
			return nil, fmt.Errorf("store: scan unique row: %w", err)
		}

		out = append(out, u)
	}

	return out, rows.Err()
}

// ResultSummary returns one aggregation row per grouping key.
func (p *Postgres) ResultSummary(ctx context.Context, scanID string, by SummaryBy) ([]SummaryRow, error) {
	column := "type"
	if by == SummaryByModule {
		column = "module"
	}

	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM scan_results WHERE scan_instance_id = $1 GROUP BY %s ORDER BY %s ASC", column, column, column),
		scanID)
	if err != nil {
		return nil, fmt.Errorf("store: result summary: %w", err)
	}
	defer rows.Close()

	out := make([]SummaryRow, 0)

	for rows.Next() {
		var s SummaryRow
		if err := rows.Scan(&s.Key, &s.Count); err != nil {
			return nil, fmt.Errorf("store: scan summary row: %w", err)
		}

		out = append(out, s)
	}

	return out, rows.Err()
}

// UpdateFalsePositive bulk-flags hashes as false positive (idempotent).
func (p *Postgres) UpdateFalsePositive(ctx context.Context, scanID string, hashes []string, flag bool) error {
	valid := FilterValidHashes(hashes)
	if len(valid) == 0 {
		return nil
	}

	_, err := p.db.ExecContext(ctx, `
		UPDATE scan_results SET false_positive = $3
		WHERE scan_instance_id = $1 AND hash = ANY($2)
	`, scanID, pq.Array(valid), flag)
	if err != nil {
		return fmt.Errorf("store: update false positive: %w", err)
	}

	return nil
}

// SourcesDirect returns the one-hop parent rows for childHashes.
func (p *Postgres) SourcesDirect(ctx context.Context, scanID string, childHashes []string) ([]Row, error) {
	valid := FilterValidHashes(childHashes)
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM scan_results
		WHERE scan_instance_id = $1 AND hash IN (
			SELECT DISTINCT source_event_hash FROM scan_results
			WHERE scan_instance_id = $1 AND hash = ANY($2)
		)
	`, scanID, pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("store: sources direct: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// ChildrenDirect returns the one-hop child rows for parentHashes.
func (p *Postgres) ChildrenDirect(ctx context.Context, scanID string, parentHashes []string) ([]Row, error) {
	valid := FilterValidHashes(parentHashes)
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM scan_results
		WHERE scan_instance_id = $1 AND source_event_hash = ANY($2)
	`, scanID, pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("store: children direct: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// SourcesAll walks upward from childRows iteratively until ROOT.
func (p *Postgres) SourcesAll(ctx context.Context, scanID string, childRows []Row) (map[string]Row, map[string][]string, error) {
	reached := map[string]Row{}
	reverse := map[string][]string{}

	frontier := make([]Row, 0, len(childRows))
	for _, row := range childRows {
		frontier = append(frontier, row)
		reached[row.Hash] = row
	}

	for len(frontier) > 0 {
		toFetch := make([]string, 0, len(frontier))
		parentOf := map[string]string{}

		for _, row := range frontier {
			if row.Hash == RootHashSentinel {
				continue
			}

			parentOf[row.Hash] = row.SourceEventHash
			toFetch = append(toFetch, row.SourceEventHash)
		}

		if len(toFetch) == 0 {
			break
		}

		rows, err := p.db.QueryContext(ctx, `
			SELECT `+rowColumns+` FROM scan_results
			WHERE scan_instance_id = $1 AND hash = ANY($2)
		`, scanID, pq.Array(toFetch))
		if err != nil {
			return nil, nil, fmt.Errorf("store: sources all: %w", err)
		}

		parents, err := scanRows(rows)
		rows.Close()

		if err != nil {
			return nil, nil, err
		}

		byHash := map[string]Row{}
		for _, r := range parents {
			byHash[r.Hash] = r
		}

		next := make([]Row, 0)

		for child, parentHash := range parentOf {
			parent, ok := byHash[parentHash]
			if !ok {
				continue
			}

			reverse[parent.Hash] = appendUnique(reverse[parent.Hash], child)

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
func (p *Postgres) ChildrenAll(ctx context.Context, scanID string, parentHashes []string) ([]Row, error) {
	visited := map[string]bool{}
	out := make([]Row, 0)
	frontier := append([]string(nil), FilterValidHashes(parentHashes)...)

	for len(frontier) > 0 {
		children, err := p.ChildrenDirect(ctx, scanID, frontier)
		if err != nil {
			return nil, err
		}

		next := make([]string, 0)

		for _, child := range children {
			if visited[child.Hash] {
				continue
			}

			visited[child.Hash] = true
			out = append(out, child)
			next = append(next, child.Hash)
		}

		frontier = next
	}

	return out, nil
}

// Search filters on scan id plus optional type/data/module/date range.
func (p *Postgres) Search(ctx context.Context, criteria SearchCriteria) ([]Row, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + rowColumns + ` FROM scan_results WHERE scan_instance_id = $1`)

	args := []interface{}{criteria.ScanID}

	if criteria.Type != "" {
		args = append(args, criteria.Type)
		fmt.Fprintf(&query, " AND type = $%d", len(args))
	}

	if criteria.Module != "" {
		args = append(args, criteria.Module)
		fmt.Fprintf(&query, " AND module = $%d", len(args))
	}

	if criteria.Data != "" {
		args = append(args, "%"+criteria.Data+"%")
		fmt.Fprintf(&query, " AND data LIKE $%d", len(args))
	}

	if !criteria.From.IsZero() {
		args = append(args, criteria.From.UnixMilli())
		fmt.Fprintf(&query, " AND generated_ms >= $%d", len(args))
	}

	if !criteria.To.IsZero() {
		args = append(args, criteria.To.UnixMilli())
		fmt.Fprintf(&query, " AND generated_ms <= $%d", len(args))
	}

	query.WriteString(" ORDER BY data ASC")

	rows, err := p.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// LogEvents appends scan_log rows, stamping an entry whose GeneratedMS is
// zero with the current time in ms. It is not idempotent: submitting the
// same entries again appends them again.
func (p *Postgres) LogEvents(ctx context.Context, batch []LogEntry) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: log events: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_log (scan_instance_id, generated_ms, component, type, message)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("store: log events: %w", err)
	}
	defer stmt.Close()

	for _, entry := range batch {
		ms := entry.GeneratedMS
		if ms == 0 {
			ms = time.Now().UnixMilli()
		}

		if _, err := stmt.ExecContext(ctx, entry.ScanID, ms, entry.Component, entry.Type, entry.Message); err != nil {
			return fmt.Errorf("store: log events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: log events: %w", err)
	}

	return nil
}

// StoreCorrelationResult persists one correlation run's output.
func (p *Postgres) StoreCorrelationResult(ctx context.Context, result CorrelationResult) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO correlation_results
			(scan_instance_id, rule_id, name, description, risk, raw_yaml, title, event_hashes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, result.ScanID, result.RuleID, result.Name, result.Description, result.Risk, result.RawYAML,
		result.Title, pq.Array(result.EventHashes))
	if err != nil {
		return fmt.Errorf("store: store correlation result: %w", err)
	}

	return nil
}

// ListCorrelationResults returns every stored correlation result for
// scanID.
func (p *Postgres) ListCorrelationResults(ctx context.Context, scanID string) ([]CorrelationResult, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT scan_instance_id, rule_id, name, description, risk, raw_yaml, title, event_hashes
		FROM correlation_results WHERE scan_instance_id = $1
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("store: list correlation results: %w", err)
	}
	defer rows.Close()

	out := make([]CorrelationResult, 0)

	for rows.Next() {
		var c CorrelationResult

		var hashes pq.StringArray
		if err := rows.Scan(&c.ScanID, &c.RuleID, &c.Name, &c.Description, &c.Risk, &c.RawYAML, &c.Title, &hashes); err != nil {
			return nil, fmt.Errorf("store: scan correlation result: %w", err)
		}

		c.EventHashes = hashes
		out = append(out, c)
	}

	return out, rows.Err()
}

const rowColumns = `scan_instance_id, hash, type, generated_ms, confidence, visibility, risk, module, data, source_event_hash, actual_source, data_source, false_positive`

func scanRows(rows *sql.Rows) ([]Row, error) {
	out := make([]Row, 0)

	for rows.Next() {
		var row Row

		var actualSource, dataSource sql.NullString

		if err := rows.Scan(&row.ScanID, &row.Hash, &row.EventType, &row.GeneratedMS, &row.Confidence,
			&row.Visibility, &row.Risk, &row.Module, &row.Data, &row.SourceEventHash,
			&actualSource, &dataSource, &row.FalsePositive); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}

		row.ActualSource = actualSource.String
		row.DataSource = dataSource.String

		out = append(out, row)
	}

	return out, rows.Err()
}
