// Package executor wires the query core together: canonicalize predicate,
// resolve candidate segments through the tag index, scan time partitions,
// filter and project rows, and sort when the query asks for order.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stratumdb/stratum/internal/expr"
	"github.com/stratumdb/stratum/internal/normalize"
	"github.com/stratumdb/stratum/internal/querytrack"
	"github.com/stratumdb/stratum/internal/scan"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/tagindex"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

// Config tunes query execution.
type Config struct {
	// MaxConcurrentSegmentOpens bounds parallel segment fetches per query.
	MaxConcurrentSegmentOpens int

	// HistorySize is the finished-query ring buffer capacity.
	HistorySize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentSegmentOpens: 4,
		HistorySize:               100,
	}
}

// Stats tracks executor counters using atomics for thread-safety.
type Stats struct {
	Queries         atomic.Int64
	RowsScanned     atomic.Int64
	RowsReturned    atomic.Int64
	SegmentsPruned  atomic.Int64
	SegmentsScanned atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Queries         int64
	RowsScanned     int64
	RowsReturned    int64
	SegmentsPruned  int64
	SegmentsScanned int64
}

// Result is an ordered sequence of projected rows.
type Result struct {
	Columns []string
	Rows    [][]value.Value
}

// Executor coordinates query execution over shared, read-only catalog and
// segment data. Multiple queries may run concurrently; each pins its own
// catalog and segment snapshots at start.
type Executor struct {
	catalog  *schema.Catalog
	store    *segment.Store
	index    *tagindex.Index
	scanner  *scan.Scanner
	registry *querytrack.Registry
	logger   zerolog.Logger
	stats    Stats

	// now is the query-time clock, swappable in tests for TTL cutoffs.
	now func() time.Time
}

// New creates an executor over the given catalog, segment store and tag
// index.
func New(cfg *Config, catalog *schema.Catalog, store *segment.Store, index *tagindex.Index, logger zerolog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Executor{
		catalog:  catalog,
		store:    store,
		index:    index,
		scanner:  scan.New(scan.Config{MaxConcurrentOpens: cfg.MaxConcurrentSegmentOpens}, logger),
		registry: querytrack.NewRegistry(&querytrack.Config{HistorySize: cfg.HistorySize}, logger),
		logger:   logger.With().Str("component", "executor").Logger(),
		now:      time.Now,
	}
}

// Registry exposes the query registry for tracking and cancellation.
func (e *Executor) Registry() *querytrack.Registry { return e.registry }

// AddSegment registers a sealed segment with both the store and the tag
// index. The table must exist.
func (e *Executor) AddSegment(table string, h segment.Handle) error {
	ts, err := e.catalog.Lookup(table)
	if err != nil {
		return err
	}
	// Index before store: a query must never find a stored segment whose
	// tag values are missing from the index.
	e.index.AddSegment(table, h, ts.TagColumns)
	e.store.Add(table, h)
	return nil
}

// GetStats returns a snapshot of the executor counters.
func (e *Executor) GetStats() StatsSnapshot {
	return StatsSnapshot{
		Queries:         e.stats.Queries.Load(),
		RowsScanned:     e.stats.RowsScanned.Load(),
		RowsReturned:    e.stats.RowsReturned.Load(),
		SegmentsPruned:  e.stats.SegmentsPruned.Load(),
		SegmentsScanned: e.stats.SegmentsScanned.Load(),
	}
}

// Execute runs one query to completion. On any failure the query halts in
// its error terminal state and no partial result is returned.
func (e *Executor) Execute(ctx context.Context, plan expr.Plan) (*Result, error) {
	e.stats.Queries.Add(1)
	queryID, qctx := e.registry.Register(ctx, plan.Table)
	start := time.Now()

	res, err := e.execute(qctx, queryID, plan)
	if err != nil {
		e.registry.Fail(queryID, err.Error())
		e.logger.Debug().
			Err(err).
			Str("query_id", queryID).
			Str("table", plan.Table).
			Msg("Query failed")
		return nil, err
	}

	e.registry.Complete(queryID, len(res.Rows))
	e.stats.RowsReturned.Add(int64(len(res.Rows)))
	e.logger.Debug().
		Str("query_id", queryID).
		Str("table", plan.Table).
		Int("rows", len(res.Rows)).
		Dur("duration", time.Since(start)).
		Msg("Query completed")
	return res, nil
}

func (e *Executor) execute(ctx context.Context, queryID string, plan expr.Plan) (*Result, error) {
	// Parsed -> Normalized: catalog lookup and predicate canonicalization
	// happen before any I/O so schema and expression errors fail fast.
	ts, err := e.catalog.Lookup(plan.Table)
	if err != nil {
		return nil, err
	}
	columns, err := resolveProjection(ts, plan.Projection)
	if err != nil {
		return nil, err
	}
	var sortKind value.Kind
	if plan.OrderBy != nil {
		_, kind, ok := ts.Column(plan.OrderBy.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s", normalize.ErrUnknownColumn, plan.OrderBy.Column)
		}
		sortKind = kind
	}

	pred, err := normalize.Normalize(ts, plan.Predicate)
	if err != nil {
		return nil, err
	}
	e.registry.SetState(queryID, querytrack.StateNormalized)

	// An empty canonical range (BETWEEN with swapped bounds, contradictory
	// conjunction, comparison against NULL) is a valid zero-row result.
	if pred.NeverMatches() {
		e.registry.SetState(queryID, querytrack.StateIndexResolved)
		return &Result{Columns: columns}, nil
	}

	// Normalized -> IndexResolved: tag index intersection against the
	// store's time-overlap snapshot.
	tr := segment.Universe()
	if lo, hi, loSet, hiSet := pred.TimeBounds(); loSet || hiSet {
		if loSet {
			tr.Min = lo
		}
		if hiSet {
			tr.Max = hi
		}
	}
	tr = scan.ClampTTL(tr, ts.TTL, e.now())

	total := e.store.SegmentCount(plan.Table)
	candidates := e.candidateSegments(plan.Table, pred, tr)
	e.registry.SetSegmentCount(queryID, len(candidates))
	e.registry.SetState(queryID, querytrack.StateIndexResolved)
	e.stats.SegmentsPruned.Add(int64(total - len(candidates)))
	e.stats.SegmentsScanned.Add(int64(len(candidates)))

	// IndexResolved -> Scanning. Ordered output by TIME ascending can come
	// straight out of the merge; every other ordering sorts after filtering.
	mergeOrdered := plan.OrderBy != nil &&
		plan.OrderBy.Column == ts.TimeColumn && !plan.OrderBy.Desc
	e.registry.SetState(queryID, querytrack.StateScanning)
	it, err := e.scanner.Scan(ctx, candidates, tr, mergeOrdered)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	// Scanning -> Filtering: the canonical predicate is the single source
	// of truth; index and time narrowing only reduced the candidate set.
	e.registry.SetState(queryID, querytrack.StateFiltering)
	var matched []models.Row
	for it.Next() {
		e.stats.RowsScanned.Add(1)
		row := it.Row()
		if pred.Matches(row) {
			matched = append(matched, *row)
		}
	}
	if err := it.Err(); err != nil {
		// Buffered partial results are discarded with the query.
		return nil, err
	}

	// Filtering -> Sorting when the merge ordering did not already satisfy
	// the request.
	if plan.OrderBy != nil && !mergeOrdered {
		e.registry.SetState(queryID, querytrack.StateSorting)
		sortRows(ts, matched, plan.OrderBy.Column, sortKind, plan.OrderBy.Desc)
	}

	if plan.Limit > 0 && len(matched) > plan.Limit {
		matched = matched[:plan.Limit]
	}

	return project(ts, matched, columns), nil
}

// candidateSegments intersects the tag index candidates with the segments
// overlapping the query's time range.
func (e *Executor) candidateSegments(table string, pred *normalize.Predicate, tr segment.TimeRange) []segment.Handle {
	overlapping := e.store.Overlapping(table, tr)
	tagRanges := pred.TagRanges()
	if len(tagRanges) == 0 {
		return overlapping
	}
	matched, known := e.index.Candidates(table, tagRanges)
	out := overlapping[:0:0]
	for _, h := range overlapping {
		// Narrowing only applies to segments the index has seen; a segment
		// it does not know carries no verdict and is scanned.
		if known.Contains(h.ID()) && !matched.Contains(h.ID()) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func resolveProjection(ts *schema.TableSchema, projection []string) ([]string, error) {
	if len(projection) == 0 {
		return ts.Columns(), nil
	}
	for _, col := range projection {
		if _, _, ok := ts.Column(col); !ok {
			return nil, fmt.Errorf("%w: %s", normalize.ErrUnknownColumn, col)
		}
	}
	return projection, nil
}

// sortRows totally orders rows by one column under its declared kind's
// comparison semantics. Nulls order first ascending; ties keep no
// guaranteed relative order beyond the primary key.
func sortRows(ts *schema.TableSchema, rows []models.Row, col string, kind value.Kind, desc bool) {
	sort.Slice(rows, func(i, j int) bool {
		c := compareForSort(normalize.ColumnValue(ts, &rows[i], col), normalize.ColumnValue(ts, &rows[j], col), kind)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareForSort(a, b value.Value, kind value.Kind) int {
	ca, errA := value.Cast(a, kind)
	cb, errB := value.Cast(b, kind)
	nullA := a.IsNull() || errA != nil
	nullB := b.IsNull() || errB != nil
	switch {
	case nullA && nullB:
		return 0
	case nullA:
		return -1
	case nullB:
		return 1
	}
	c, err := value.Compare(ca, cb)
	if err != nil {
		return 0
	}
	return c
}

func project(ts *schema.TableSchema, rows []models.Row, columns []string) *Result {
	res := &Result{
		Columns: columns,
		Rows:    make([][]value.Value, 0, len(rows)),
	}
	for i := range rows {
		out := make([]value.Value, len(columns))
		for j, col := range columns {
			out[j] = normalize.ColumnValue(ts, &rows[i], col)
		}
		res.Rows = append(res.Rows, out)
	}
	return res
}
