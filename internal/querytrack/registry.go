// Package querytrack tracks in-flight and recently finished queries:
// execution state, timing, row counts and context-based cancellation.
package querytrack

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is one step of the query execution state machine. Transitions are
// strictly sequential; Done, Error and Cancelled are terminal.
type State string

const (
	StateParsed        State = "parsed"
	StateNormalized    State = "normalized"
	StateIndexResolved State = "index_resolved"
	StateScanning      State = "scanning"
	StateFiltering     State = "filtering"
	StateSorting       State = "sorting"
	StateDone          State = "done"
	StateError         State = "error"
	StateCancelled     State = "cancelled"
)

// Query holds the tracked metadata of one query execution.
type Query struct {
	ID           string     `json:"id"`
	Table        string     `json:"table"`
	State        State      `json:"state"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMs   float64    `json:"duration_ms,omitempty"`
	RowCount     int        `json:"row_count,omitempty"`
	SegmentCount int        `json:"segment_count,omitempty"`
	Error        string     `json:"error,omitempty"`
}

type activeEntry struct {
	query  *Query
	cancel context.CancelFunc
}

// Config holds registry configuration.
type Config struct {
	HistorySize int // Ring buffer size for finished queries (default: 100)
}

// Registry tracks active and recently finished queries.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]*activeEntry
	history  []*Query
	histSize int
	histHead int
	histLen  int
	logger   zerolog.Logger
}

// NewRegistry creates a query registry.
func NewRegistry(cfg *Config, logger zerolog.Logger) *Registry {
	histSize := 100
	if cfg != nil && cfg.HistorySize > 0 {
		histSize = cfg.HistorySize
	}
	return &Registry{
		active:   make(map[string]*activeEntry),
		history:  make([]*Query, histSize),
		histSize: histSize,
		logger:   logger.With().Str("component", "query-registry").Logger(),
	}
}

// Register starts tracking a query. The returned context is derived from
// parentCtx and aborts the query when Cancel is called.
func (r *Registry) Register(parentCtx context.Context, table string) (string, context.Context) {
	queryID := uuid.New().String()[:12]
	ctx, cancel := context.WithCancel(parentCtx)

	q := &Query{
		ID:        queryID,
		Table:     table,
		State:     StateParsed,
		StartTime: time.Now(),
	}

	r.mu.Lock()
	r.active[queryID] = &activeEntry{query: q, cancel: cancel}
	r.mu.Unlock()

	r.logger.Debug().
		Str("query_id", queryID).
		Str("table", table).
		Msg("Query registered")

	return queryID, ctx
}

// SetState advances an active query's state machine.
func (r *Registry) SetState(queryID string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.active[queryID]; ok {
		entry.query.State = s
	}
}

// SetSegmentCount records how many candidate segments the query resolved.
func (r *Registry) SetSegmentCount(queryID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.active[queryID]; ok {
		entry.query.SegmentCount = n
	}
}

// Complete moves a query to the Done terminal state and into history.
func (r *Registry) Complete(queryID string, rowCount int) {
	r.finish(queryID, StateDone, "", rowCount)
}

// Fail moves a query to the Error terminal state and into history.
// Partial results are the caller's to discard; the registry only records
// the failure.
func (r *Registry) Fail(queryID string, errMsg string) {
	r.finish(queryID, StateError, errMsg, 0)
}

// Cancel aborts a running query. Returns false if the query is not active.
func (r *Registry) Cancel(queryID string) bool {
	r.mu.Lock()
	entry, ok := r.active[queryID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	cancel := entry.cancel
	r.mu.Unlock()

	// Cancel the context first so the executor releases scoped resources,
	// then record the terminal state.
	cancel()
	r.finish(queryID, StateCancelled, "", 0)

	r.logger.Info().Str("query_id", queryID).Msg("Query cancelled")
	return true
}

func (r *Registry) finish(queryID string, s State, errMsg string, rowCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.active[queryID]
	if !ok {
		return
	}
	// Release the query context; its registration in the parent context
	// must not outlive the query.
	entry.cancel()
	now := time.Now()
	entry.query.State = s
	entry.query.EndTime = &now
	entry.query.DurationMs = float64(now.Sub(entry.query.StartTime).Microseconds()) / 1000
	entry.query.Error = errMsg
	entry.query.RowCount = rowCount

	r.history[r.histHead] = entry.query
	r.histHead = (r.histHead + 1) % r.histSize
	if r.histLen < r.histSize {
		r.histLen++
	}
	delete(r.active, queryID)
}

// Active returns a snapshot of all running queries.
func (r *Registry) Active() []*Query {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Query, 0, len(r.active))
	now := time.Now()
	for _, entry := range r.active {
		q := *entry.query
		q.DurationMs = float64(now.Sub(q.StartTime).Microseconds()) / 1000
		out = append(out, &q)
	}
	return out
}

// History returns the most recent finished queries, newest first.
func (r *Registry) History(limit int) []*Query {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.histLen
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]*Query, 0, count)
	for i := 0; i < count; i++ {
		idx := (r.histHead - 1 - i + r.histSize) % r.histSize
		if r.history[idx] != nil {
			q := *r.history[idx]
			out = append(out, &q)
		}
	}
	return out
}

// ActiveCount returns the number of currently running queries.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
