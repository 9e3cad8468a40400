package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/internal/expr"
	"github.com/stratumdb/stratum/internal/normalize"
	"github.com/stratumdb/stratum/internal/querytrack"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/tagindex"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newM2Executor seeds an executor with table m2 and its rows spread over
// three segments, one tag value per row of the t1 set used throughout.
func newM2Executor(t *testing.T, ttl time.Duration) *Executor {
	t.Helper()

	catalog := schema.NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.CreateTable(&schema.TableSchema{
		Name:       "m2",
		TimeColumn: "time",
		TagColumns: []string{"t0", "t1"},
		FieldColumns: []schema.ColumnDef{
			{Name: "f0", Kind: value.KindUint},
			{Name: "f1", Kind: value.KindString},
		},
		TTL: ttl,
	}))

	store := segment.NewStore(zerolog.Nop())
	index := tagindex.New(zerolog.Nop())
	e := New(DefaultConfig(), catalog, store, index, zerolog.Nop())
	e.now = func() time.Time { return fixedNow }

	type seed struct {
		minutesAgo int64
		t1         string
		f0         uint64
	}
	segments := [][]seed{
		{{50, "7ua", 1}, {40, "aF", 2}},
		{{30, "gc.", 3}, {25, "qy", 4}, {20, "", 5}},
		{{10, "n...", 6}, {5, "V*1lE/", 7}},
	}
	for i, rows := range segments {
		b := segment.NewBuilder()
		for _, r := range rows {
			b.Append(models.Row{
				Time: fixedNow.Add(-time.Duration(r.minutesAgo) * time.Minute).UnixNano(),
				Tags: map[string]string{"t0": "host1", "t1": r.t1},
				Fields: map[string]value.Value{
					"f0": value.Uint(r.f0),
					"f1": value.String(fmt.Sprintf("row%d", r.f0)),
				},
			})
		}
		h, err := b.Seal(uint32(i + 1))
		require.NoError(t, err)
		require.NoError(t, e.AddSegment("m2", h))
	}
	return e
}

func tagColumn(t *testing.T, res *Result, col string) []string {
	t.Helper()
	idx := -1
	for i, c := range res.Columns {
		if c == col {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx, "column %s not projected", col)
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		require.Equal(t, value.KindString, row[idx].Kind)
		out = append(out, row[idx].S)
	}
	return out
}

func TestExecuteBetweenStringRange(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table: "m2",
		Predicate: expr.Between{
			Operand: expr.Col("t1"),
			Lo:      expr.Str("7ua"),
			Hi:      expr.Str("aF"),
		},
	})
	require.NoError(t, err)

	// Byte-wise ordering: '7ua', 'aF' and 'V*1lE/' fall inside the closed
	// range; 'gc.', 'qy', '' and 'n...' do not.
	assert.ElementsMatch(t, []string{"7ua", "aF", "V*1lE/"}, tagColumn(t, res, "t1"))
}

func TestExecuteUpperBoundMatchesEmptyString(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table: "m2",
		Predicate: expr.Compare{
			Op: expr.OpLe, LHS: expr.Col("t1"), RHS: expr.Str("0"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, tagColumn(t, res, "t1"))
}

func TestExecuteSwappedBetweenYieldsEmptyResult(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table: "m2",
		Predicate: expr.Between{
			Operand: expr.Col("t1"),
			Lo:      expr.Str("aF"),
			Hi:      expr.Str("7ua"),
		},
	})
	require.NoError(t, err, "swapped bounds are an empty result, not an error")
	assert.Empty(t, res.Rows)
	assert.NotEmpty(t, res.Columns)

	hist := e.Registry().History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, querytrack.StateDone, hist[0].State)
}

func TestExecuteTTLHidesExpiredRows(t *testing.T) {
	// TTL 35m: rows at -50m ('7ua') and -40m ('aF') are past the cutoff.
	e := newM2Executor(t, 35*time.Minute)

	res, err := e.Execute(context.Background(), expr.Plan{Table: "m2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gc.", "qy", "", "n...", "V*1lE/"}, tagColumn(t, res, "t1"))
}

func TestExecuteOrderByTimeAscending(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table:   "m2",
		OrderBy: &expr.OrderBy{Column: "time"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 7)

	timeIdx := 0
	require.Equal(t, "time", res.Columns[timeIdx])
	var prev int64
	for i, row := range res.Rows {
		ts := row[timeIdx].I
		if i > 0 {
			assert.LessOrEqual(t, prev, ts, "row %d out of order", i)
		}
		prev = ts
	}
}

func TestExecuteOrderByTagDescending(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table:   "m2",
		OrderBy: &expr.OrderBy{Column: "t1", Desc: true},
	})
	require.NoError(t, err)

	want := []string{"qy", "n...", "gc.", "aF", "V*1lE/", "7ua", ""}
	assert.Equal(t, want, tagColumn(t, res, "t1"))
}

func TestExecuteOrderBySmallResults(t *testing.T) {
	e := newM2Executor(t, 0)

	// Zero rows.
	res, err := e.Execute(context.Background(), expr.Plan{
		Table:     "m2",
		Predicate: expr.Compare{Op: expr.OpEq, LHS: expr.Col("t1"), RHS: expr.Str("absent")},
		OrderBy:   &expr.OrderBy{Column: "t1"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)

	// One row.
	res, err = e.Execute(context.Background(), expr.Plan{
		Table:     "m2",
		Predicate: expr.Compare{Op: expr.OpEq, LHS: expr.Col("t1"), RHS: expr.Str("qy")},
		OrderBy:   &expr.OrderBy{Column: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"qy"}, tagColumn(t, res, "t1"))
}

func TestExecuteProjectionAndLimit(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table:      "m2",
		Projection: []string{"t1", "f0"},
		OrderBy:    &expr.OrderBy{Column: "f0"},
		Limit:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "f0"}, res.Columns)
	require.Len(t, res.Rows, 3)
	for i, row := range res.Rows {
		assert.Equal(t, uint64(i+1), row[1].U)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	e := newM2Executor(t, 0)
	plan := expr.Plan{
		Table: "m2",
		Predicate: expr.Between{
			Operand: expr.Col("t1"),
			Lo:      expr.Str("7ua"),
			Hi:      expr.Str("aF"),
		},
		OrderBy: &expr.OrderBy{Column: "time"},
	}

	first, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExecuteUnknownTable(t *testing.T) {
	e := newM2Executor(t, 0)

	_, err := e.Execute(context.Background(), expr.Plan{Table: "nope"})
	require.ErrorIs(t, err, schema.ErrTableNotFound)

	hist := e.Registry().History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, querytrack.StateError, hist[0].State)
}

func TestExecuteUnsupportedExpressionFailsFast(t *testing.T) {
	e := newM2Executor(t, 0)

	// String-ordered comparison against a numeric field without a cast has
	// no defined ordering.
	_, err := e.Execute(context.Background(), expr.Plan{
		Table:     "m2",
		Predicate: expr.Compare{Op: expr.OpLt, LHS: expr.Col("f0"), RHS: expr.Str("10")},
	})
	require.ErrorIs(t, err, normalize.ErrUnsupportedExpression)

	stats := e.GetStats()
	assert.Zero(t, stats.RowsScanned, "failed normalization must not scan")
}

func TestExecuteUnknownProjectionAndOrderColumns(t *testing.T) {
	e := newM2Executor(t, 0)

	_, err := e.Execute(context.Background(), expr.Plan{Table: "m2", Projection: []string{"zzz"}})
	require.ErrorIs(t, err, normalize.ErrUnknownColumn)

	_, err = e.Execute(context.Background(), expr.Plan{Table: "m2", OrderBy: &expr.OrderBy{Column: "zzz"}})
	require.ErrorIs(t, err, normalize.ErrUnknownColumn)
}

func TestExecuteIndexNeverDropsMatchingRows(t *testing.T) {
	// Narrowing property: every row the filter accepts must come from a
	// candidate segment, so an index-pruned Execute equals a full filter
	// over everything.
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table: "m2",
		Predicate: expr.Compare{
			Op: expr.OpGe, LHS: expr.Col("t1"), RHS: expr.Str("n"),
		},
		OrderBy: &expr.OrderBy{Column: "time"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"qy", "n..."}, tagColumn(t, res, "t1"))

	stats := e.GetStats()
	assert.Positive(t, stats.SegmentsPruned, "tag pruning should skip segment 1")
}

func TestExecuteScansSegmentMissingFromIndex(t *testing.T) {
	catalog := schema.NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.CreateTable(&schema.TableSchema{
		Name:       "m2",
		TimeColumn: "time",
		TagColumns: []string{"t1"},
		FieldColumns: []schema.ColumnDef{
			{Name: "f0", Kind: value.KindUint},
		},
	}))
	store := segment.NewStore(zerolog.Nop())
	index := tagindex.New(zerolog.Nop())
	e := New(DefaultConfig(), catalog, store, index, zerolog.Nop())
	e.now = func() time.Time { return fixedNow }

	b := segment.NewBuilder()
	b.Append(models.Row{
		Time:   fixedNow.Add(-time.Minute).UnixNano(),
		Tags:   map[string]string{"t1": "aF"},
		Fields: map[string]value.Value{"f0": value.Uint(1)},
	})
	h, err := b.Seal(1)
	require.NoError(t, err)

	// Registered with the store only. The index has no verdict over the
	// segment, so a tag-constrained query must still scan it instead of
	// silently dropping its rows.
	store.Add("m2", h)

	res, err := e.Execute(context.Background(), expr.Plan{
		Table: "m2",
		Predicate: expr.Compare{
			Op: expr.OpEq, LHS: expr.Col("t1"), RHS: expr.Str("aF"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aF"}, tagColumn(t, res, "t1"))
}

func TestExecuteCancelledQuery(t *testing.T) {
	e := newM2Executor(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, expr.Plan{Table: "m2"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteStats(t *testing.T) {
	e := newM2Executor(t, 0)

	res, err := e.Execute(context.Background(), expr.Plan{Table: "m2"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 7)

	stats := e.GetStats()
	assert.Equal(t, int64(1), stats.Queries)
	assert.Equal(t, int64(7), stats.RowsScanned)
	assert.Equal(t, int64(7), stats.RowsReturned)
	assert.Equal(t, int64(3), stats.SegmentsScanned)
}
