package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumdb/stratum/internal/expr"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/tagindex"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

// benchExecutor seeds segCount segments of rowsPerSeg rows each, tags
// cycling over 16 hosts.
func benchExecutor(b *testing.B, segCount, rowsPerSeg int) *Executor {
	b.Helper()

	catalog := schema.NewCatalog(zerolog.Nop())
	if err := catalog.CreateTable(&schema.TableSchema{
		Name:       "bench",
		TimeColumn: "time",
		TagColumns: []string{"host"},
		FieldColumns: []schema.ColumnDef{
			{Name: "usage", Kind: value.KindFloat},
		},
	}); err != nil {
		b.Fatal(err)
	}

	e := New(DefaultConfig(), catalog, segment.NewStore(zerolog.Nop()), tagindex.New(zerolog.Nop()), zerolog.Nop())
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixNano()

	n := 0
	for s := 0; s < segCount; s++ {
		bld := segment.NewBuilder()
		for r := 0; r < rowsPerSeg; r++ {
			bld.Append(models.Row{
				Time:   base + int64(n)*int64(time.Second),
				Tags:   map[string]string{"host": fmt.Sprintf("host%02d", n%16)},
				Fields: map[string]value.Value{"usage": value.Float(float64(n % 100))},
			})
			n++
		}
		h, err := bld.Seal(uint32(s + 1))
		if err != nil {
			b.Fatal(err)
		}
		if err := e.AddSegment("bench", h); err != nil {
			b.Fatal(err)
		}
	}
	return e
}

func runPlan(b *testing.B, e *Executor, plan expr.Plan) {
	b.Helper()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Execute(context.Background(), plan); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExecuteFullScan(b *testing.B) {
	e := benchExecutor(b, 8, 2048)
	runPlan(b, e, expr.Plan{Table: "bench"})
}

func BenchmarkExecuteTagEquality(b *testing.B) {
	e := benchExecutor(b, 8, 2048)
	runPlan(b, e, expr.Plan{
		Table: "bench",
		Predicate: expr.Compare{
			Op: expr.OpEq, LHS: expr.Col("host"), RHS: expr.Str("host03"),
		},
	})
}

func BenchmarkExecuteOrderedMerge(b *testing.B) {
	e := benchExecutor(b, 8, 2048)
	runPlan(b, e, expr.Plan{
		Table:   "bench",
		OrderBy: &expr.OrderBy{Column: "time"},
	})
}

func BenchmarkExecuteFieldRangeWithLimit(b *testing.B) {
	e := benchExecutor(b, 8, 2048)
	runPlan(b, e, expr.Plan{
		Table: "bench",
		Predicate: expr.Compare{
			Op: expr.OpGe, LHS: expr.Col("usage"), RHS: expr.Lit(value.Float(90)),
		},
		Projection: []string{"time", "host", "usage"},
		Limit:      100,
	})
}
