package retention

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/tagindex"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

func sealSegment(t *testing.T, id uint32, times ...time.Time) segment.Handle {
	t.Helper()
	b := segment.NewBuilder()
	for _, ts := range times {
		b.Append(models.Row{Time: ts.UnixNano(), Tags: map[string]string{"t0": "a"}})
	}
	h, err := b.Seal(id)
	require.NoError(t, err)
	return h
}

func TestRunOnceDropsExpiredSegments(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	catalog := schema.NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.CreateTable(&schema.TableSchema{
		Name:       "m2",
		TimeColumn: "time",
		TagColumns: []string{"t0"},
		FieldColumns: []schema.ColumnDef{
			{Name: "f0", Kind: value.KindUint},
		},
		TTL: time.Hour,
	}))

	store := segment.NewStore(zerolog.Nop())
	index := tagindex.New(zerolog.Nop())

	// Segment 1 is fully expired; segment 2 straddles the cutoff and must
	// survive (the scanner hides its expired rows at read time).
	old := sealSegment(t, 1, now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	mixed := sealSegment(t, 2, now.Add(-2*time.Hour), now.Add(-10*time.Minute))
	fresh := sealSegment(t, 3, now.Add(-5*time.Minute))
	for _, h := range []segment.Handle{old, mixed, fresh} {
		store.Add("m2", h)
		index.AddSegment("m2", h, []string{"t0"})
	}

	sw, err := NewSweeper(&SweeperConfig{
		Catalog: catalog,
		Store:   store,
		Index:   index,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	sw.now = func() time.Time { return now }

	assert.Equal(t, 1, sw.RunOnce())
	assert.Equal(t, 2, store.SegmentCount("m2"))
	remaining, _ := index.Candidates("m2", nil)
	assert.Equal(t, []uint32{2, 3}, remaining.ToArray())

	// Idempotent until more time passes.
	assert.Equal(t, 0, sw.RunOnce())
}

func TestRunOnceSkipsTablesWithoutTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	catalog := schema.NewCatalog(zerolog.Nop())
	require.NoError(t, catalog.CreateTable(&schema.TableSchema{
		Name:       "keep",
		TimeColumn: "time",
		TagColumns: []string{"t0"},
	}))

	store := segment.NewStore(zerolog.Nop())
	index := tagindex.New(zerolog.Nop())
	store.Add("keep", sealSegment(t, 1, now.Add(-1000*time.Hour)))

	sw, err := NewSweeper(&SweeperConfig{Catalog: catalog, Store: store, Index: index, Logger: zerolog.Nop()})
	require.NoError(t, err)
	sw.now = func() time.Time { return now }

	assert.Equal(t, 0, sw.RunOnce())
	assert.Equal(t, 1, store.SegmentCount("keep"))
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(&SweeperConfig{Schedule: "not a schedule", Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	catalog := schema.NewCatalog(zerolog.Nop())
	sw, err := NewSweeper(&SweeperConfig{
		Catalog: catalog,
		Store:   segment.NewStore(zerolog.Nop()),
		Index:   tagindex.New(zerolog.Nop()),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, sw.Start())
	require.NoError(t, sw.Start()) // second start is a no-op
	sw.Stop()
	sw.Stop() // second stop is a no-op
}
