// Package compaction merges small sealed segments of a table into larger
// ones. Fewer segments means fewer iterator opens and a shallower merge
// heap per query; row content and time ordering are unchanged. Queries
// running during a compaction keep their pinned snapshot and are unaffected.
package compaction

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/stratumdb/stratum/internal/scan"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/tagindex"
)

// Config holds configuration for the compactor.
type Config struct {
	Catalog *schema.Catalog
	Store   *segment.Store
	Index   *tagindex.Index

	// NextID allocates segment IDs for compacted output. Must come from
	// the same sequence the write path uses.
	NextID func() uint32

	// MinSegments is the smallest candidate run worth compacting
	// (default: 4).
	MinSegments int

	// SmallSegmentRows marks a segment as small enough to compact
	// (default: 4096).
	SmallSegmentRows int

	// MaxOutputRows caps the rows merged into one output segment
	// (default: 65536).
	MaxOutputRows int

	Logger zerolog.Logger
}

// Compactor merges runs of small segments per table.
type Compactor struct {
	catalog   *schema.Catalog
	store     *segment.Store
	index     *tagindex.Index
	nextID    func() uint32
	scanner   *scan.Scanner
	minSegs   int
	smallRows int
	maxRows   int
	logger    zerolog.Logger
}

// New creates a compactor. NextID is required.
func New(cfg *Config) *Compactor {
	minSegs := cfg.MinSegments
	if minSegs <= 0 {
		minSegs = 4
	}
	smallRows := cfg.SmallSegmentRows
	if smallRows <= 0 {
		smallRows = 4096
	}
	maxRows := cfg.MaxOutputRows
	if maxRows <= 0 {
		maxRows = 65536
	}
	return &Compactor{
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		index:     cfg.Index,
		nextID:    cfg.NextID,
		scanner:   scan.New(scan.Config{MaxConcurrentOpens: 1}, cfg.Logger),
		minSegs:   minSegs,
		smallRows: smallRows,
		maxRows:   maxRows,
		logger:    cfg.Logger.With().Str("component", "compactor").Logger(),
	}
}

// findCandidates returns a time-ordered run of small segments to merge, or
// nil when the table has nothing worth compacting.
func (c *Compactor) findCandidates(table string) []segment.Handle {
	var small []segment.Handle
	for _, h := range c.store.Snapshot(table) {
		if h.Len() <= c.smallRows {
			small = append(small, h)
		}
	}
	if len(small) < c.minSegs {
		return nil
	}
	sort.Slice(small, func(i, j int) bool {
		bi, bj := small[i].Bounds(), small[j].Bounds()
		if bi.Min != bj.Min {
			return bi.Min < bj.Min
		}
		return small[i].ID() < small[j].ID()
	})

	// Cap the run so one compaction never builds an oversized segment.
	rows := 0
	for i, h := range small {
		if rows+h.Len() > c.maxRows {
			small = small[:i]
			break
		}
		rows += h.Len()
	}
	if len(small) < c.minSegs {
		return nil
	}
	return small
}

// CompactTable merges one candidate run of the table into a single new
// segment. Returns the number of segments retired (zero when there was
// nothing to do). The store swap is one atomic publish: a concurrent query
// pins either the input run or the merged segment, never a mix of both.
func (c *Compactor) CompactTable(ctx context.Context, table string) (int, error) {
	ts, err := c.catalog.Lookup(table)
	if err != nil {
		return 0, err
	}
	candidates := c.findCandidates(table)
	if candidates == nil {
		return 0, nil
	}

	start := time.Now()
	it, err := c.scanner.Scan(ctx, candidates, segment.Universe(), false)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	b := segment.NewBuilder()
	for it.Next() {
		b.Append(*it.Row())
	}
	if err := it.Err(); err != nil {
		return 0, err
	}

	merged, err := b.Seal(c.nextID())
	if err != nil {
		return 0, err
	}

	retired := make([]uint32, len(candidates))
	for i, h := range candidates {
		retired[i] = h.ID()
	}
	// Index swap first: the tag index treats segments it does not know as
	// always-scan, so neither update order can hide rows from a query that
	// interleaves with the swap.
	c.index.ReplaceSegment(table, merged, ts.TagColumns, retired)
	c.store.Replace(table, merged, retired)

	c.logger.Info().
		Str("table", table).
		Int("segments_in", len(candidates)).
		Uint32("segment_out", merged.ID()).
		Int("rows", merged.Len()).
		Dur("duration", time.Since(start)).
		Msg("Segments compacted")
	return len(candidates), nil
}

// RunOnce compacts every table once, returning the total number of
// segments retired. Errors on one table do not stop the others; the first
// error is returned after the sweep.
func (c *Compactor) RunOnce(ctx context.Context) (int, error) {
	total := 0
	var firstErr error
	for _, table := range c.catalog.Tables() {
		n, err := c.CompactTable(ctx, table)
		if err != nil {
			c.logger.Error().Err(err).Str("table", table).Msg("Compaction failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	return total, firstErr
}
