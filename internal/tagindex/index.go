// Package tagindex maps tag-column values to the segments containing them.
// Lookups are conservative by construction: a segment is a candidate when
// any of its rows carries a matching tag value, so the row filter must
// still re-check every range.
package tagindex

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/rs/zerolog"
	"github.com/stratumdb/stratum/internal/normalize"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/value"
)

// postings holds, for one tag column, the distinct tag values in sorted
// order and the segment bitmap for each value. Sorted order makes range
// lookups a pair of binary searches.
type postings struct {
	values []string
	bits   []*roaring.Bitmap
}

func (p *postings) insert(val string, segID uint32) {
	i := sort.SearchStrings(p.values, val)
	if i < len(p.values) && p.values[i] == val {
		p.bits[i].Add(segID)
		return
	}
	p.values = append(p.values, "")
	p.bits = append(p.bits, nil)
	copy(p.values[i+1:], p.values[i:])
	copy(p.bits[i+1:], p.bits[i:])
	p.values[i] = val
	p.bits[i] = roaring.BitmapOf(segID)
}

// span returns the posting index interval [lo, hi) matching r.
func (p *postings) span(r *normalize.Range) (int, int) {
	lo, hi := 0, len(p.values)
	if r.Lo != nil {
		v := r.Lo.Value.S
		if r.Lo.Inclusive {
			lo = sort.SearchStrings(p.values, v)
		} else {
			lo = sort.Search(len(p.values), func(i int) bool { return p.values[i] > v })
		}
	}
	if r.Hi != nil {
		v := r.Hi.Value.S
		if r.Hi.Inclusive {
			hi = sort.Search(len(p.values), func(i int) bool { return p.values[i] > v })
		} else {
			hi = sort.SearchStrings(p.values, v)
		}
	}
	return lo, hi
}

type tableIndex struct {
	all  *roaring.Bitmap
	cols map[string]*postings
}

// Index is the per-table tag inverted index over segment IDs.
type Index struct {
	mu     sync.RWMutex
	tables map[string]*tableIndex
	logger zerolog.Logger
}

// New creates an empty tag index.
func New(logger zerolog.Logger) *Index {
	return &Index{
		tables: map[string]*tableIndex{},
		logger: logger.With().Str("component", "tag-index").Logger(),
	}
}

// AddSegment indexes a sealed segment's tag values under the declared tag
// columns.
func (ix *Index) AddSegment(table string, h segment.Handle, tagColumns []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addLocked(table, h, tagColumns)
}

// RemoveSegment drops a segment ID from every posting of the table.
func (ix *Index) RemoveSegment(table string, id uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(table, id)
}

// ReplaceSegment indexes merged and drops the retired segment IDs in one
// critical section, so no lookup sees the merged segment and its inputs
// matched at the same time.
func (ix *Index) ReplaceSegment(table string, merged segment.Handle, tagColumns []string, removeIDs []uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.addLocked(table, merged, tagColumns)
	for _, id := range removeIDs {
		ix.removeLocked(table, id)
	}
}

func (ix *Index) addLocked(table string, h segment.Handle, tagColumns []string) {
	ti, ok := ix.tables[table]
	if !ok {
		ti = &tableIndex{all: roaring.New(), cols: map[string]*postings{}}
		ix.tables[table] = ti
	}
	ti.all.Add(h.ID())
	for _, col := range tagColumns {
		vals := h.TagValues(col)
		if len(vals) == 0 {
			continue
		}
		p, ok := ti.cols[col]
		if !ok {
			p = &postings{}
			ti.cols[col] = p
		}
		for _, v := range vals {
			p.insert(v, h.ID())
		}
	}

	ix.logger.Debug().
		Str("table", table).
		Uint32("segment_id", h.ID()).
		Msg("Segment indexed")
}

func (ix *Index) removeLocked(table string, id uint32) {
	ti, ok := ix.tables[table]
	if !ok {
		return
	}
	ti.all.Remove(id)
	for _, p := range ti.cols {
		for i := range p.bits {
			p.bits[i].Remove(id)
		}
	}
}

// DropTable removes the whole table's index.
func (ix *Index) DropTable(table string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.tables, table)
}

// Candidates intersects, for each constrained tag column, the segments
// whose tag values fall inside the column's range. Columns without a
// constraint contribute the full segment set; no constraints at all
// matches every segment of the table.
//
// The second bitmap holds all segment IDs the index currently knows for the
// table. The index and the segment store are updated independently, so a
// segment outside the known set (stored but not yet indexed, or retired
// after the caller pinned its store snapshot) carries no verdict and must
// be scanned by the caller.
func (ix *Index) Candidates(table string, tagRanges map[string]*normalize.Range) (matched, known *roaring.Bitmap) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ti, ok := ix.tables[table]
	if !ok {
		return roaring.New(), roaring.New()
	}
	known = ti.all.Clone()
	matched = ti.all.Clone()
	for col, r := range tagRanges {
		if r.Kind != value.KindString {
			// Non-string ordering over a tag column cannot use the index;
			// stay conservative and let the row filter decide.
			continue
		}
		p, ok := ti.cols[col]
		if !ok {
			// No indexed segment carries this tag column, so no row of the
			// known set can satisfy a range over it (null never matches a
			// comparison).
			return roaring.New(), known
		}
		lo, hi := p.span(r)
		colMatched := roaring.New()
		for i := lo; i < hi; i++ {
			colMatched.Or(p.bits[i])
		}
		matched.And(colMatched)
		if matched.IsEmpty() {
			return matched, known
		}
	}
	return matched, known
}
