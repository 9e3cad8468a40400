// Package segment holds the storage-facing model of the query core: sealed,
// immutable, time-ordered runs of rows, and the copy-on-write store that
// tracks which segments exist per table. Durability and the write path live
// outside the core; this package only needs sealed segments to scan.
package segment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/stratumdb/stratum/pkg/models"
)

// ErrStorageUnavailable wraps segment fetch failures. The core surfaces
// these as query failures; unreadable segments are never silently skipped.
var ErrStorageUnavailable = errors.New("storage unavailable")

// RowIterator is a pull-based cursor over rows in TIME order. Callers must
// Close it to release the underlying segment handle.
type RowIterator interface {
	// Next advances the iterator, returning false at the end of the
	// sequence or on error.
	Next() bool

	// Row returns the current row. Only valid after a true Next.
	Row() *models.Row

	// Err returns the first error encountered, if any.
	Err() error

	Close() error
}

// Handle is a read-only reference to one sealed segment.
type Handle interface {
	ID() uint32
	Bounds() TimeRange
	Len() int

	// Scan yields the segment's rows with TIME inside tr, in TIME order.
	// The returned iterator is restartable per call and owned by one query.
	Scan(ctx context.Context, tr TimeRange) (RowIterator, error)

	// TagValues returns the distinct values of a tag column present in the
	// segment, for index maintenance.
	TagValues(col string) []string
}

const defaultBlockRows = 512

// block is one s2-compressed run of encoded rows.
type block struct {
	minTime int64
	maxTime int64
	n       int
	data    []byte
}

// Mem is a sealed in-memory segment: rows sorted by TIME and encoded into
// independently compressed blocks, decoded lazily during scans.
type Mem struct {
	id        uint32
	bounds    TimeRange
	n         int
	blocks    []block
	tagValues map[string][]string // sorted distinct values per tag column
}

var _ Handle = (*Mem)(nil)

func (m *Mem) ID() uint32        { return m.id }
func (m *Mem) Bounds() TimeRange { return m.bounds }
func (m *Mem) Len() int          { return m.n }

func (m *Mem) TagValues(col string) []string { return m.tagValues[col] }

// Scan returns a lazy iterator over rows with TIME inside tr. Blocks whose
// time bounds fall outside tr are never decompressed.
func (m *Mem) Scan(ctx context.Context, tr TimeRange) (RowIterator, error) {
	if !tr.Valid() || !m.bounds.Overlaps(tr) {
		return emptyIterator{}, nil
	}
	// First block that can hold rows >= tr.Min.
	start := sort.Search(len(m.blocks), func(i int) bool {
		return m.blocks[i].maxTime >= tr.Min
	})
	return &memIterator{ctx: ctx, seg: m, tr: tr, blockIdx: start}, nil
}

type memIterator struct {
	ctx      context.Context
	seg      *Mem
	tr       TimeRange
	blockIdx int
	dec      rowDecoder
	decoded  bool
	row      models.Row
	err      error
	closed   bool
}

func (it *memIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	for {
		if !it.decoded {
			// Cancellation is honored at block boundaries, the iterator's
			// suspension points.
			if err := it.ctx.Err(); err != nil {
				it.err = err
				return false
			}
			if it.blockIdx >= len(it.seg.blocks) {
				return false
			}
			b := it.seg.blocks[it.blockIdx]
			if b.minTime > it.tr.Max {
				return false
			}
			raw, err := decompressBlock(b.data)
			if err != nil {
				it.err = fmt.Errorf("%w: segment %d: %v", ErrStorageUnavailable, it.seg.id, err)
				return false
			}
			it.dec = rowDecoder{buf: raw}
			it.decoded = true
		}
		for it.dec.remaining() {
			row, err := it.dec.next()
			if err != nil {
				it.err = fmt.Errorf("%w: segment %d: %v", ErrStorageUnavailable, it.seg.id, err)
				return false
			}
			if row.Time > it.tr.Max {
				return false
			}
			if row.Time < it.tr.Min {
				continue
			}
			it.row = row
			return true
		}
		it.blockIdx++
		it.decoded = false
	}
}

func (it *memIterator) Row() *models.Row { return &it.row }
func (it *memIterator) Err() error       { return it.err }
func (it *memIterator) Close() error {
	it.closed = true
	return nil
}

type emptyIterator struct{}

func (emptyIterator) Next() bool        { return false }
func (emptyIterator) Row() *models.Row  { return nil }
func (emptyIterator) Err() error        { return nil }
func (emptyIterator) Close() error      { return nil }

// Builder accumulates rows and seals them into an immutable segment.
// Sealing sorts by TIME; append order does not matter.
type Builder struct {
	rows      []models.Row
	blockRows int
}

// NewBuilder creates a builder with the default block size.
func NewBuilder() *Builder {
	return &Builder{blockRows: defaultBlockRows}
}

// NewBuilderBlockRows creates a builder sealing the given number of rows
// per compressed block.
func NewBuilderBlockRows(blockRows int) *Builder {
	if blockRows < 1 {
		blockRows = defaultBlockRows
	}
	return &Builder{blockRows: blockRows}
}

// Append adds a row. The row is deep-copied so callers may reuse maps.
func (b *Builder) Append(row models.Row) {
	b.rows = append(b.rows, row.Clone())
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int { return len(b.rows) }

// Seal sorts, encodes and compresses the accumulated rows into a segment
// with the given ID. Sealing an empty builder is an error.
func (b *Builder) Seal(id uint32) (*Mem, error) {
	if len(b.rows) == 0 {
		return nil, errors.New("sealing empty segment")
	}
	sort.SliceStable(b.rows, func(i, j int) bool {
		return b.rows[i].Time < b.rows[j].Time
	})

	m := &Mem{
		id: id,
		n:  len(b.rows),
		bounds: TimeRange{
			Min: b.rows[0].Time,
			Max: b.rows[len(b.rows)-1].Time,
		},
	}

	tagSets := map[string]map[string]struct{}{}
	var buf []byte
	flush := func(rows []models.Row) {
		m.blocks = append(m.blocks, block{
			minTime: rows[0].Time,
			maxTime: rows[len(rows)-1].Time,
			n:       len(rows),
			data:    compressBlock(buf),
		})
		buf = buf[:0]
	}

	start := 0
	for i, row := range b.rows {
		buf = appendRow(buf, &b.rows[i])
		for k, v := range row.Tags {
			set, ok := tagSets[k]
			if !ok {
				set = map[string]struct{}{}
				tagSets[k] = set
			}
			set[v] = struct{}{}
		}
		if i-start+1 >= b.blockRows {
			flush(b.rows[start : i+1])
			start = i + 1
		}
	}
	if start < len(b.rows) {
		flush(b.rows[start:])
	}

	m.tagValues = make(map[string][]string, len(tagSets))
	for col, set := range tagSets {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		m.tagValues[col] = vals
	}

	b.rows = nil
	return m, nil
}
