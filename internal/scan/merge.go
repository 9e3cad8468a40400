package scan

import (
	"container/heap"
	"context"

	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/pkg/models"
)

// concatIterator streams segment iterators back to back. Relative order
// across segments is unspecified; rows within a segment stay in TIME order.
type concatIterator struct {
	ctx    context.Context
	iters  []segment.RowIterator
	cur    int
	err    error
	closed bool
}

func newConcat(ctx context.Context, iters []segment.RowIterator) segment.RowIterator {
	return &concatIterator{ctx: ctx, iters: iters}
}

func (c *concatIterator) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	for c.cur < len(c.iters) {
		it := c.iters[c.cur]
		if it.Next() {
			return true
		}
		if err := it.Err(); err != nil {
			c.err = err
			return false
		}
		c.cur++
	}
	return false
}

func (c *concatIterator) Row() *models.Row {
	if c.cur >= len(c.iters) {
		return nil
	}
	return c.iters[c.cur].Row()
}

func (c *concatIterator) Err() error { return c.err }

func (c *concatIterator) Close() error {
	c.closed = true
	var firstErr error
	for _, it := range c.iters {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mergeEntry is one source in the merge heap. idx breaks timestamp ties so
// the merge stays deterministic across runs.
type mergeEntry struct {
	it  segment.RowIterator
	row *models.Row
	idx int
}

type mergeHeap []*mergeEntry

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].row.Time != h[j].row.Time {
		return h[i].row.Time < h[j].row.Time
	}
	return h[i].idx < h[j].idx
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeEntry)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// mergeIterator yields rows from all segment iterators in global TIME
// order via an n-way heap merge.
type mergeIterator struct {
	ctx     context.Context
	sources []segment.RowIterator
	h       mergeHeap
	cur     *models.Row
	err     error
	primed  bool
	closed  bool
}

func newMerge(ctx context.Context, iters []segment.RowIterator) segment.RowIterator {
	return &mergeIterator{ctx: ctx, sources: iters}
}

func (m *mergeIterator) prime() bool {
	m.h = make(mergeHeap, 0, len(m.sources))
	for i, it := range m.sources {
		if it.Next() {
			r := *it.Row()
			m.h = append(m.h, &mergeEntry{it: it, row: &r, idx: i})
		} else if err := it.Err(); err != nil {
			m.err = err
			return false
		}
	}
	heap.Init(&m.h)
	return true
}

func (m *mergeIterator) Next() bool {
	if m.err != nil || m.closed {
		return false
	}
	if err := m.ctx.Err(); err != nil {
		m.err = err
		return false
	}
	if !m.primed {
		m.primed = true
		if !m.prime() {
			return false
		}
	}
	if len(m.h) == 0 {
		return false
	}
	e := m.h[0]
	m.cur = e.row
	if e.it.Next() {
		r := *e.it.Row()
		e.row = &r
		heap.Fix(&m.h, 0)
	} else {
		if err := e.it.Err(); err != nil {
			m.err = err
			return false
		}
		heap.Pop(&m.h)
	}
	return true
}

func (m *mergeIterator) Row() *models.Row { return m.cur }
func (m *mergeIterator) Err() error       { return m.err }

func (m *mergeIterator) Close() error {
	m.closed = true
	var firstErr error
	for _, it := range m.sources {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
