package segment

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/rs/zerolog"
)

// segRef orders segments by (minTime, id) inside the store's interval tree.
type segRef struct {
	min int64
	id  uint32
	h   Handle
}

func lessSegRef(a, b segRef) bool {
	if a.min != b.min {
		return a.min < b.min
	}
	return a.id < b.id
}

// tableSegments is one immutable snapshot of a table's segment set. The
// B-tree is shared between snapshots via copy-on-write clones.
type tableSegments struct {
	list []Handle
	tree *btree.BTreeG[segRef]
}

// Store tracks which segments exist per table. Reads are lock-free against
// an atomically published snapshot, so a query pins a consistent segment
// list at start and never sees a partially registered segment. Mutations
// (the external write path sealing segments, and the retention sweep)
// serialize on a mutex and publish copy-on-write.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[map[string]*tableSegments]
	logger  zerolog.Logger
}

// NewStore creates an empty segment store.
func NewStore(logger zerolog.Logger) *Store {
	s := &Store{
		logger: logger.With().Str("component", "segment-store").Logger(),
	}
	empty := map[string]*tableSegments{}
	s.current.Store(&empty)
	return s
}

// Snapshot returns the table's current segment list. The returned slice is
// immutable and remains consistent for the whole query.
func (s *Store) Snapshot(table string) []Handle {
	m := *s.current.Load()
	ts, ok := m[table]
	if !ok {
		return nil
	}
	return ts.list
}

// Overlapping returns the table's segments whose time bounds intersect tr,
// from the same consistent snapshot Snapshot would return.
func (s *Store) Overlapping(table string, tr TimeRange) []Handle {
	m := *s.current.Load()
	ts, ok := m[table]
	if !ok || !tr.Valid() {
		return nil
	}
	var out []Handle
	ts.tree.Ascend(func(ref segRef) bool {
		if ref.min > tr.Max {
			return false
		}
		if ref.h.Bounds().Max >= tr.Min {
			out = append(out, ref.h)
		}
		return true
	})
	return out
}

// SegmentCount returns the number of segments registered for a table.
func (s *Store) SegmentCount(table string) int {
	return len(s.Snapshot(table))
}

// Add registers a sealed segment for a table.
func (s *Store) Add(table string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish(table, func(ts *tableSegments) {
		ts.list = append(ts.list, h)
		ts.tree.ReplaceOrInsert(segRef{min: h.Bounds().Min, id: h.ID(), h: h})
	})

	b := h.Bounds()
	s.logger.Debug().
		Str("table", table).
		Uint32("segment_id", h.ID()).
		Int("rows", h.Len()).
		Int64("min_time", b.Min).
		Int64("max_time", b.Max).
		Msg("Segment registered")
}

// Replace atomically swaps a compacted run: merged is registered and every
// segment in removeIDs dropped inside one published snapshot. A concurrent
// reader pins either the input run or the merged segment, never a mix of
// both.
func (s *Store) Replace(table string, merged Handle, removeIDs []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[uint32]bool, len(removeIDs))
	for _, id := range removeIDs {
		drop[id] = true
	}
	s.publish(table, func(ts *tableSegments) {
		kept := ts.list[:0:0]
		for _, h := range ts.list {
			if drop[h.ID()] {
				ts.tree.Delete(segRef{min: h.Bounds().Min, id: h.ID()})
				continue
			}
			kept = append(kept, h)
		}
		ts.list = append(kept, merged)
		ts.tree.ReplaceOrInsert(segRef{min: merged.Bounds().Min, id: merged.ID(), h: merged})
	})

	s.logger.Debug().
		Str("table", table).
		Uint32("segment_id", merged.ID()).
		Int("retired", len(removeIDs)).
		Msg("Segment run replaced")
}

// Remove drops a segment by ID. Removing an unknown segment is a no-op.
func (s *Store) Remove(table string, id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish(table, func(ts *tableSegments) {
		kept := ts.list[:0:0]
		for _, h := range ts.list {
			if h.ID() == id {
				ts.tree.Delete(segRef{min: h.Bounds().Min, id: id})
				continue
			}
			kept = append(kept, h)
		}
		ts.list = kept
	})
}

// DropExpired removes every segment of the table whose newest row is older
// than cutoff, returning the dropped IDs. Used by the retention sweep;
// read-time TTL filtering stays authoritative regardless.
func (s *Store) DropExpired(table string, cutoff int64) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []uint32
	s.publish(table, func(ts *tableSegments) {
		kept := ts.list[:0:0]
		for _, h := range ts.list {
			if h.Bounds().Max < cutoff {
				ts.tree.Delete(segRef{min: h.Bounds().Min, id: h.ID()})
				dropped = append(dropped, h.ID())
				continue
			}
			kept = append(kept, h)
		}
		ts.list = kept
	})

	if len(dropped) > 0 {
		s.logger.Info().
			Str("table", table).
			Int("segments", len(dropped)).
			Int64("cutoff", cutoff).
			Msg("Expired segments dropped")
	}
	return dropped
}

// DropTable removes all segments for a table.
func (s *Store) DropTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.current.Load()
	if _, ok := old[table]; !ok {
		return
	}
	next := make(map[string]*tableSegments, len(old))
	for k, v := range old {
		if k != table {
			next[k] = v
		}
	}
	s.current.Store(&next)
}

// publish clones the table entry, applies mutate and stores a new snapshot.
// Must be called with mu held.
func (s *Store) publish(table string, mutate func(*tableSegments)) {
	old := *s.current.Load()
	next := make(map[string]*tableSegments, len(old)+1)
	for k, v := range old {
		next[k] = v
	}

	var ts tableSegments
	if prev, ok := old[table]; ok {
		ts.list = append([]Handle(nil), prev.list...)
		ts.tree = prev.tree.Clone()
	} else {
		ts.tree = btree.NewG(8, lessSegRef)
	}
	mutate(&ts)
	next[table] = &ts
	s.current.Store(&next)
}
