package querytrack

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRegistry(histSize int) *Registry {
	return NewRegistry(&Config{HistorySize: histSize}, zerolog.Nop())
}

func TestRegisterAndComplete(t *testing.T) {
	r := newTestRegistry(10)

	id, ctx := r.Register(context.Background(), "m2")
	if len(id) != 12 {
		t.Fatalf("query id %q, want 12 chars", id)
	}
	if ctx.Err() != nil {
		t.Fatal("fresh query context already cancelled")
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("active = %d", r.ActiveCount())
	}

	r.SetState(id, StateScanning)
	r.SetSegmentCount(id, 3)
	active := r.Active()
	if len(active) != 1 || active[0].State != StateScanning || active[0].SegmentCount != 3 {
		t.Fatalf("active snapshot = %+v", active[0])
	}

	r.Complete(id, 42)
	if r.ActiveCount() != 0 {
		t.Fatal("query still active after Complete")
	}

	hist := r.History(0)
	if len(hist) != 1 {
		t.Fatalf("history = %d entries", len(hist))
	}
	q := hist[0]
	if q.State != StateDone || q.RowCount != 42 || q.EndTime == nil {
		t.Fatalf("history entry = %+v", q)
	}
}

func TestFailRecordsError(t *testing.T) {
	r := newTestRegistry(10)
	id, _ := r.Register(context.Background(), "m2")

	r.Fail(id, "storage unavailable")

	hist := r.History(1)
	if len(hist) != 1 {
		t.Fatalf("history = %d entries", len(hist))
	}
	if hist[0].State != StateError || hist[0].Error != "storage unavailable" {
		t.Fatalf("history entry = %+v", hist[0])
	}
}

func TestCancelAbortsContext(t *testing.T) {
	r := newTestRegistry(10)
	id, ctx := r.Register(context.Background(), "m2")

	if !r.Cancel(id) {
		t.Fatal("Cancel returned false for an active query")
	}
	if ctx.Err() != context.Canceled {
		t.Fatalf("ctx.Err() = %v", ctx.Err())
	}
	if r.ActiveCount() != 0 {
		t.Fatal("query still active after Cancel")
	}
	if r.History(1)[0].State != StateCancelled {
		t.Fatalf("state = %s", r.History(1)[0].State)
	}

	if r.Cancel(id) {
		t.Fatal("Cancel of a finished query returned true")
	}
	if r.Cancel("nope") {
		t.Fatal("Cancel of an unknown query returned true")
	}
}

func TestFinishReleasesQueryContext(t *testing.T) {
	r := newTestRegistry(10)

	id, ctx := r.Register(context.Background(), "m2")
	r.Complete(id, 1)
	if ctx.Err() != context.Canceled {
		t.Fatalf("ctx.Err() = %v after Complete, want context.Canceled", ctx.Err())
	}

	id, ctx = r.Register(context.Background(), "m2")
	r.Fail(id, "boom")
	if ctx.Err() != context.Canceled {
		t.Fatalf("ctx.Err() = %v after Fail, want context.Canceled", ctx.Err())
	}
}

func TestHistoryRingNewestFirst(t *testing.T) {
	r := newTestRegistry(3)

	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := r.Register(context.Background(), fmt.Sprintf("table%d", i))
		r.Complete(id, i)
		ids = append(ids, id)
	}

	hist := r.History(0)
	if len(hist) != 3 {
		t.Fatalf("history = %d entries, want ring size 3", len(hist))
	}
	// Newest first: queries 4, 3, 2; the first two were evicted.
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if hist[i].ID != want {
			t.Fatalf("history[%d] = %s, want %s", i, hist[i].ID, want)
		}
	}

	if got := r.History(2); len(got) != 2 || got[0].ID != ids[4] {
		t.Fatalf("limited history = %d entries", len(got))
	}
}

func TestFinishUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(2)
	r.Complete("missing", 1)
	r.Fail("missing", "x")
	if len(r.History(0)) != 0 {
		t.Fatal("history polluted by unknown query")
	}
}
