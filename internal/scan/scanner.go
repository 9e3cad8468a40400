// Package scan iterates time-ordered segments for one query. Segment
// iterators are opened in parallel under a concurrency bound and composed
// into a single row sequence: concatenated when the query does not care
// about global order, merged by TIME when it does.
package scan

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Config tunes the scanner.
type Config struct {
	// MaxConcurrentOpens limits how many segment scans are opened in
	// parallel. Zero means open sequentially.
	MaxConcurrentOpens int
}

// Scanner opens and composes segment scans.
type Scanner struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a scanner.
func New(cfg Config, logger zerolog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		logger: logger.With().Str("component", "scanner").Logger(),
	}
}

// ClampTTL narrows a time range by a table's TTL cutoff at query time:
// rows older than now−ttl are excluded as if deleted. A zero TTL never
// expires anything.
func ClampTTL(tr segment.TimeRange, ttl time.Duration, now time.Time) segment.TimeRange {
	if ttl <= 0 {
		return tr
	}
	cutoff := now.Add(-ttl).UnixNano()
	if cutoff > tr.Min {
		tr.Min = cutoff
	}
	return tr
}

// Scan opens iterators over the given segments restricted to tr and
// returns one composed iterator. With ordered=true rows come out in global
// TIME order (merge across segments); otherwise segments stream one after
// another, which avoids the merge heap.
//
// Any segment that fails to open aborts the whole scan; unreadable
// segments are never skipped.
func (s *Scanner) Scan(ctx context.Context, segments []segment.Handle, tr segment.TimeRange, ordered bool) (segment.RowIterator, error) {
	if !tr.Valid() || len(segments) == 0 {
		return Empty(), nil
	}

	start := time.Now()
	iters := make([]segment.RowIterator, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MaxConcurrentOpens > 0 {
		g.SetLimit(s.cfg.MaxConcurrentOpens)
	} else {
		g.SetLimit(1)
	}
	for i, h := range segments {
		i, h := i, h
		g.Go(func() error {
			// gctx is only good for the open phase (Wait cancels it); the
			// iterators must outlive it and watch the caller's ctx instead.
			if err := gctx.Err(); err != nil {
				return err
			}
			it, err := h.Scan(ctx, tr)
			if err != nil {
				return err
			}
			iters[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, it := range iters {
			if it != nil {
				it.Close()
			}
		}
		return nil, err
	}

	s.logger.Debug().
		Int("segments", len(segments)).
		Bool("ordered", ordered).
		Dur("open_duration", time.Since(start)).
		Msg("Segment scans opened")

	if ordered {
		return newMerge(ctx, iters), nil
	}
	return newConcat(ctx, iters), nil
}

// Empty returns an iterator yielding no rows.
func Empty() segment.RowIterator { return emptyIterator{} }

type emptyIterator struct{}

func (emptyIterator) Next() bool       { return false }
func (emptyIterator) Row() *models.Row { return nil }
func (emptyIterator) Err() error       { return nil }
func (emptyIterator) Close() error     { return nil }
