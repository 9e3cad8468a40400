// Package retention runs the background TTL sweep: segments whose newest
// row is already past their table's TTL cutoff are dropped from the store
// and tag index. This only reclaims space early; the scanner's read-time
// cutoff is what guarantees expired rows never appear in results.
package retention

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/tagindex"
)

// SweeperConfig holds configuration for the retention sweeper.
type SweeperConfig struct {
	Catalog  *schema.Catalog
	Store    *segment.Store
	Index    *tagindex.Index
	Schedule string // Cron schedule (default: "0 * * * *" = hourly)
	Logger   zerolog.Logger
}

// Sweeper drops fully expired segments on a cron schedule.
type Sweeper struct {
	catalog  *schema.Catalog
	store    *segment.Store
	index    *tagindex.Index
	schedule string
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewSweeper creates a retention sweeper.
func NewSweeper(cfg *SweeperConfig) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 * * * *"
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	s := &Sweeper{
		catalog:  cfg.Catalog,
		store:    cfg.Store,
		index:    cfg.Index,
		schedule: schedule,
		logger:   cfg.Logger.With().Str("component", "retention-sweeper").Logger(),
		now:      time.Now,
	}

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Retention sweeper initialized")
	return s, nil
}

// Start begins the scheduled sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Retention sweeper already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce() }); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Msg("Retention sweeper started")
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Retention sweeper stopped")
}

// RunOnce sweeps every table with a TTL once, returning the number of
// segments dropped.
func (s *Sweeper) RunOnce() int {
	start := s.now()
	dropped := 0

	for _, table := range s.catalog.Tables() {
		ts, err := s.catalog.Lookup(table)
		if err != nil {
			// Table dropped between listing and lookup.
			continue
		}
		if ts.TTL <= 0 {
			continue
		}
		cutoff := start.Add(-ts.TTL).UnixNano()
		ids := s.store.DropExpired(table, cutoff)
		for _, id := range ids {
			s.index.RemoveSegment(table, id)
		}
		dropped += len(ids)
	}

	if dropped > 0 {
		s.logger.Info().
			Int("segments", dropped).
			Dur("duration", time.Since(start)).
			Msg("Retention sweep completed")
	}
	return dropped
}
