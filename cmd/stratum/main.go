package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/stratumdb/stratum/internal/compaction"
	"github.com/stratumdb/stratum/internal/config"
	"github.com/stratumdb/stratum/internal/executor"
	"github.com/stratumdb/stratum/internal/logger"
	"github.com/stratumdb/stratum/internal/retention"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/internal/segment"
	"github.com/stratumdb/stratum/internal/shutdown"
	"github.com/stratumdb/stratum/internal/tagindex"
)

// Version is set at build time
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting Stratum...")

	catalog := schema.NewCatalog(logger.Get("catalog"))
	store := segment.NewStore(logger.Get("store"))
	index := tagindex.New(logger.Get("index"))

	exec := executor.New(&executor.Config{
		MaxConcurrentSegmentOpens: cfg.Query.MaxConcurrentSegmentOpens,
		HistorySize:               cfg.Query.HistorySize,
	}, catalog, store, index, logger.Get("executor"))
	_ = exec // the engine is consumed as a library; main only supervises it

	coordinator := shutdown.New(
		time.Duration(cfg.Shutdown.TimeoutSeconds)*time.Second,
		logger.Get("shutdown"),
	)

	if cfg.Compaction.Enabled {
		var segmentSeq atomic.Uint32
		compactor := compaction.New(&compaction.Config{
			Catalog:          catalog,
			Store:            store,
			Index:            index,
			NextID:           func() uint32 { return segmentSeq.Add(1) },
			MinSegments:      cfg.Compaction.MinSegments,
			SmallSegmentRows: cfg.Compaction.SmallSegmentRows,
			Logger:           logger.Get("compaction"),
		})
		schedule := cron.New()
		if _, err := schedule.AddFunc(cfg.Compaction.Schedule, func() {
			if _, err := compactor.RunOnce(context.Background()); err != nil {
				log.Error().Err(err).Msg("Compaction run failed")
			}
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule compaction")
		}
		schedule.Start()
		coordinator.Register("compactor", 20, func(context.Context) error {
			<-schedule.Stop().Done()
			return nil
		})
	}

	if cfg.Retention.Enabled {
		sweeper, err := retention.NewSweeper(&retention.SweeperConfig{
			Catalog:  catalog,
			Store:    store,
			Index:    index,
			Schedule: cfg.Retention.Schedule,
			Logger:   logger.Get("retention"),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize retention sweeper")
		}
		if err := sweeper.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start retention sweeper")
		}
		coordinator.Register("retention-sweeper", 10, func(context.Context) error {
			sweeper.Stop()
			return nil
		})
	}

	log.Info().Msg("Stratum ready")
	coordinator.WaitForSignal()

	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		os.Exit(1)
	}
}
