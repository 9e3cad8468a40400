package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for Stratum
type Config struct {
	Log        LogConfig
	Query      QueryConfig
	Segment    SegmentConfig
	Compaction CompactionConfig
	Retention  RetentionConfig
	Shutdown   ShutdownConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type QueryConfig struct {
	MaxConcurrentSegmentOpens int // Parallel segment fetches per query
	HistorySize               int // Finished-query ring buffer capacity
}

type SegmentConfig struct {
	BlockRows int // Rows per compressed block in sealed segments
}

type CompactionConfig struct {
	Enabled          bool   // Enable background segment compaction
	Schedule         string // Cron schedule for compaction runs
	MinSegments      int    // Smallest run of small segments worth merging
	SmallSegmentRows int    // Row count below which a segment counts as small
}

type RetentionConfig struct {
	Enabled  bool   // Enable the background TTL sweep (read-time filtering always applies)
	Schedule string // Cron schedule for the sweep (default: hourly)
}

type ShutdownConfig struct {
	TimeoutSeconds int // Grace period for component shutdown
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("STRATUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("stratum")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/stratum/")
	v.AddConfigPath("$HOME/.stratum/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Query: QueryConfig{
			MaxConcurrentSegmentOpens: v.GetInt("query.max_concurrent_segment_opens"),
			HistorySize:               v.GetInt("query.history_size"),
		},
		Segment: SegmentConfig{
			BlockRows: v.GetInt("segment.block_rows"),
		},
		Compaction: CompactionConfig{
			Enabled:          v.GetBool("compaction.enabled"),
			Schedule:         v.GetString("compaction.schedule"),
			MinSegments:      v.GetInt("compaction.min_segments"),
			SmallSegmentRows: v.GetInt("compaction.small_segment_rows"),
		},
		Retention: RetentionConfig{
			Enabled:  v.GetBool("retention.enabled"),
			Schedule: v.GetString("retention.schedule"),
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds: v.GetInt("shutdown.timeout_seconds"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Query.MaxConcurrentSegmentOpens < 0 {
		return fmt.Errorf("query.max_concurrent_segment_opens must not be negative")
	}
	if c.Segment.BlockRows < 1 {
		return fmt.Errorf("segment.block_rows must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Query defaults
	v.SetDefault("query.max_concurrent_segment_opens", 4)
	v.SetDefault("query.history_size", 100)

	// Segment defaults
	v.SetDefault("segment.block_rows", 512)

	// Compaction defaults
	v.SetDefault("compaction.enabled", false)
	v.SetDefault("compaction.schedule", "30 * * * *")
	v.SetDefault("compaction.min_segments", 4)
	v.SetDefault("compaction.small_segment_rows", 4096)

	// Retention defaults - the sweep only reclaims space, correctness
	// comes from read-time TTL filtering
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.schedule", "0 * * * *")

	// Shutdown defaults
	v.SetDefault("shutdown.timeout_seconds", 30)
}
