package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Query.MaxConcurrentSegmentOpens != 4 {
		t.Errorf("max_concurrent_segment_opens = %d", cfg.Query.MaxConcurrentSegmentOpens)
	}
	if cfg.Query.HistorySize != 100 {
		t.Errorf("history_size = %d", cfg.Query.HistorySize)
	}
	if cfg.Segment.BlockRows != 512 {
		t.Errorf("block_rows = %d", cfg.Segment.BlockRows)
	}
	if cfg.Retention.Enabled {
		t.Error("retention enabled by default")
	}
	if cfg.Retention.Schedule != "0 * * * *" {
		t.Errorf("retention schedule = %q", cfg.Retention.Schedule)
	}
	if cfg.Shutdown.TimeoutSeconds != 30 {
		t.Errorf("shutdown timeout = %d", cfg.Shutdown.TimeoutSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STRATUM_LOG_LEVEL", "debug")
	t.Setenv("STRATUM_QUERY_HISTORY_SIZE", "25")
	t.Setenv("STRATUM_RETENTION_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Query.HistorySize != 25 {
		t.Errorf("history_size = %d", cfg.Query.HistorySize)
	}
	if !cfg.Retention.Enabled {
		t.Error("retention not enabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("STRATUM_SEGMENT_BLOCK_ROWS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for block_rows = 0")
	}
}
