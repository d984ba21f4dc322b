package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path == "" {
		t.Error("default database path missing")
	}
	if cfg.Database.RetentionDays != 7 {
		t.Errorf("retention days = %d", cfg.Database.RetentionDays)
	}
	if cfg.Heatmap.CoalesceKind != "average" {
		t.Errorf("coalesce kind = %q", cfg.Heatmap.CoalesceKind)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadYAMLAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  path: /tmp/test.db
  retention_days: 3
streams:
  tickers:
    - "BinanceLinear:BTCUSDT"
  timeframe: 5m
heatmap:
  coalesce_kind: max
  coalesce_threshold: 0.2
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/test.db" || cfg.Database.RetentionDays != 3 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if len(cfg.Streams.Tickers) != 1 || cfg.Streams.Timeframe != "5m" {
		t.Errorf("streams = %+v", cfg.Streams)
	}
	if cfg.Heatmap.CoalesceKind != "max" {
		t.Errorf("heatmap = %+v", cfg.Heatmap)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	cfg.Heatmap.CoalesceKind = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid coalesce kind must fail validation")
	}
}

func TestEnvToggleOverrides(t *testing.T) {
	t.Setenv("MKTF_PERSIST_DISABLED", "1")
	t.Setenv("MKTF_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Database.Disabled {
		t.Error("MKTF_PERSIST_DISABLED should disable persistence")
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("path override lost: %q", cfg.Database.Path)
	}
}
