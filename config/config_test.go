package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Warehouse.BucketMinutes != 5 {
		t.Fatalf("expected default bucket_minutes 5, got %d", cfg.Warehouse.BucketMinutes)
	}
	if cfg.Metrics.ZeroPolicy != "filter" {
		t.Fatalf("expected default zero_policy filter, got %q", cfg.Metrics.ZeroPolicy)
	}
	if cfg.Metrics.GEHThreshold != 5 {
		t.Fatalf("expected default GEH threshold 5, got %v", cfg.Metrics.GEHThreshold)
	}
}

func TestLoadOverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
warehouse:
  db_path: data/warehouse.db
  bucket_minutes: 15
metrics:
  zero_policy: epsilon
  epsilon: 0.5
routes:
  mapping_file: routes.yaml
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Warehouse.BucketMinutes != 15 {
		t.Fatalf("expected bucket_minutes 15, got %d", cfg.Warehouse.BucketMinutes)
	}
	if cfg.BucketWidth() != 15*time.Minute {
		t.Fatalf("unexpected width %s", cfg.BucketWidth())
	}
	if cfg.Metrics.ZeroPolicy != "epsilon" || cfg.Metrics.Epsilon != 0.5 {
		t.Fatalf("unexpected metrics config %+v", cfg.Metrics)
	}
	// Defaults survive partial files.
	if cfg.Report.TopOffenders != 10 {
		t.Fatalf("expected default top_offenders 10, got %d", cfg.Report.TopOffenders)
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("metrics:\n  zero_policy: clamp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown zero_policy")
	}
}

func TestExpandDate(t *testing.T) {
	dt := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	got := ExpandDate("dwd_flow_gantry_{DATE_COMPACT}", dt)
	if got != "dwd_flow_gantry_20250310" {
		t.Fatalf("ExpandDate = %q", got)
	}
}
