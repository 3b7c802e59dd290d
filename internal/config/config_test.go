package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FullConfig(t *testing.T) {
	content := `
server:
  port: 9000
  cors_origins:
    - "https://example.org"
data:
  tmap_dir: "/data/tmaps"
  cell_sets: "/data/sets.gmt"
  matrix: "/data/matrix.txt"
  gene_set_scores: "/data/scores.txt"
  genes:
    - gene1
    - gene2
cache:
  map_cache_size: 4
sampling:
  sqlite_path: "/data/lineage.db"
  seed: 42
jobs:
  max_concurrent: 2
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://example.org" {
		t.Errorf("unexpected cors_origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Data.TmapDir != "/data/tmaps" {
		t.Errorf("unexpected tmap_dir: %s", cfg.Data.TmapDir)
	}
	if cfg.Data.CellSets != "/data/sets.gmt" {
		t.Errorf("unexpected cell_sets: %s", cfg.Data.CellSets)
	}
	if cfg.Data.GeneSetScores != "/data/scores.txt" {
		t.Errorf("unexpected gene_set_scores: %s", cfg.Data.GeneSetScores)
	}
	if len(cfg.Data.Genes) != 2 || cfg.Data.Genes[0] != "gene1" {
		t.Errorf("unexpected genes: %v", cfg.Data.Genes)
	}
	if cfg.Cache.MapCacheSize != 4 {
		t.Errorf("expected map cache size 4, got %d", cfg.Cache.MapCacheSize)
	}
	if cfg.Sampling.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Sampling.Seed)
	}
	if cfg.Jobs.MaxConcurrent != 2 {
		t.Errorf("expected max_concurrent 2, got %d", cfg.Jobs.MaxConcurrent)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  tmap_dir: "/test/tmaps"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.ResultSizeMB != 256 {
		t.Errorf("expected default result cache size 256, got %d", cfg.Cache.ResultSizeMB)
	}
	if cfg.Cache.ResultTTLMinutes != 10 {
		t.Errorf("expected default result TTL 10, got %d", cfg.Cache.ResultTTLMinutes)
	}
	if cfg.Render.PlotWidth != 800 || cfg.Render.PlotHeight != 400 {
		t.Errorf("unexpected plot size %dx%d", cfg.Render.PlotWidth, cfg.Render.PlotHeight)
	}
	if cfg.Jobs.MaxConcurrent != 1 {
		t.Errorf("expected default max_concurrent 1, got %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Data.TmapDir != "/test/tmaps" {
		t.Errorf("unexpected tmap_dir: %s", cfg.Data.TmapDir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Sampling.SQLitePath == "" {
		t.Error("expected default sqlite path")
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
