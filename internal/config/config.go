// Package config handles configuration loading for the lineage server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
	Sampling SamplingConfig `yaml:"sampling"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	TmapDir       string   `yaml:"tmap_dir"`        // directory of transport map entries
	CellSets      string   `yaml:"cell_sets"`       // GMT or GMX cell set file
	Matrix        string   `yaml:"matrix"`          // per-cell measurement table
	GeneSetScores string   `yaml:"gene_set_scores"` // per-cell gene set score table
	Genes         []string `yaml:"genes"`           // measurement columns to trace; empty means all
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	MapCacheSize     int `yaml:"map_cache_size"`
	ResultSizeMB     int `yaml:"result_size_mb"`
	ResultTTLMinutes int `yaml:"result_ttl_minutes"`
}

// RenderConfig contains plot rendering settings.
type RenderConfig struct {
	PlotWidth  int `yaml:"plot_width"`
	PlotHeight int `yaml:"plot_height"`
}

// SamplingConfig contains trajectory sampling settings.
type SamplingConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	Seed       int64  `yaml:"seed"`
}

// JobsConfig contains job manager settings.
type JobsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			TmapDir:  "./data/tmaps",
			CellSets: "./data/cell_sets.gmt",
			Matrix:   "./data/matrix.txt",
		},
		Cache: CacheConfig{
			MapCacheSize:     16,
			ResultSizeMB:     256,
			ResultTTLMinutes: 10,
		},
		Render: RenderConfig{
			PlotWidth:  800,
			PlotHeight: 400,
		},
		Sampling: SamplingConfig{
			SQLitePath: "./data/lineage.db",
		},
		Jobs: JobsConfig{
			MaxConcurrent: 1,
			RetentionDays: 7,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.TmapDir == "" {
		cfg.Data.TmapDir = defaults.Data.TmapDir
	}
	if cfg.Cache.MapCacheSize == 0 {
		cfg.Cache.MapCacheSize = defaults.Cache.MapCacheSize
	}
	if cfg.Cache.ResultSizeMB == 0 {
		cfg.Cache.ResultSizeMB = defaults.Cache.ResultSizeMB
	}
	if cfg.Cache.ResultTTLMinutes == 0 {
		cfg.Cache.ResultTTLMinutes = defaults.Cache.ResultTTLMinutes
	}
	if cfg.Render.PlotWidth == 0 {
		cfg.Render.PlotWidth = defaults.Render.PlotWidth
	}
	if cfg.Render.PlotHeight == 0 {
		cfg.Render.PlotHeight = defaults.Render.PlotHeight
	}
	if cfg.Sampling.SQLitePath == "" {
		cfg.Sampling.SQLitePath = defaults.Sampling.SQLitePath
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = defaults.Jobs.MaxConcurrent
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
}
