// Package main is the entry point for the CellTrace lineage server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celltrace/server/internal/api"
	"github.com/celltrace/server/internal/cache"
	"github.com/celltrace/server/internal/config"
	"github.com/celltrace/server/internal/data/sets"
	"github.com/celltrace/server/internal/data/tmap"
	"github.com/celltrace/server/internal/lineage"
	"github.com/celltrace/server/internal/render"
	"github.com/celltrace/server/internal/samplestore"
	"github.com/celltrace/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting CellTrace server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Discover the transport map chain
	entries, err := tmap.DiscoverChain(cfg.Data.TmapDir)
	if err != nil {
		log.Fatalf("Failed to discover transport maps in %s: %v", cfg.Data.TmapDir, err)
	}
	chain := tmap.Chain(entries)
	log.Printf("Transport map chain: %d maps, timepoints %v", len(chain), chain.Timepoints())

	// Transport map cache over the on-disk entries
	mapCache, err := cache.NewChainCache(cfg.Cache.MapCacheSize, func(index int) (*lineage.TransportMap, error) {
		return tmap.Load(entries[index])
	})
	if err != nil {
		log.Fatalf("Failed to initialize map cache: %v", err)
	}

	// Load cell sets
	cellSets, err := sets.ReadCellSets(cfg.Data.CellSets)
	if err != nil {
		log.Fatalf("Failed to read cell sets from %s: %v", cfg.Data.CellSets, err)
	}
	log.Printf("Loaded %d cell set(s) over %d cells", len(cellSets.Names), len(cellSets.IDs))

	// Load auxiliary per-cell tables
	var measurements *lineage.Dataset
	if cfg.Data.Matrix != "" {
		if len(cfg.Data.Genes) > 0 {
			measurements, err = sets.ReadTableColumns(cfg.Data.Matrix, cfg.Data.Genes)
		} else {
			measurements, err = sets.ReadTable(cfg.Data.Matrix)
		}
		if err != nil {
			log.Fatalf("Failed to read measurement matrix from %s: %v", cfg.Data.Matrix, err)
		}
		log.Printf("Measurement matrix: %d cells, %d columns", len(measurements.IDs), len(measurements.Columns))
	}

	var geneSetScores *lineage.Dataset
	if cfg.Data.GeneSetScores != "" {
		geneSetScores, err = sets.ReadTable(cfg.Data.GeneSetScores)
		if err != nil {
			log.Fatalf("Failed to read gene set scores from %s: %v", cfg.Data.GeneSetScores, err)
		}
		log.Printf("Gene set scores: %d cells, %d columns", len(geneSetScores.IDs), len(geneSetScores.Columns))
	}

	// Result cache for serialized responses
	resultCache, err := cache.NewResultCache(cache.Config{
		ResultCacheSizeMB: cfg.Cache.ResultSizeMB,
		ResultTTL:         time.Duration(cfg.Cache.ResultTTLMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to initialize result cache: %v", err)
	}
	defer resultCache.Close()

	// SQLite store for jobs and recorded samples
	store, err := samplestore.NewStore(cfg.Sampling.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open sample store at %s: %v", cfg.Sampling.SQLitePath, err)
	}
	defer store.Close()

	plotRenderer := render.NewPlotRenderer(render.Config{
		Width:  cfg.Render.PlotWidth,
		Height: cfg.Render.PlotHeight,
	})

	lineageService := service.NewLineageService(service.LineageServiceConfig{
		Chain:         chain,
		Maps:          mapCache,
		CellSets:      cellSets,
		Measurements:  measurements,
		GeneSetScores: geneSetScores,
		Samples:       store,
		Results:       resultCache,
		Renderer:      plotRenderer,
		Seed:          cfg.Sampling.Seed,
		Logger:        slog.Default(),
	})

	// Job manager for asynchronous lineage computations
	jobManager := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	}, store)
	jobManager.Executor = func(ctx context.Context, params samplestore.JobParams) ([]byte, error) {
		return lineageService.TraceJSON(params.Anchor, params.Replay)
	}
	log.Printf("Job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Jobs.MaxConcurrent, cfg.Jobs.RetentionDays, cfg.Sampling.SQLitePath)

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     lineageService,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
