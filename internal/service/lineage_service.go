// Package service provides business logic for the lineage server.
package service

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/celltrace/server/internal/cache"
	"github.com/celltrace/server/internal/lineage"
	"github.com/celltrace/server/internal/render"
	"github.com/celltrace/server/internal/samplestore"
)

// LineageServiceConfig contains lineage service configuration.
type LineageServiceConfig struct {
	Chain         lineage.Chain
	Maps          lineage.MapSource
	CellSets      *lineage.CellSetMatrix
	Measurements  *lineage.Dataset
	GeneSetScores *lineage.Dataset
	Samples       *samplestore.Store
	Results       *cache.ResultCache
	Renderer      *render.PlotRenderer
	Seed          int64
	Logger        *slog.Logger
}

// LineageService computes and serves ancestor/descendant traces.
type LineageService struct {
	chain         lineage.Chain
	maps          lineage.MapSource
	cellSets      *lineage.CellSetMatrix
	measurements  *lineage.Dataset
	geneSetScores *lineage.Dataset
	samples       *samplestore.Store
	results       *cache.ResultCache
	renderer      *render.PlotRenderer
	seed          int64
	logger        *slog.Logger
}

// NewLineageService creates a new lineage service.
func NewLineageService(cfg LineageServiceConfig) *LineageService {
	return &LineageService{
		chain:         cfg.Chain,
		maps:          cfg.Maps,
		cellSets:      cfg.CellSets,
		measurements:  cfg.Measurements,
		geneSetScores: cfg.GeneSetScores,
		samples:       cfg.Samples,
		results:       cfg.Results,
		renderer:      cfg.Renderer,
		seed:          cfg.Seed,
		logger:        cfg.Logger,
	}
}

// Timepoints returns every timepoint covered by the chain.
func (s *LineageService) Timepoints() []float64 {
	return s.chain.Timepoints()
}

// Chain returns the chain description.
func (s *LineageService) Chain() lineage.Chain {
	return s.chain
}

// CellSetNames returns the configured cell set names.
func (s *LineageService) CellSetNames() []string {
	return s.cellSets.Names
}

// Trace runs the propagation engine from the anchor timepoint. Results are
// not cached at this level; JSON and PNG callers go through the result
// cache below.
func (s *LineageService) Trace(anchor float64, replay bool) (*lineage.Result, error) {
	cfg := lineage.Config{
		Chain:         s.chain,
		Maps:          s.maps,
		CellSets:      s.cellSets,
		Measurements:  s.measurements,
		GeneSetScores: s.geneSetScores,
		Replay:        replay,
		Seed:          s.seed,
		Logger:        s.logger,
	}
	if s.samples != nil {
		cfg.Samples = s.samples.ForAnchor(anchor)
	}
	return lineage.Compute(cfg, anchor)
}

// TraceJSON returns the serialized result for an anchor, cached.
func (s *LineageService) TraceJSON(anchor float64, replay bool) ([]byte, error) {
	key := cache.ResultKey(anchor, replay, "json")
	if s.results != nil {
		if data, ok := s.results.Get(key); ok {
			return data, nil
		}
	}

	result, err := s.Trace(anchor, replay)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	if s.results != nil {
		_ = s.results.Set(key, data)
	}
	return data, nil
}

// PlotPNG renders the traces for an anchor as a PNG, cached.
func (s *LineageService) PlotPNG(anchor float64, replay bool) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("renderer not configured")
	}

	key := cache.ResultKey(anchor, replay, "png")
	if s.results != nil {
		if data, ok := s.results.Get(key); ok {
			return data, nil
		}
	}

	result, err := s.Trace(anchor, replay)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.RenderTraces(result.Traces)
	if err != nil {
		return nil, fmt.Errorf("failed to render traces: %w", err)
	}

	if s.results != nil {
		_ = s.results.Set(key, data)
	}
	return data, nil
}
