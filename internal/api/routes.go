// Package api provides HTTP handlers for the lineage server.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/celltrace/server/internal/lineage"
	"github.com/celltrace/server/internal/samplestore"
	"github.com/celltrace/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.LineageService
	CORSOrigins []string
	JobManager  *JobManager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/chain", chainHandler(cfg.Service))
		r.Get("/cellsets", cellSetsHandler(cfg.Service))
		r.Get("/lineage", lineageHandler(cfg.Service))
		r.Get("/lineage/plot.png", lineagePlotHandler(cfg.Service))

		// Asynchronous lineage job endpoints
		r.Route("/lineage/jobs", func(r chi.Router) {
			r.Post("/", jobSubmitHandler(cfg.JobManager))
			r.Get("/{job_id}", jobStatusHandler(cfg.JobManager))
			r.Get("/{job_id}/result", jobResultHandler(cfg.JobManager))
			r.Delete("/{job_id}", jobCancelHandler(cfg.JobManager))
		})
	})

	return r
}

// parseAnchor reads the required "time" query parameter.
func parseAnchor(r *http.Request) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("time"))
	if raw == "" {
		return 0, errors.New("missing required query param: time")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("invalid time: " + raw)
	}
	return v, nil
}

func parseReplay(r *http.Request) bool {
	raw := strings.TrimSpace(r.URL.Query().Get("replay"))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

// writeComputeError maps engine errors to HTTP status codes.
func writeComputeError(w http.ResponseWriter, err error) {
	var tpErr *lineage.TimepointError
	switch {
	case errors.As(err, &tpErr):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lineage.ErrNoCellSets):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// chainHandler returns the transport map chain description.
func chainHandler(svc *service.LineageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"maps":       svc.Chain(),
			"timepoints": svc.Timepoints(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// cellSetsHandler returns the configured cell set names.
func cellSetsHandler(svc *service.LineageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := svc.CellSetNames()
		response := map[string]interface{}{
			"cell_sets": names,
			"total":     len(names),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func lineageHandler(svc *service.LineageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		anchor, err := parseAnchor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		replay := parseReplay(r)

		// Optional cell set filter: repeated ?cell_set= params. Filtered
		// responses bypass the serialized-result cache.
		if filter := r.URL.Query()["cell_set"]; len(filter) > 0 {
			result, err := svc.Trace(anchor, replay)
			if err != nil {
				writeComputeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(filterResult(result, filter))
			return
		}

		data, err := svc.TraceJSON(anchor, replay)
		if err != nil {
			writeComputeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

// filterResult keeps only the traces and distributions of the named cell sets.
func filterResult(result *lineage.Result, names []string) *lineage.Result {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			keep[n] = true
		}
	}

	out := &lineage.Result{}
	for _, tr := range result.Traces {
		if keep[tr.CellSet] {
			out.Traces = append(out.Traces, tr)
		}
	}
	for _, d := range result.Distributions {
		if keep[d.CellSet] {
			out.Distributions = append(out.Distributions, d)
		}
	}
	return out
}

func lineagePlotHandler(svc *service.LineageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		anchor, err := parseAnchor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := svc.PlotPNG(anchor, parseReplay(r))
		if err != nil {
			writeComputeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

// Job handlers

type jobSubmitRequest struct {
	Time   float64 `json:"time"`
	Replay bool    `json:"replay"`
}

func jobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req jobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if math.IsNaN(req.Time) || math.IsInf(req.Time, 0) {
			http.Error(w, "invalid time", http.StatusBadRequest)
			return
		}

		params := samplestore.JobParams{
			Anchor: req.Time,
			Replay: req.Replay,
		}

		job, err := jm.Submit(params)
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func jobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"params":      job.Params,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"error":       job.Error,
		})
	}
}

func jobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if job.Status != samplestore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		result, err := jm.Store().GetJobResult(jobID)
		if err != nil {
			http.Error(w, "failed to load result: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if result == nil {
			http.Error(w, "result not available", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(result)
	}
}

func jobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		jm.Cancel(jobID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":    jobID,
			"cancelled": true,
		})
	}
}
