package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/celltrace/server/internal/cache"
	"github.com/celltrace/server/internal/lineage"
	"github.com/celltrace/server/internal/render"
	"github.com/celltrace/server/internal/samplestore"
	"github.com/celltrace/server/internal/service"
)

func newTestService(t *testing.T) *service.LineageService {
	t.Helper()

	t0IDs := []string{"a0", "a1", "a2", "a3"}
	t1IDs := []string{"b0", "b1", "b2", "b3", "b4"}
	t2IDs := []string{"c0", "c1", "c2"}

	m0 := lineage.NewMatrix(4, 5)
	for i := range m0.Data {
		m0.Data[i] = 0.05
	}
	m1 := lineage.NewMatrix(5, 3)
	for i := range m1.Data {
		m1.Data[i] = 0.06
	}
	maps := []*lineage.TransportMap{
		{T1: 0, T2: 1, RowIDs: t0IDs, ColIDs: t1IDs, M: m0},
		{T1: 1, T2: 2, RowIDs: t1IDs, ColIDs: t2IDs, M: m1},
	}

	results, err := cache.NewResultCache(cache.Config{ResultCacheSizeMB: 8, ResultTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewResultCache failed: %v", err)
	}
	t.Cleanup(func() { results.Close() })

	return service.NewLineageService(service.LineageServiceConfig{
		Chain: lineage.Chain{{T1: 0, T2: 1}, {T1: 1, T2: 2}},
		Maps: lineage.MapSourceFunc(func(index int) (*lineage.TransportMap, error) {
			if index < 0 || index >= len(maps) {
				return nil, fmt.Errorf("no transport map at index %d", index)
			}
			return maps[index], nil
		}),
		CellSets: &lineage.CellSetMatrix{
			IDs:    t1IDs,
			Names:  []string{"A"},
			Member: [][]bool{{false}, {true}, {false}, {true}, {false}},
		},
		Results:  results,
		Renderer: render.NewPlotRenderer(render.Config{Width: 320, Height: 200}),
		Seed:     7,
	})
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{
		Service:     newTestService(t),
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestChainEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chain", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var payload struct {
		Timepoints []float64 `json:"timepoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(payload.Timepoints) != 3 {
		t.Fatalf("unexpected timepoints %v", payload.Timepoints)
	}
}

func TestCellSetsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/cellsets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var payload struct {
		CellSets []string `json:"cell_sets"`
		Total    int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if payload.Total != 1 || len(payload.CellSets) != 1 || payload.CellSets[0] != "A" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLineageEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/lineage?time=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var result lineage.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(result.Distributions) != 2 {
		t.Fatalf("expected 2 distributions, got %d", len(result.Distributions))
	}
}

func TestLineageEndpointCellSetFilter(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/lineage?time=1&cell_set=nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var result lineage.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(result.Distributions) != 0 || len(result.Traces) != 0 {
		t.Fatalf("expected empty filtered result, got %d/%d", len(result.Traces), len(result.Distributions))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/lineage?time=1&cell_set=A", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(result.Distributions) != 2 {
		t.Fatalf("expected 2 distributions for set A, got %d", len(result.Distributions))
	}
}

func TestLineageEndpointErrors(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		name string
		url  string
		code int
	}{
		{"missingTime", "/api/lineage", http.StatusBadRequest},
		{"invalidTime", "/api/lineage?time=abc", http.StatusBadRequest},
		{"unknownTime", "/api/lineage?time=9.5", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestLineagePlotEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/lineage/plot.png?time=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("response is not a PNG")
	}
}

func TestJobLifecycle(t *testing.T) {
	svc := newTestService(t)

	store, err := samplestore.NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	jm := NewJobManager(JobManagerConfig{MaxConcurrent: 1}, store)
	jm.Executor = func(ctx context.Context, params samplestore.JobParams) ([]byte, error) {
		return svc.TraceJSON(params.Anchor, params.Replay)
	}
	jm.Start()
	t.Cleanup(jm.Stop)

	router := NewRouter(RouterConfig{
		Service:     svc,
		CORSOrigins: []string{"http://localhost:3000"},
		JobManager:  jm,
	})

	// Submit
	body := bytes.NewBufferString(`{"time": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/lineage/jobs/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	var submitted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if submitted.JobID == "" {
		t.Fatal("missing job_id")
	}

	// Poll status until completed
	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/lineage/jobs/"+submitted.JobID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status request failed: %d: %s", rec.Code, rec.Body.String())
		}
		var payload struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode JSON: %v", err)
		}
		status = payload.Status
		if status == string(samplestore.JobStatusCompleted) {
			break
		}
		if status == string(samplestore.JobStatusFailed) {
			t.Fatalf("job failed: %s", payload.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != string(samplestore.JobStatusCompleted) {
		t.Fatalf("job did not complete, last status %q", status)
	}

	// Fetch result
	req = httptest.NewRequest(http.MethodGet, "/api/lineage/jobs/"+submitted.JobID+"/result", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var result lineage.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if len(result.Distributions) == 0 {
		t.Fatal("expected distributions in result")
	}
}

func TestJobNotFound(t *testing.T) {
	store, err := samplestore.NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	router := NewRouter(RouterConfig{
		Service:     newTestService(t),
		CORSOrigins: []string{"*"},
		JobManager:  NewJobManager(JobManagerConfig{}, store),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/lineage/jobs/deadbeef", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}
