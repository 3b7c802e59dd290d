package samplestore

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "lineage.sqlite"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSampleRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSample(1, 0, "A", []int{3, 1, 3}); err != nil {
		t.Fatalf("SaveSample: %v", err)
	}

	got, ok, err := s.LoadSample(1, 0, "A")
	if err != nil {
		t.Fatalf("LoadSample: %v", err)
	}
	if !ok {
		t.Fatal("expected sample to exist")
	}
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 3 {
		t.Errorf("unexpected indices: %v", got)
	}

	// Different anchor is a different key.
	if _, ok, _ := s.LoadSample(2, 0, "A"); ok {
		t.Error("sample should be scoped by anchor")
	}

	// Re-saving replaces.
	if err := s.SaveSample(1, 0, "A", []int{7}); err != nil {
		t.Fatalf("SaveSample replace: %v", err)
	}
	got, _, _ = s.LoadSample(1, 0, "A")
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("expected replaced indices, got %v", got)
	}
}

func TestAnchorView(t *testing.T) {
	s := newTestStore(t)
	v := s.ForAnchor(2.5)

	if err := v.Save(1.5, "B", []int{0, 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := v.Load(1.5, "B")
	if !ok || len(got) != 2 {
		t.Fatalf("Load: got %v ok=%v", got, ok)
	}
	if _, ok := s.ForAnchor(3.0).Load(1.5, "B"); ok {
		t.Error("view should be scoped to its anchor")
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	job := &Job{
		ID:        "abc123",
		Status:    JobStatusQueued,
		Params:    JobParams{Anchor: 4, Replay: true},
		CreatedAt: time.Now(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	queued, err := s.ListQueuedJobs()
	if err != nil {
		t.Fatalf("ListQueuedJobs: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "abc123" {
		t.Fatalf("unexpected queued jobs: %+v", queued)
	}

	if err := s.UpdateJobStarted("abc123"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}
	got, err := s.GetJob("abc123")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != JobStatusRunning || got.StartedAt == nil {
		t.Errorf("expected running job with start time, got %+v", got)
	}
	if got.Params.Anchor != 4 || !got.Params.Replay {
		t.Errorf("params not preserved: %+v", got.Params)
	}

	if err := s.SetJobResult("abc123", []byte(`{"traces":[]}`)); err != nil {
		t.Fatalf("SetJobResult: %v", err)
	}
	if err := s.UpdateJobStatus("abc123", JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	result, err := s.GetJobResult("abc123")
	if err != nil {
		t.Fatalf("GetJobResult: %v", err)
	}
	if string(result) != `{"traces":[]}` {
		t.Errorf("unexpected result: %s", result)
	}

	got, _ = s.GetJob("abc123")
	if got.Status != JobStatusCompleted || got.FinishedAt == nil {
		t.Errorf("expected completed job, got %+v", got)
	}

	if err := s.DeleteJob("abc123"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	got, err = s.GetJob("abc123")
	if err != nil || got != nil {
		t.Errorf("expected deleted job, got %+v err=%v", got, err)
	}
}

func TestMarkRunningAsFailed(t *testing.T) {
	s := newTestStore(t)

	job := &Job{ID: "j1", Status: JobStatusQueued, CreatedAt: time.Now()}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStarted("j1"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}

	if err := s.MarkRunningAsFailed("server restarted"); err != nil {
		t.Fatalf("MarkRunningAsFailed: %v", err)
	}
	got, _ := s.GetJob("j1")
	if got.Status != JobStatusFailed || got.Error != "server restarted" {
		t.Errorf("unexpected job after recovery: %+v", got)
	}
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetJob("nope")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing job, got %+v", got)
	}
}
