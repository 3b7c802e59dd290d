// Package samplestore provides SQLite persistence for lineage jobs and for
// the cell samples drawn during propagation, so a computation can be
// replayed with the exact draws of an earlier run.
package samplestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of a lineage job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobParams contains the parameters of a lineage job.
type JobParams struct {
	Anchor float64 `json:"anchor"` // anchor timepoint
	Replay bool    `json:"replay"` // replay previously recorded samples
}

// Job represents an asynchronous lineage computation.
type Job struct {
	ID         string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Params     JobParams  `json:"params"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Store provides persistent storage for lineage jobs and drawn samples.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-backed store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lineage_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		error TEXT DEFAULT '',
		result_json TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_lineage_jobs_status ON lineage_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_lineage_jobs_finished ON lineage_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS samples (
		anchor REAL NOT NULL,
		t REAL NOT NULL,
		cell_set TEXT NOT NULL,
		indices_json TEXT NOT NULL,
		PRIMARY KEY (anchor, t, cell_set)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSample records the indices drawn for (anchor, t, cellSet), replacing
// any earlier draw.
func (s *Store) SaveSample(anchor, t float64, cellSet string, indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	indicesJSON, err := json.Marshal(indices)
	if err != nil {
		return fmt.Errorf("failed to marshal indices: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO samples (anchor, t, cell_set, indices_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(anchor, t, cell_set) DO UPDATE SET indices_json = excluded.indices_json
	`, anchor, t, cellSet, string(indicesJSON))
	return err
}

// LoadSample returns the recorded indices for (anchor, t, cellSet).
func (s *Store) LoadSample(anchor, t float64, cellSet string) ([]int, bool, error) {
	var indicesJSON string
	err := s.db.QueryRow(`
		SELECT indices_json FROM samples WHERE anchor = ? AND t = ? AND cell_set = ?
	`, anchor, t, cellSet).Scan(&indicesJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var indices []int
	if err := json.Unmarshal([]byte(indicesJSON), &indices); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal indices: %w", err)
	}
	return indices, true, nil
}

// AnchorView is the store scoped to one anchor timepoint; it implements
// lineage.SampleStore.
type AnchorView struct {
	store  *Store
	anchor float64
}

// ForAnchor scopes the sample store to one anchor timepoint.
func (s *Store) ForAnchor(anchor float64) *AnchorView {
	return &AnchorView{store: s, anchor: anchor}
}

// Load returns previously recorded indices for the timepoint and cell set.
func (v *AnchorView) Load(t float64, cellSet string) ([]int, bool) {
	indices, ok, err := v.store.LoadSample(v.anchor, t, cellSet)
	if err != nil {
		return nil, false
	}
	return indices, ok
}

// Save records the indices drawn for the timepoint and cell set.
func (v *AnchorView) Save(t float64, cellSet string, indices []int) error {
	return v.store.SaveSample(v.anchor, t, cellSet, indices)
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO lineage_jobs (job_id, status, params_json, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Status),
		string(paramsJSON),
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID. Returns nil without error when absent.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT job_id, status, params_json, error, created_at, started_at, finished_at
		FROM lineage_jobs WHERE job_id = ?
	`, jobID)

	var job Job
	var paramsJSON string
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Status,
		&paramsJSON,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}

	return &job, nil
}

// UpdateJobStatus updates the job status and optional error message.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE lineage_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE lineage_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// SetJobResult stores the serialized result of a completed job.
func (s *Store) SetJobResult(jobID string, resultJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE lineage_jobs SET result_json = ? WHERE job_id = ?
	`, string(resultJSON), jobID)
	return err
}

// GetJobResult returns the serialized result of a job, or nil if none.
func (s *Store) GetJobResult(jobID string) ([]byte, error) {
	var resultJSON sql.NullString
	err := s.db.QueryRow(`
		SELECT result_json FROM lineage_jobs WHERE job_id = ?
	`, jobID).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !resultJSON.Valid {
		return nil, nil
	}
	return []byte(resultJSON.String), nil
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, params_json, error, created_at, started_at, finished_at
		FROM lineage_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var paramsJSON string
		var createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		err := rows.Scan(
			&job.ID,
			&job.Status,
			&paramsJSON,
			&job.Error,
			&createdAtStr,
			&startedAtStr,
			&finishedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, startedAtStr.String)
			job.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
			job.FinishedAt = &t
		}

		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE lineage_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	result, err := s.db.Exec(`
		DELETE FROM lineage_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job and its stored result.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM lineage_jobs WHERE job_id = ?", jobID)
	return err
}
