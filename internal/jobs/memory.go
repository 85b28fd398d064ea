package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps job state in process memory. It is the development and
// single-instance backend; state is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	results map[string][]PageResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		results: make(map[string][]PageResult),
	}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	if job.Status != StatusQueued {
		return &StorageError{Op: "create", Err: fmt.Errorf("new job must be %s, got %s", StatusQueued, job.Status)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return &StorageError{Op: "create", Err: fmt.Errorf("job %s already exists", job.ID)}
	}
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, &NotFoundError{JobID: jobID}
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, jobID string, status Status, extra Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return &NotFoundError{JobID: jobID}
	}
	if !job.Status.CanTransition(status) {
		return &InvalidTransitionError{JobID: jobID, From: job.Status, To: status}
	}
	job.Status = status
	applyFields(job, extra)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetFields(_ context.Context, jobID string, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return &NotFoundError{JobID: jobID}
	}
	applyFields(job, fields)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveResults(_ context.Context, jobID string, results []PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return &NotFoundError{JobID: jobID}
	}
	copied := make([]PageResult, len(results))
	copy(copied, results)
	s.results[jobID] = copied
	return nil
}

func (s *MemoryStore) GetResults(_ context.Context, jobID string) ([]PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, &NotFoundError{JobID: jobID}
	}
	results := s.results[jobID]
	copied := make([]PageResult, len(results))
	copy(copied, results)
	return copied, nil
}

// applyFields merges a partial update into a job. Progress never regresses.
func applyFields(job *Job, fields Fields) {
	for key, value := range fields {
		switch key {
		case "progress":
			if p, ok := toInt(value); ok && p > job.Progress {
				job.Progress = min(p, 100)
			}
		case "message":
			job.Message = fmt.Sprint(value)
		case "total_pages":
			if n, ok := toInt(value); ok {
				job.TotalPages = n
			}
		case "current_page":
			if n, ok := toInt(value); ok {
				job.CurrentPage = n
			}
		case "total_tendons":
			if n, ok := toInt(value); ok {
				job.TotalTendons = n
			}
		case "excel_path":
			job.ExcelPath = fmt.Sprint(value)
		case "error":
			job.Error = fmt.Sprint(value)
		}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
