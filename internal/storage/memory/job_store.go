// Package memory provides in-memory store implementations for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// JobStore keeps job records in a map.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]harvest.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]harvest.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces an existing record.
func (s *JobStore) UpdateJob(_ context.Context, job harvest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return harvest.ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return harvest.Job{}, harvest.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first, plus the
// total match count before pagination.
func (s *JobStore) ListJobs(_ context.Context, filter harvest.JobFilter) ([]harvest.Job, int, error) {
	s.mu.RLock()
	matched := make([]harvest.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.SourceID != "" && !targetsSource(job, filter.SourceID) {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Submitted.After(matched[j].Submitted)
	})
	total := len(matched)
	return paginate(matched, filter.Page, filter.PerPage), total, nil
}

// DeleteJob removes a job record.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return harvest.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func targetsSource(job harvest.Job, sourceID string) bool {
	for _, target := range job.Spec.Targets {
		if target.SourceID == sourceID {
			return true
		}
	}
	return false
}

func paginate(jobs []harvest.Job, page, perPage int) []harvest.Job {
	if perPage <= 0 {
		return jobs
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(jobs) {
		return nil
	}
	end := start + perPage
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[start:end]
}
