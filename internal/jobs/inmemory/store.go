package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/whiro/dami/internal/jobs"
)

var _ jobs.JobStore = (*Store)(nil)

// Store keeps import job state for GET /api/jobs. It lives only as long as
// the serve process; the durable record of each import is its import_runs
// row.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.ImportJob
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*jobs.ImportJob)}
}

// SaveJob records a snapshot of job, replacing any earlier state.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ImportJob) error {
	if job.JobID == "" {
		return errors.New("import job has no ID")
	}
	snapshot := copyJob(job)

	s.mu.Lock()
	s.jobs[job.JobID] = snapshot
	s.mu.Unlock()
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return copyJob(job), nil
}

// ListJobs returns the most recently enqueued imports first. Jobs enqueued
// in the same instant are ordered by ID so pages are stable.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportJob, error) {
	s.mu.RLock()
	matched := make([]*jobs.ImportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Trigger != "" && job.Trigger != filter.Trigger {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, copyJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.JobID < b.JobID
	})

	if filter.Offset >= len(matched) {
		return []*jobs.ImportJob{}, nil
	}
	if filter.Offset > 0 {
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// copyJob detaches the stored snapshot from the worker's job, whose Result
// is filled in while the import runs.
func copyJob(job *jobs.ImportJob) *jobs.ImportJob {
	c := *job
	if job.Result != nil {
		r := *job.Result
		c.Result = &r
	}
	return &c
}
