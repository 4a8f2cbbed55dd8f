// Package scheduler enqueues import jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whiro/dami/internal/jobs"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/pipeline"
)

// Scheduler publishes an ImportJob every time its cron spec fires.
type Scheduler struct {
	cron      *cron.Cron
	spec      string
	publisher jobs.Publisher

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (standard five-field cron or a descriptor such as
// "@daily") and evaluates it in loc. A nil loc means UTC.
func New(spec string, loc *time.Location, publisher jobs.Publisher) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		spec:      spec,
		publisher: publisher,
		ctx:       context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.enqueue); err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background. ctx carries the logger and
// bounds each publish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	logger.FromContext(ctx).Info().
		Str("spec", s.spec).
		Time("next", s.Next()).
		Msg("scheduler started")
}

// Stop stops the schedule and waits for a running publish to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next activation time, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) enqueue() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	job := &jobs.ImportJob{Trigger: pipeline.TriggerSchedule}
	if err := s.publisher.PublishImport(ctx, job); err != nil {
		log.Error().Err(err).Msg("could not enqueue scheduled import")
		return
	}
	log.Info().Str("job_id", job.JobID).Msg("scheduled import enqueued")
}
