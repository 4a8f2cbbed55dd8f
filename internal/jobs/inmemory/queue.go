package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whiro/dami/internal/jobs"
	"github.com/whiro/dami/internal/logger"
)

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)

const (
	defaultWorkers = 5
	defaultBackoff = time.Second
)

// Queue runs import jobs on a fixed pool of workers inside the serve
// process. Job state is mirrored into store after every transition so the
// jobs API can report progress. Imports still queued when the process exits
// are lost; the scheduler's next tick picks up the latest export again.
type Queue struct {
	pending chan *jobs.ImportJob
	closing chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	store   jobs.JobStore

	workers int
	backoff time.Duration
}

type Option func(*Queue)

// WithWorkers sets how many imports may run at once.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the base retry delay. Retry n waits n times this delay.
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) { q.backoff = d }
}

// NewQueue creates a queue holding up to bufferSize imports that no worker
// has picked up yet. store may be nil.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		pending: make(chan *jobs.ImportJob, bufferSize),
		closing: make(chan struct{}),
		store:   store,
		workers: defaultWorkers,
		backoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishImport fills in the job's ID, status, creation time and retry
// budget, records it as pending and hands it to the workers. It blocks
// while the buffer is full.
func (q *Queue) PublishImport(ctx context.Context, job *jobs.ImportJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = jobs.DefaultMaxRetries
	}
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("recording import job %s: %w", job.JobID, err)
		}
	}

	// The worker gets its own copy; the caller keeps reading job.
	queued := *job
	select {
	case q.pending <- &queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closing:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. Each import runs with ctx, so cancelling it
// aborts imports in flight; stop the queue first to let them finish.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return jobs.ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, handler)
	}
	return nil
}

func (q *Queue) work(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case job := <-q.pending:
			if job == nil {
				return
			}
			q.run(ctx, job, handler)
		}
	}
}

// run executes one attempt of an import. A failure that is not permanent
// and still has retry budget is re-published after a linear backoff.
func (q *Queue) run(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("trigger", job.Trigger).
		Int("attempt", job.RetryCount+1).
		Logger()

	started := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	q.save(ctx, job)

	err := handler(logger.WithContext(ctx, log), job)

	finished := time.Now()
	job.CompletedAt = &finished

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		q.save(ctx, job)
		log.Info().Dur("took", finished.Sub(started)).Msg("Import job completed")
		return
	case jobs.IsPermanent(err), job.RetryCount >= job.MaxRetries:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		q.save(ctx, job)
		log.Error().Err(err).Bool("permanent", jobs.IsPermanent(err)).Msg("Import job failed")
		return
	}

	job.Error = err.Error()
	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	q.save(ctx, job)

	wait := time.Duration(job.RetryCount) * q.backoff
	log.Warn().Err(err).Dur("backoff", wait).Msg("Import job failed, will retry")

	next := *job
	next.Status = jobs.JobStatusPending
	next.StartedAt = nil
	next.CompletedAt = nil
	time.AfterFunc(wait, func() {
		if err := q.PublishImport(ctx, &next); err != nil {
			log.Error().Err(err).Msg("Import retry dropped")
		}
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.ImportJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("job_id", job.JobID).Msg("Failed to record import job state")
	}
}

// Stop refuses new imports and waits, until ctx is done, for the imports in
// flight to return. Queued imports that no worker picked up are dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue without a deadline.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}
