package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrQueueFull = errors.New("queue full")

type LocalConfig struct {
	WorkerCount   int
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	JobTimeout    time.Duration
	MaxDeadLetter int
}

// LocalPool runs jobs on in-process workers when Redis is not configured.
// Jobs do not survive a restart; dead letters are kept in memory.
type LocalPool struct {
	handler Handler
	config  LocalConfig
	logger  ectologger.Logger

	jobsCh chan *models.Job
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	running     bool
	deadLetters []models.DeadLetter
}

func NewLocalPool(handler Handler, config LocalConfig, logger ectologger.Logger) *LocalPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.MaxDeadLetter <= 0 {
		config.MaxDeadLetter = 1000
	}

	return &LocalPool{
		handler: handler,
		config:  config,
		logger:  logger,
		jobsCh:  make(chan *models.Job, config.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

func (l *LocalPool) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("pool already running")
	}
	l.running = true

	for i := 0; i < l.config.WorkerCount; i++ {
		l.wg.Add(1)
		go l.worker(ctx)
	}

	l.logger.WithContext(ctx).Infof("Started in-process job pool with %d workers", l.config.WorkerCount)
	return nil
}

// Stop stops accepting jobs and waits for queued ones to drain until ctx expires.
func (l *LocalPool) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	close(l.jobsCh)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.logger.WithContext(ctx).Warn("Job pool shutdown timed out")
		return ctx.Err()
	}
}

// Enqueue never blocks: a full queue is reported as ErrQueueFull.
func (l *LocalPool) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	job := &models.Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		Payload:     payload,
		TraceParent: tracing.GetTraceParent(ctx),
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.push(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (l *LocalPool) push(job *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return ErrProcessorStopped
	}

	select {
	case l.jobsCh <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *LocalPool) ListDeadLetters(_ context.Context, limit int64) ([]models.DeadLetter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > int64(len(l.deadLetters)) {
		limit = int64(len(l.deadLetters))
	}
	// newest first
	out := make([]models.DeadLetter, 0, limit)
	for i := len(l.deadLetters) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, l.deadLetters[i])
	}
	return out, nil
}

func (l *LocalPool) RetryDeadLetter(ctx context.Context, id string) error {
	l.mu.Lock()
	idx := -1
	for i, dl := range l.deadLetters {
		if dl.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("dead letter %s not found", id))
	}
	entry := l.deadLetters[idx]
	l.mu.Unlock()

	if entry.Job == nil {
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("dead letter %s has no job to retry", id))
	}

	job := *entry.Job
	job.Attempts = 0
	if err := l.push(&job); err != nil {
		return err
	}

	l.mu.Lock()
	for i, dl := range l.deadLetters {
		if dl.ID == id {
			l.deadLetters = append(l.deadLetters[:i], l.deadLetters[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	l.logger.WithContext(ctx).Infof("Retried dead letter %s as job %s", id, job.ID)
	return nil
}

func (l *LocalPool) worker(ctx context.Context) {
	defer l.wg.Done()
	for job := range l.jobsCh {
		l.process(ctx, job)
	}
}

// process attempts the job up to MaxRetries+1 times with a linear backoff.
func (l *LocalPool) process(ctx context.Context, job *models.Job) {
	if job.TraceParent != "" {
		ctx = tracing.WithTraceParent(ctx, job.TraceParent)
	}
	ctx = appctx.SetJobID(ctx, job.ID)
	ctx, span := tracing.StartSpan(ctx, "queue.LocalPool.process")
	defer span.End()

	log := l.logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.ID, "kind": job.Kind})

	for {
		job.Attempts++
		metrics.QueueJobsInFlight.Inc()
		err := runJob(ctx, l.handler, job, l.config.JobTimeout)
		metrics.QueueJobsInFlight.Dec()

		if err == nil {
			metrics.RecordJobProcessed(job.Kind, "success")
			return
		}

		if !retryable(err) || job.Attempts > l.config.MaxRetries {
			metrics.RecordJobProcessed(job.Kind, "dead_lettered")
			log.WithError(err).Errorf("Job failed after %d attempts", job.Attempts)
			l.deadLetter(ctx, job, deadLetterReason(err), err)
			return
		}

		metrics.RecordJobProcessed(job.Kind, "failed")
		log.WithError(err).Warnf("Job attempt %d failed, retrying", job.Attempts)

		select {
		case <-time.After(time.Duration(job.Attempts) * l.config.RetryBackoff):
		case <-l.stopCh:
			l.deadLetter(ctx, job, models.DLQReasonUnknown, fmt.Errorf("pool stopped before retry: %w", err))
			return
		}
	}
}

func (l *LocalPool) deadLetter(ctx context.Context, job *models.Job, reason models.DeadLetterReason, err error) {
	entry := models.DeadLetter{
		ID:           uuid.New().String(),
		Job:          job,
		Reason:       reason,
		ErrorMessage: err.Error(),
		RetryCount:   job.Attempts,
		TraceID:      tracing.GetTraceID(ctx),
		CreatedAt:    time.Now().UTC(),
	}

	l.mu.Lock()
	l.deadLetters = append(l.deadLetters, entry)
	if over := len(l.deadLetters) - l.config.MaxDeadLetter; over > 0 {
		l.deadLetters = l.deadLetters[over:]
	}
	l.mu.Unlock()

	metrics.RecordDLQ(string(reason))
}
