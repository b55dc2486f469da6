// Package queue runs webhook jobs on a worker pool. Two backends share one
// contract: jobs are acknowledged to the caller on Enqueue, retried on failure,
// and dead-lettered after MaxRetries attempts, on panic, or when invalid.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

var (
	ErrProcessorStopped = errors.New("processor stopped")

	// ErrInvalidJob marks a job that can never succeed. It is dead-lettered without retries.
	ErrInvalidJob = errors.New("invalid job")

	errJobPanicked = errors.New("job panicked")
)

const (
	DefaultBatchSize     = 10
	DefaultBlockTimeout  = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultClaimInterval = 30 * time.Second
	DefaultClaimMinIdle  = 60 * time.Second
	DefaultJobTimeout    = 10 * time.Minute
)

// Handler processes one job.
type Handler interface {
	HandleJob(ctx context.Context, job *models.Job) error
}

type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) HandleJob(ctx context.Context, job *models.Job) error {
	return f(ctx, job)
}

// Queue accepts jobs for asynchronous processing and returns the job id.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload json.RawMessage) (string, error)
}

// DeadLetters exposes the dead-letter store to the admin API.
type DeadLetters interface {
	ListDeadLetters(ctx context.Context, limit int64) ([]models.DeadLetter, error)
	RetryDeadLetter(ctx context.Context, id string) error
}

// Runner is a queue backend with a lifecycle.
type Runner interface {
	Queue
	DeadLetters
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// runJob invokes the handler under the job timeout and turns a panic into an error.
func runJob(ctx context.Context, handler Handler, job *models.Job, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errJobPanicked, r)
		}
	}()

	return handler.HandleJob(ctx, job)
}

// deadLetterReason classifies a failure that ends a job's life.
func deadLetterReason(err error) models.DeadLetterReason {
	switch {
	case errors.Is(err, ErrInvalidJob):
		return models.DLQReasonInvalidJob
	case errors.Is(err, errJobPanicked):
		return models.DLQReasonPanic
	case errors.Is(err, context.DeadlineExceeded):
		return models.DLQReasonTimeout
	default:
		return models.DLQReasonMaxRetries
	}
}

// retryable reports whether a failed job should be attempted again.
func retryable(err error) bool {
	return !errors.Is(err, ErrInvalidJob) && !errors.Is(err, errJobPanicked)
}
