package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ProcessorConfig holds configuration for the stream processor
type ProcessorConfig struct {
	// Stream name for the job queue
	Stream string

	// Consumer group shared by every replica
	ConsumerGroup string

	// Consumer name, unique per instance
	ConsumerName string

	// Number of messages to fetch per read
	BatchSize int64

	// How long a read blocks waiting for new messages
	BlockTimeout time.Duration

	// Deliveries before a job is dead-lettered
	MaxRetries int

	// How often stale pending messages are checked
	ClaimInterval time.Duration

	// Idle time before a pending message is claimed and retried
	ClaimMinIdle time.Duration

	// Number of worker goroutines
	WorkerCount int

	// Bound on a single job
	JobTimeout time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return ProcessorConfig{
		Stream:        "fern:jobs:webhook",
		ConsumerGroup: "fern-workers",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxRetries:    DefaultMaxRetries,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   1,
		JobTimeout:    DefaultJobTimeout,
	}
}

// Processor consumes jobs from a Redis stream. Failed jobs stay pending and are
// claimed again after ClaimMinIdle; the stream's delivery count drives dead-lettering.
type Processor struct {
	streams *redis.Streams
	dlq     *redis.DeadLetterQueue
	handler Handler
	config  ProcessorConfig
	logger  ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan redis.StreamMessage

	running bool
	mu      sync.RWMutex
}

func NewProcessor(
	streams *redis.Streams,
	dlq *redis.DeadLetterQueue,
	handler Handler,
	config ProcessorConfig,
	logger ectologger.Logger,
) *Processor {
	defaults := DefaultProcessorConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaults.ConsumerGroup
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:  streams,
		dlq:      dlq,
		handler:  handler,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		jobsCh:   make(chan redis.StreamMessage, config.BatchSize*2),
	}
}

// Enqueue appends a job to the stream. The caller's trace continues in the worker.
func (p *Processor) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	job := &models.Job{
		Kind:        kind,
		Payload:     payload,
		TraceParent: tracing.GetTraceParent(ctx),
	}
	if _, err := p.streams.Publish(ctx, p.config.Stream, job); err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return job.ID, nil
}

func (p *Processor) ListDeadLetters(ctx context.Context, limit int64) ([]models.DeadLetter, error) {
	return p.dlq.List(ctx, limit)
}

func (p *Processor) RetryDeadLetter(ctx context.Context, id string) error {
	return p.dlq.Retry(ctx, id, p.streams, p.config.Stream)
}

func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	p.mu.Unlock()

	p.logger.WithContext(ctx).Infof("Starting job processor: stream=%s group=%s consumer=%s workers=%d",
		p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.WorkerCount)

	if err := p.streams.CreateConsumerGroup(ctx, p.config.Stream, p.config.ConsumerGroup); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to create consumer group")
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var workers sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		workers.Add(1)
		go p.worker(ctx, &workers, i)
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go p.consumeLoop(ctx, &loops)
	go p.claimLoop(ctx, &loops)

	go func() {
		<-p.stopCh
		// producers must be gone before the channel closes
		loops.Wait()
		close(p.jobsCh)
		workers.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).Info("Job processor started")
	return nil
}

// Stop waits for in-flight jobs until ctx expires.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.WithContext(ctx).Info("Stopping job processor...")
	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Job processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Job processor shutdown timed out")
		return ctx.Err()
	}
	return nil
}

func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		messages, err := p.streams.Consume(
			ctx,
			p.config.Stream,
			p.config.ConsumerGroup,
			p.config.ConsumerName,
			p.config.BatchSize,
			p.config.BlockTimeout,
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			select {
			case <-time.After(time.Second):
			case <-p.stopCh:
				return
			}
			continue
		}

		for _, msg := range messages {
			if !p.dispatch(ctx, msg, true) {
				return
			}
		}
	}
}

// dispatch hands a message to the workers. Undecodable messages are dead-lettered.
// It returns false once the processor is stopping.
func (p *Processor) dispatch(ctx context.Context, msg redis.StreamMessage, wait bool) bool {
	if msg.Err != nil {
		p.logger.WithContext(ctx).WithError(msg.Err).Warnf("Invalid job message %s", msg.ID)
		p.moveToDLQ(ctx, msg.ID, nil, 0, models.DLQReasonInvalidJob, msg.Err.Error())
		return true
	}

	if !wait {
		select {
		case p.jobsCh <- msg:
		case <-p.stopCh:
			return false
		default:
			// workers are busy, the message is claimed again next round
		}
		return true
	}

	select {
	case p.jobsCh <- msg:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.claimPendingMessages(ctx)
		}
	}
}

// claimPendingMessages retries stale pending messages and dead-letters the ones
// that were delivered more than MaxRetries times.
func (p *Processor) claimPendingMessages(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "queue.Processor.claimPendingMessages")
	defer span.End()

	if depth, err := p.streams.Len(ctx, p.config.Stream); err == nil {
		metrics.SetQueueDepth(p.config.Stream, depth)
	}

	pending, err := p.streams.Pending(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.BatchSize)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to get pending messages")
		return
	}

	var staleIDs []string
	for _, msg := range pending {
		if msg.Idle < p.config.ClaimMinIdle {
			continue
		}
		if msg.RetryCount > int64(p.config.MaxRetries) {
			stored, err := p.streams.Get(ctx, p.config.Stream, msg.ID)
			var job *models.Job
			if err == nil && stored != nil {
				job = stored.Job
			}
			p.moveToDLQ(ctx, msg.ID, job, int(msg.RetryCount), models.DLQReasonMaxRetries, "exceeded maximum retry count")
			continue
		}
		staleIDs = append(staleIDs, msg.ID)
	}

	if len(staleIDs) == 0 {
		return
	}

	p.logger.WithContext(ctx).Infof("Claiming %d stale pending messages", len(staleIDs))
	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.ClaimMinIdle, staleIDs...)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
		return
	}

	for _, msg := range claimed {
		if !p.dispatch(ctx, msg, false) {
			return
		}
	}
}

func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debugf("Worker %d started", id)
	for msg := range p.jobsCh {
		p.process(ctx, msg)
	}
	p.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

func (p *Processor) process(ctx context.Context, msg redis.StreamMessage) {
	job := msg.Job
	if job.TraceParent != "" {
		ctx = tracing.WithTraceParent(ctx, job.TraceParent)
	}
	ctx = appctx.SetJobID(ctx, job.ID)
	ctx, span := tracing.StartSpan(ctx, "queue.Processor.process")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.ID, "kind": job.Kind})

	metrics.QueueJobsInFlight.Inc()
	start := time.Now()
	err := runJob(ctx, p.handler, job, p.config.JobTimeout)
	metrics.QueueJobsInFlight.Dec()

	if err == nil {
		metrics.RecordJobProcessed(job.Kind, "success")
		log.Debugf("Job completed in %s", time.Since(start))
		p.ack(ctx, msg.ID)
		return
	}

	if !retryable(err) {
		metrics.RecordJobProcessed(job.Kind, "dead_lettered")
		log.WithError(err).Error("Job cannot be retried")
		p.moveToDLQ(ctx, msg.ID, job, job.Attempts+1, deadLetterReason(err), err.Error())
		return
	}

	// left pending; claimPendingMessages retries it after ClaimMinIdle
	metrics.RecordJobProcessed(job.Kind, "failed")
	log.WithError(err).Warnf("Job failed after %s, will be retried", time.Since(start))
}

func (p *Processor) ack(ctx context.Context, messageID string) {
	if err := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack message %s", messageID)
	}
}

// moveToDLQ records the failure and acks the message so it is never delivered again.
func (p *Processor) moveToDLQ(ctx context.Context, messageID string, job *models.Job, retryCount int, reason models.DeadLetterReason, errorMsg string) {
	ctx, span := tracing.StartSpan(ctx, "queue.Processor.moveToDLQ")
	defer span.End()

	if p.dlq != nil {
		entry := &models.DeadLetter{
			Job:          job,
			Reason:       reason,
			ErrorMessage: errorMsg,
			RetryCount:   retryCount,
		}
		if _, err := p.dlq.Add(ctx, entry); err != nil {
			p.logger.WithContext(ctx).WithError(err).Errorf("Failed to dead-letter message %s", messageID)
		} else {
			metrics.RecordDLQ(string(reason))
		}
	}

	p.ack(ctx, messageID)
}
