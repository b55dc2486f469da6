package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultDLQStream = "fern:jobs:dlq"

	// DLQMaxLen caps the dead-letter stream; the oldest entries are trimmed
	DLQMaxLen = 10000
)

// DeadLetterQueue stores jobs that could not be processed. Entry ids are the
// stream message ids, so a listed entry can be retried or deleted directly.
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

func (d *DeadLetterQueue) Add(ctx context.Context, entry *models.DeadLetter) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Add")
	defer span.End()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.TraceID == "" {
		entry.TraceID = tracing.GetTraceID(ctx)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	kind := ""
	if entry.Job != nil {
		kind = entry.Job.Kind
	}

	messageID, err := d.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			dataField: string(data),
			"kind":    kind,
			"reason":  string(entry.Reason),
		},
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add job to DLQ")
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	entry.ID = messageID
	d.logger.WithContext(ctx).WithFields(map[string]any{
		"dlq_id": messageID,
		"kind":   kind,
		"reason": entry.Reason,
	}).Warn("Job moved to dead letter queue")
	return messageID, nil
}

// List returns the newest entries first.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]models.DeadLetter, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.rdb.XRevRangeN(ctx, d.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := make([]models.DeadLetter, 0, len(messages))
	for _, msg := range messages {
		entry, err := d.decode(msg)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal DLQ entry: %s", msg.ID)
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Get returns a 404 when the entry does not exist.
func (d *DeadLetterQueue) Get(ctx context.Context, id string) (*models.DeadLetter, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Get")
	defer span.End()

	messages, err := d.client.rdb.XRange(ctx, d.streamName, id, id).Result()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid dead letter id %q", id))
	}
	if len(messages) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("dead letter %s not found", id))
	}
	return d.decode(messages[0])
}

func (d *DeadLetterQueue) Delete(ctx context.Context, id string) error {
	count, err := d.client.rdb.XDel(ctx, d.streamName, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}
	if count == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("dead letter %s not found", id))
	}
	return nil
}

func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.rdb.XLen(ctx, d.streamName).Result()
}

// Retry re-enqueues the original job with its attempts reset and removes the entry.
func (d *DeadLetterQueue) Retry(ctx context.Context, id string, streams *Streams, stream string) error {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Retry")
	defer span.End()

	entry, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Job == nil {
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("dead letter %s has no job to retry", id))
	}

	job := *entry.Job
	job.Attempts = 0
	if _, err := streams.Publish(ctx, stream, &job); err != nil {
		return fmt.Errorf("failed to re-enqueue job: %w", err)
	}

	if err := d.Delete(ctx, id); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to delete DLQ entry after retry")
	}

	d.logger.WithContext(ctx).Infof("Retried dead letter %s as job %s", id, job.ID)
	return nil
}

func (d *DeadLetterQueue) decode(msg redis.XMessage) (*models.DeadLetter, error) {
	data, ok := msg.Values[dataField].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DLQ entry format")
	}

	var entry models.DeadLetter
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	entry.ID = msg.ID
	return &entry, nil
}
