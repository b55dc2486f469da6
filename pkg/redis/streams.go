package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/models"
)

const dataField = "data"

// StreamMessage is one stream entry. Err is set when the entry does not decode
// into a job, so callers can dead-letter it instead of retrying forever.
type StreamMessage struct {
	ID     string
	Stream string
	Job    *models.Job
	Err    error
}

// Streams provides Redis Streams operations for job queues
type Streams struct {
	client *Client
}

func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish appends a job to a stream, assigning an id and timestamp when missing.
func (s *Streams) Publish(ctx context.Context, stream string, job *models.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	messageID, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			dataField: string(payload),
			"kind":    job.Kind,
		},
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).Debugf("Published job %s (%s) to stream %s as %s", job.ID, job.Kind, stream, messageID)
	return messageID, nil
}

// CreateConsumerGroup creates the group and the stream if needed. An existing group is not an error.
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads new entries for the consumer. A block timeout with nothing to read returns no messages.
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		for _, msg := range result.Messages {
			messages = append(messages, decode(result.Stream, msg))
		}
	}
	return messages, nil
}

func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Pending lists delivered but unacknowledged entries with their idle time and delivery count.
func (s *Streams) Pending(ctx context.Context, stream, group string, count int64) ([]redis.XPendingExt, error) {
	return s.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// Claim takes over entries that have been idle for at least minIdle.
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	results, err := s.client.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(results))
	for _, msg := range results {
		messages = append(messages, decode(stream, msg))
	}
	return messages, nil
}

// Get reads a single entry by id. A missing entry is (nil, nil).
func (s *Streams) Get(ctx context.Context, stream, id string) (*StreamMessage, error) {
	results, err := s.client.rdb.XRange(ctx, stream, id, id).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	msg := decode(stream, results[0])
	return &msg, nil
}

func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}

func decode(stream string, msg redis.XMessage) StreamMessage {
	out := StreamMessage{ID: msg.ID, Stream: stream}

	data, ok := msg.Values[dataField].(string)
	if !ok {
		out.Err = fmt.Errorf("stream entry %s has no %s field", msg.ID, dataField)
		return out
	}

	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		out.Err = fmt.Errorf("failed to unmarshal job %s: %w", msg.ID, err)
		return out
	}
	out.Job = &job
	return out
}
