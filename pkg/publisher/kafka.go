package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers     []string
	Topic       string
	Compression string
}

// ParseBrokers splits a comma-separated broker string, dropping blanks.
func ParseBrokers(brokers []string) []string {
	var out []string
	for _, b := range brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes object change events downstream.
type Producer struct {
	writer messageWriter
	topic  string
	logger ectologger.Logger
}

// NewProducer returns nil when no brokers are configured.
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	brokers := ParseBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  compression(cfg.Compression),
		// dev clusters may not have the topic yet
		AllowAutoTopicCreation: true,
	}

	return newProducer(writer, cfg.Topic, logger)
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

func compression(name string) kafka.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "snappy":
		return kafka.Snappy
	default:
		return 0
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishObjectEvent writes one event keyed by provider and external id, so every
// event for an object lands on the same partition in order.
func (p *Producer) PublishObjectEvent(ctx context.Context, evt models.ObjectEvent) error {
	ctx, span := tracing.StartSpan(ctx, "publisher.Producer.PublishObjectEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event_type", string(evt.EventType)),
		attribute.String("provider", evt.Provider),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal object event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(evt.EventType)},
		{Key: "provider", Value: []byte(evt.Provider)},
		{Key: "connection_id", Value: []byte(evt.ConnectionID)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.Provider + ":" + evt.ExternalID),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start))
	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published %s for object %s", evt.EventType, evt.ObjectID)
	return nil
}
