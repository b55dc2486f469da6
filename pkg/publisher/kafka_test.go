package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestNewProducer_NoBrokersDisables(t *testing.T) {
	assert.Nil(t, NewProducer(Config{Brokers: []string{""}, Topic: "t"}, testLogger()))
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092", "c:9092"}, ParseBrokers([]string{"a:9092, b:9092", " c:9092 ", ""}))
}

func TestPublishObjectEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "fern.objects", testLogger())

	err := p.PublishObjectEvent(context.Background(), models.ObjectEvent{
		EventType:    models.ObjectEventCreated,
		ObjectID:     "obj-1",
		Provider:     "github",
		ExternalID:   "42",
		ConnectionID: "c1",
		Type:         "issue",
		CanonicalURL: "/item/obj-1",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "github:42", string(msg.Key))

	var evt models.ObjectEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, models.ObjectEventCreated, evt.EventType)
	assert.False(t, evt.Timestamp.IsZero())

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "object.created", headers["event_type"])
	assert.Equal(t, "c1", headers["connection_id"])
}

func TestPublishObjectEvent_Error(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "fern.objects", testLogger())
	assert.Error(t, p.PublishObjectEvent(context.Background(), models.ObjectEvent{Provider: "github"}))
}
