package kafkabridge

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Mirror publishes a coarse copy of progress events to Kafka, keyed by
// request id, for external observers that want a durable record of
// ingestion/clustering runs. A nil Mirror (or one with a nil writer) is a
// documented no-op so components never need to branch on whether mirroring
// is configured.
type Mirror struct {
	writer Writer
	topic  string
}

// NewMirror wraps a Writer. writer may be nil, in which case Publish is a
// no-op — this lets callers construct a Mirror unconditionally from config.
func NewMirror(writer Writer, topic string) *Mirror {
	return &Mirror{writer: writer, topic: topic}
}

// Publish mirrors a single event. Failures are logged and swallowed: a
// Kafka outage must never break SSE delivery to the caller that is
// actually waiting on the request id.
func (m *Mirror) Publish(ctx context.Context, requestID string, event any) {
	if m == nil || m.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("kafkabridge_marshal_failed")
		return
	}
	err = m.writer.WriteMessages(ctx, kafka.Message{
		Topic: m.topic,
		Key:   []byte(requestID),
		Value: payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("kafkabridge_publish_failed")
	}
}

// Close releases the underlying writer, if any.
func (m *Mirror) Close() error {
	if m == nil || m.writer == nil {
		return nil
	}
	return m.writer.Close()
}
