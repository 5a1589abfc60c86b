// Package kafkabridge mirrors progress-bus events, including terminal ones,
// onto a Kafka topic for external tee-observers. It is strictly best-effort: SSE delivery
// to API callers never depends on Kafka being reachable.
package kafkabridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer our mirror needs, kept narrow so
// tests can substitute a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewProducerFromBrokers creates a new Kafka producer (Writer) from a
// comma-separated list of broker addresses.
func NewProducerFromBrokers(brokers string) (Writer, error) {
	if brokers = strings.TrimSpace(brokers); brokers == "" {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i, b := range brokerList {
		brokerList[i] = strings.TrimSpace(b)
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(brokerList...),
		Balancer: &kafka.LeastBytes{},
	}

	return w, nil
}
