// Package kafka publishes audit records to a Kafka topic. Each Append is a
// synchronous produce acknowledged by all in-sync replicas, so a record is
// durable once Append returns, independent of any database transaction.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "paycore/pkg/platform/audit"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "paycore.audit"

// Header keys carrying structured fields, so consumers can route without
// decoding the payload.
const (
	HeaderEventType  = "event_type"
	HeaderEntityType = "entity_type"
)

// Producer is the subset of *kgo.Client used by the store.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store is a write-only audit sink.
type Store struct {
	producer Producer
	topic    string
}

// New creates a Kafka audit sink publishing to topic.
func New(producer Producer, topic string) *Store {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Store{producer: producer, topic: topic}
}

// NewClient builds a franz-go client suitable for the audit sink.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka audit sink requires at least one broker")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Payload is the JSON value of each audit message.
type Payload struct {
	ID         string `json:"id"`
	EventType  string `json:"event_type"`
	Message    string `json:"message"`
	EntityType string `json:"entity_type"`
	EntityID   *int64 `json:"entity_id,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Append produces record and waits for the broker acknowledgement. Messages are
// keyed by entity so one employee's records stay ordered within a partition.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	payload, err := json.Marshal(Payload{
		ID:         record.ID.String(),
		EventType:  string(record.EventType),
		Message:    record.Message,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		Timestamp:  record.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	msg := &kgo.Record{
		Topic:     s.topic,
		Key:       messageKey(record),
		Value:     payload,
		Timestamp: record.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(record.EventType)},
			{Key: HeaderEntityType, Value: []byte(record.EntityType)},
		},
	}
	if err := s.producer.ProduceSync(ctx, msg).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

func messageKey(record audit.Record) []byte {
	if record.EntityID == nil {
		return []byte(record.EntityType)
	}
	return []byte(record.EntityType + ":" + strconv.FormatInt(*record.EntityID, 10))
}
