package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// producer is the subset of *kgo.Client used for publishing
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher produces committed entries to a Kafka topic, keyed by record id
// so every change to one row lands on the same partition in order
type KafkaPublisher struct {
	client producer
	topic  string
}

// KafkaOptions configures the Kafka producer
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewKafkaPublisher creates a franz-go backed publisher
func NewKafkaPublisher(o KafkaOptions) (*KafkaPublisher, error) {
	if len(o.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if o.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(o.Brokers...),
		kgo.DefaultProduceTopic(o.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if o.ClientID != "" {
		opts = append(opts, kgo.ClientID(o.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: o.Topic}, nil
}

// Publish produces entries synchronously and returns the first failure
func (p *KafkaPublisher) Publish(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(e.RecordID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "table_name", Value: []byte(e.TableName)},
				{Key: "action", Value: []byte(e.Action)},
			},
		})
	}

	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client
func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
