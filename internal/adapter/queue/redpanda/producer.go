// Package redpanda provides Redpanda/Kafka queue integration.
//
// It publishes extraction jobs from the API process and consumes them in
// worker processes, so uploads are never blocked by extraction work.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

const (
	// TopicExtract is the Kafka topic for extraction jobs.
	TopicExtract = "extract-jobs"

	extractPartitions        = int32(8)
	extractReplicationFactor = int16(1)
)

// Producer wraps a Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer constructs a Producer publishing to the default extraction topic.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTopic(brokers, TopicExtract)
}

// NewProducerWithTopic constructs a Producer publishing to a specific topic.
// Tests use unique topics for isolation.
func NewProducerWithTopic(brokers []string, topic string) (*Producer, error) {
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.WithHooks(kotelService.Hooks()...),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create redpanda client", slog.Any("error", err))
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, topic, extractPartitions, extractReplicationFactor); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}

	return &Producer{client: client, topic: topic}, nil
}

// EnqueueExtract publishes an extraction task and returns the task id.
// Records are keyed by document id so retries for one document stay ordered.
func (p *Producer) EnqueueExtract(ctx domain.Context, payload domain.ExtractTaskPayload) (string, error) {
	if payload.DocumentID == "" {
		return "", fmt.Errorf("op=queue.enqueue_extract: %w: missing document id", domain.ErrInvalidArgument)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue_extract: marshal payload: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(payload.DocumentID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "document_id", Value: []byte(payload.DocumentID)},
			{Key: "business_id", Value: []byte(payload.BusinessID)},
			{Key: "category", Value: []byte(payload.Category)},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		slog.Error("failed to produce message",
			slog.String("document_id", payload.DocumentID),
			slog.String("topic", p.topic),
			slog.Any("error", err))
		return "", fmt.Errorf("op=queue.enqueue_extract: produce: %w", err)
	}

	observability.EnqueueJob("extract")
	slog.Info("extraction task enqueued",
		slog.String("topic", p.topic),
		slog.String("document_id", payload.DocumentID))
	return payload.DocumentID, nil
}

// Client exposes the underlying kgo client, used by readiness checks.
func (p *Producer) Client() *kgo.Client {
	if p == nil {
		return nil
	}
	return p.client
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
