package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// Handler processes one extraction task pulled off the queue.
type Handler interface {
	ProcessExtract(ctx domain.Context, payload domain.ExtractTaskPayload) error
}

// Consumer wraps a Kafka consumer group that feeds extraction tasks to a
// Handler with bounded concurrency.
type Consumer struct {
	client         *kgo.Client
	handler        Handler
	groupID        string
	topic          string
	maxConcurrency int
	sem            chan struct{}
	wg             sync.WaitGroup
}

// NewConsumer constructs a Consumer on the default extraction topic.
func NewConsumer(brokers []string, groupID string, handler Handler, maxConcurrency int) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, handler, maxConcurrency, TopicExtract)
}

// NewConsumerWithTopic constructs a Consumer on a specific topic.
// Tests use unique topics for isolation.
func NewConsumerWithTopic(brokers []string, groupID string, handler Handler, maxConcurrency int, topic string) (*Consumer, error) {
	slog.Info("creating redpanda consumer",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic),
		slog.Int("max_concurrency", maxConcurrency))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if handler == nil {
		return nil, fmt.Errorf("missing handler")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), tempClient, topic, extractPartitions, extractReplicationFactor); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
	tempClient.Close()

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),

		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(5 * time.Second),

		// Offsets are committed only for records marked after processing,
		// so a crash mid-record replays it instead of losing it.
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	return &Consumer{
		client:         client,
		handler:        handler,
		groupID:        groupID,
		topic:          topic,
		maxConcurrency: maxConcurrency,
		sem:            make(chan struct{}, maxConcurrency),
	}, nil
}

// Start consumes until the context is cancelled, then drains in-flight work.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting redpanda consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic))

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.processRecord(ctx, record)
			}()
		})
	}

	slog.Info("redpanda consumer shutting down, draining in-flight tasks")
	c.wg.Wait()
	return ctx.Err()
}

// processRecord handles one record. Processing failures are logged and the
// record is still marked: the failure is persisted on the document by the
// handler, so replaying the record would not help.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	var payload domain.ExtractTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		slog.Error("malformed extraction task skipped",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		c.client.MarkCommitRecords(record)
		return
	}

	observability.StartProcessingJob("extract")
	start := time.Now()
	err := c.handler.ProcessExtract(ctx, payload)
	switch {
	case err == nil:
		observability.CompleteJob("extract")
	case errors.Is(err, context.Canceled):
		// Shutdown raced the handler; leave the record unmarked so another
		// worker picks it up.
		observability.FailJob("extract")
		return
	default:
		observability.FailJob("extract")
		slog.Error("extraction task failed",
			slog.String("document_id", payload.DocumentID),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
	}
	c.client.MarkCommitRecords(record)
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
