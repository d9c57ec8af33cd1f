// Package kafka consumes message batches from Kafka and publishes dead letters.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/message"
)

// BatchProcessor ingests one batch of queue messages.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []message.Raw) (batch.Report, error)
}

// consumerClient is the subset of *kgo.Client the consumer uses.
type consumerClient interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Ping(ctx context.Context) error
	Close()
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string

	// Offset for a group without committed offsets. Defaults to the end of the topic.
	ConsumeFromStart bool

	SessionTimeout time.Duration
	// MaxPollRecords bounds one poll; ProcessBatch chunks it further.
	MaxPollRecords int
}

// Consumer polls record batches, hands them to the ingestor and commits offsets
// once a batch was processed without a fatal error.
type Consumer struct {
	client  consumerClient
	proc    BatchProcessor
	logger  *zap.Logger
	maxPoll int
}

// NewConsumer creates a group consumer with manual commits.
func NewConsumer(cfg ConsumerConfig, proc BatchProcessor, log *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "vecdex-ingest"
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}

	offset := kgo.NewOffset().AtEnd()
	if cfg.ConsumeFromStart {
		offset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.RebalanceTimeout(60*time.Second),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(5<<20), // 5MB
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return newConsumer(client, proc, log, cfg.MaxPollRecords), nil
}

func newConsumer(client consumerClient, proc BatchProcessor, log *zap.Logger, maxPoll int) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if maxPoll <= 0 {
		maxPoll = 500
	}
	return &Consumer{client: client, proc: proc, logger: log.Named("consumer"), maxPoll: maxPoll}
}

// Run polls until ctx is cancelled or the client is closed. A batch that fails as a
// whole stops the loop with its error and leaves the offsets uncommitted, so the
// group resumes from the last committed offset.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started")
	for {
		fetches := c.client.PollRecords(ctx, c.maxPoll)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			c.logger.Info("Consumer stopped")
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("Kafka fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		if err := c.handle(ctx, records); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, records []*kgo.Record) error {
	msgs := make([]message.Raw, len(records))
	for i, r := range records {
		msgs[i] = message.Raw{ID: RecordRef(r), Body: r.Value}
	}

	report, err := c.proc.ProcessBatch(ctx, msgs)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the batch; it stays uncommitted and is redelivered.
		c.logger.Info("Batch interrupted by shutdown",
			zap.String("batch_id", report.BatchID),
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("process batch %s (%d records): %w", report.BatchID, len(records), err)
	}

	if err := c.client.CommitRecords(ctx, records...); err != nil {
		// Uncommitted records are redelivered; upserts make that harmless.
		c.logger.Warn("Failed to commit offsets",
			zap.String("batch_id", report.BatchID),
			zap.Int("records", len(records)),
			zap.Error(err),
		)
	}
	return nil
}

// Ping checks broker connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}

// RecordRef identifies a record as "<topic>/<partition>/<offset>".
func RecordRef(r *kgo.Record) string {
	return r.Topic + "/" + strconv.FormatInt(int64(r.Partition), 10) + "/" + strconv.FormatInt(r.Offset, 10)
}
