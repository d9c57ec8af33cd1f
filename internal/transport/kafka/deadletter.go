package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
)

// DeadLetterMessage is the JSON value of a dead-letter record.
type DeadLetterMessage struct {
	BatchID    string    `json:"batch_id"`
	MessageID  string    `json:"message_id"`
	DocumentID string    `json:"document_id,omitempty"`
	ErrorKind  string    `json:"error_kind"`
	Error      string    `json:"error"`
	Payload    []byte    `json:"payload"` // original message body, base64 in JSON
	FailedAt   time.Time `json:"failed_at"`
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// DeadLetterConfig holds dead-letter publisher settings.
type DeadLetterConfig struct {
	Brokers []string
	Topic   string
}

// DeadLetterPublisher publishes failed records to a dead-letter topic.
type DeadLetterPublisher struct {
	client producer
	topic  string
	now    func() time.Time
}

// NewDeadLetterPublisher creates a publisher with all-ISR acks.
func NewDeadLetterPublisher(cfg DeadLetterConfig) (*DeadLetterPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("dead-letter topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		// Dead letters should never be lost
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dead-letter kafka client: %w", err)
	}
	return newDeadLetterPublisher(client, cfg.Topic), nil
}

func newDeadLetterPublisher(client producer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{client: client, topic: topic, now: time.Now}
}

// Publish writes one record per failure, keyed by message id.
func (p *DeadLetterPublisher) Publish(ctx context.Context, batchID string, failures []batch.Failure) error {
	if len(failures) == 0 {
		return nil
	}

	now := p.now().UTC()
	records := make([]*kgo.Record, 0, len(failures))
	for _, f := range failures {
		msg := DeadLetterMessage{
			BatchID:    batchID,
			MessageID:  f.Ref,
			DocumentID: f.DocumentID,
			ErrorKind:  string(f.Kind),
			Payload:    f.Body,
			FailedAt:   now,
		}
		if f.Err != nil {
			msg.Error = f.Err.Error()
		}

		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal dead letter %s: %w", f.Ref, err)
		}
		records = append(records, &kgo.Record{Topic: p.topic, Key: []byte(f.Ref), Value: value})
	}

	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish %d dead letters: %w", len(records), err)
	}
	return nil
}

// Ping checks broker connectivity.
func (p *DeadLetterPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *DeadLetterPublisher) Close() {
	p.client.Close()
}
