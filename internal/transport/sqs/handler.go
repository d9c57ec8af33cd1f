// Package sqs adapts SQS-triggered Lambda invocations to the batch ingestor.
package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain/batch"
	"github.com/kailas-cloud/vecdex-ingest/internal/domain/message"
	"github.com/kailas-cloud/vecdex-ingest/internal/logger"
)

// BatchProcessor ingests one batch of queue messages.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []message.Raw) (batch.Report, error)
}

// Handler is the Lambda handler for SQS events.
type Handler struct {
	proc           BatchProcessor
	logger         *zap.Logger
	reportFailures bool
}

// NewHandler creates a Handler. With reportFailures set, failed records are returned as
// batchItemFailures so SQS redelivers only those; otherwise they are logged and dropped.
func NewHandler(proc BatchProcessor, log *zap.Logger, reportFailures bool) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{proc: proc, logger: log, reportFailures: reportFailures}
}

// Handle processes one SQS batch. A returned error hands the whole batch back to the queue.
func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	log := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.With(zap.String("aws_request_id", lc.AwsRequestID))
	}
	ctx = logger.ContextWithLogger(ctx, log)

	report, err := h.proc.ProcessBatch(ctx, ToMessages(ev))
	if err != nil {
		return events.SQSEventResponse{}, fmt.Errorf("process batch %s: %w", report.BatchID, err)
	}

	if !h.reportFailures {
		return events.SQSEventResponse{}, nil
	}
	return Response(report), nil
}

// ToMessages converts SQS records to queue messages.
func ToMessages(ev events.SQSEvent) []message.Raw {
	msgs := make([]message.Raw, len(ev.Records))
	for i, r := range ev.Records {
		msgs[i] = message.Raw{ID: r.MessageId, Body: []byte(r.Body)}
	}
	return msgs
}

// Response lists every failed record as a batch item failure.
func Response(report batch.Report) events.SQSEventResponse {
	refs := report.FailedRefs()
	if len(refs) == 0 {
		return events.SQSEventResponse{}
	}
	failures := make([]events.SQSBatchItemFailure, len(refs))
	for i, ref := range refs {
		failures[i] = events.SQSBatchItemFailure{ItemIdentifier: ref}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}
