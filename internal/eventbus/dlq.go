package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"guardpoint/internal/types"
)

// SQSSender abstracts the queue send API for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// deadLetterEnvelope wraps the undeliverable event with its failure reason
// so operators can replay it later.
type deadLetterEnvelope struct {
	Event       types.PlatformEvent `json:"event"`
	Reason      string              `json:"reason"`
	ForwardedAt time.Time           `json:"forwardedAt"`
}

// DeadLetterQueue forwards events whose dispatch failed after retries.
// Forwarding is deliberately direct: no circuit breaker, since it already
// runs on the failure path and suppressing it would lose the event.
type DeadLetterQueue struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewDeadLetterQueue creates a DeadLetterQueue sending to queueURL.
func NewDeadLetterQueue(client SQSSender, queueURL string, logger *slog.Logger) *DeadLetterQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterQueue{client: client, queueURL: queueURL, logger: logger, nowFn: time.Now}
}

// Forward sends the raw event and its failure reason to the queue.
func (q *DeadLetterQueue) Forward(ctx context.Context, raw types.PlatformEvent, reason string) error {
	body, err := json.Marshal(deadLetterEnvelope{
		Event:       raw,
		Reason:      reason,
		ForwardedAt: q.nowFn().UTC(),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize dead-letter envelope", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(raw.Source),
			},
			"detailType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(raw.DetailType),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEventBus,
			"dead-letter forward failed", err)
	}

	q.logger.Info("event forwarded to dead-letter queue",
		"source", raw.Source, "detail_type", raw.DetailType, "reason", reason)
	return nil
}
