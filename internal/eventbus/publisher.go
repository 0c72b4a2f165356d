// Package eventbus publishes platform events to the shared event bus and
// forwards undeliverable events to the dead-letter queue.
package eventbus

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebTypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

// EventBridgeClient abstracts the event bus API for testability.
type EventBridgeClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher puts events on the configured bus. Used by the manual trigger
// endpoint so externally injected events travel the same path as
// platform-originated ones.
type Publisher struct {
	client  EventBridgeClient
	busName string
	res     *resilience.Context
	retry   *resilience.Retryer
	logger  *slog.Logger
}

// NewPublisher creates a Publisher for the named bus.
func NewPublisher(client EventBridgeClient, busName string, res *resilience.Context, retry *resilience.Retryer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, busName: busName, res: res, retry: retry, logger: logger}
}

// Publish puts one event on the bus through the resilience layer.
func (p *Publisher) Publish(ctx context.Context, raw types.PlatformEvent) error {
	entry := ebTypes.PutEventsRequestEntry{
		Source:       aws.String(raw.Source),
		DetailType:   aws.String(raw.DetailType),
		Detail:       aws.String(string(raw.Detail)),
		EventBusName: aws.String(p.busName),
	}
	if !raw.Time.IsZero() {
		entry.Time = aws.Time(raw.Time)
	}

	err := p.retry.Do(ctx, func(ctx context.Context) error {
		_, err := p.res.Execute(resilience.DepEventBus, func() (any, error) {
			out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
				Entries: []ebTypes.PutEventsRequestEntry{entry},
			})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamEventBus,
					"event bus publish failed", err)
			}
			// PutEvents reports partial failures in the response body.
			if out.FailedEntryCount > 0 {
				msg := "event bus rejected entry"
				if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
					msg = *out.Entries[0].ErrorMessage
				}
				return nil, types.NewAppError(types.ErrCodeUpstreamEventBus, msg, nil)
			}
			return out, nil
		})
		return err
	})
	if err != nil {
		return err
	}

	p.logger.Info("event published",
		"source", raw.Source, "detail_type", raw.DetailType, "bus", p.busName)
	return nil
}
