package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebTypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

type mockEventBridge struct {
	input  *eventbridge.PutEventsInput
	output *eventbridge.PutEventsOutput
	err    error
	calls  int
}

func (m *mockEventBridge) PutEvents(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.calls++
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	if m.output != nil {
		return m.output, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

type mockSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (m *mockSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func testPublisher(client EventBridgeClient) *Publisher {
	logger := slog.New(slog.DiscardHandler)
	res := resilience.NewContext(resilience.DefaultBreakerSettings(), logger)
	retry := resilience.NewRetryer(resilience.DefaultRetryPolicy(),
		resilience.WithSleepFunc(func(time.Duration) {}))
	return NewPublisher(client, "compliance-bus", res, retry, logger)
}

func TestPublish(t *testing.T) {
	client := &mockEventBridge{}
	pub := testPublisher(client)

	raw := types.PlatformEvent{
		Source:     "guardpoint.compliance",
		DetailType: "manual-scan",
		Detail:     json.RawMessage(`{"tenantId":"tenant-1"}`),
	}
	require.NoError(t, pub.Publish(context.Background(), raw))

	require.Len(t, client.input.Entries, 1)
	entry := client.input.Entries[0]
	assert.Equal(t, "guardpoint.compliance", *entry.Source)
	assert.Equal(t, "manual-scan", *entry.DetailType)
	assert.Equal(t, `{"tenantId":"tenant-1"}`, *entry.Detail)
	assert.Equal(t, "compliance-bus", *entry.EventBusName)
}

func TestPublishPartialFailure(t *testing.T) {
	client := &mockEventBridge{
		output: &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries: []ebTypes.PutEventsResultEntry{
				{ErrorMessage: aws.String("throttled")},
			},
		},
	}
	pub := testPublisher(client)

	err := pub.Publish(context.Background(), types.PlatformEvent{Source: "s", DetailType: "t"})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEventBus, appErr.Code)
	// Upstream failures are retried.
	assert.Equal(t, 3, client.calls)
}

func TestDLQForward(t *testing.T) {
	client := &mockSQS{}
	dlq := NewDeadLetterQueue(client, "https://sqs.us-east-1.amazonaws.com/123456789012/guardpoint-dlq", slog.New(slog.DiscardHandler))
	dlq.nowFn = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	raw := types.PlatformEvent{
		Source:     "aws.s3",
		DetailType: "Bucket Created",
		Detail:     json.RawMessage(`{"tenantId":"tenant-1"}`),
	}
	require.NoError(t, dlq.Forward(context.Background(), raw, "function unavailable"))

	require.NotNil(t, client.input)
	assert.Contains(t, *client.input.QueueUrl, "guardpoint-dlq")

	var envelope deadLetterEnvelope
	require.NoError(t, json.Unmarshal([]byte(*client.input.MessageBody), &envelope))
	assert.Equal(t, "aws.s3", envelope.Event.Source)
	assert.Equal(t, "function unavailable", envelope.Reason)
	assert.Equal(t, "aws.s3", *client.input.MessageAttributes["source"].StringValue)
}

func TestDLQForwardSendFailure(t *testing.T) {
	client := &mockSQS{err: errors.New("queue gone")}
	dlq := NewDeadLetterQueue(client, "https://example/queue", slog.New(slog.DiscardHandler))

	err := dlq.Forward(context.Background(), types.PlatformEvent{Source: "s"}, "reason")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEventBus, appErr.Code)
}
