package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdaTypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

type mockSTS struct {
	account string
	err     error
	calls   int
}

func (m *mockSTS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(m.account)}, nil
}

type mockSFN struct {
	input *sfn.StartExecutionInput
	err   error
	calls int
}

func (m *mockSFN) StartExecution(_ context.Context, params *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	m.calls++
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sfn.StartExecutionOutput{
		ExecutionArn: aws.String("arn:aws:states:us-east-1:123456789012:execution:check:run-1"),
	}, nil
}

type mockLambda struct {
	input *lambda.InvokeInput
	err   error
	calls int
}

func (m *mockLambda) Invoke(_ context.Context, params *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	m.calls++
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}

type mockSNS struct {
	input *sns.PublishInput
	err   error
	calls int
}

func (m *mockSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls++
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func testRetryer() *resilience.Retryer {
	return resilience.NewRetryer(resilience.DefaultRetryPolicy(),
		resilience.WithSleepFunc(func(time.Duration) {}))
}

func testResolver(stsClient STSClient, accountOverride string) *Resolver {
	logger := slog.New(slog.DiscardHandler)
	res := resilience.NewContext(resilience.DefaultBreakerSettings(), logger)
	r := NewResolver(stsClient, res, testRetryer(), "us-east-1", accountOverride, logger)
	r.nowFn = func() time.Time { return time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC) }
	return r
}

func TestResolveWorkflowTarget(t *testing.T) {
	r := testResolver(nil, "123456789012")

	inv, err := r.Resolve(context.Background(),
		types.Target{Type: types.TargetWorkflow, WorkflowName: "storage-bucket-check"},
		"tenant-1", "storage-audit", "sched-1", map[string]string{"region": "us-east-1"})
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:states:us-east-1:123456789012:stateMachine:storage-bucket-check", inv.TargetARN)

	var input workflowInput
	require.NoError(t, json.Unmarshal(inv.Payload, &input))
	assert.Equal(t, "tenant-1", input.TenantID)
	assert.Equal(t, "storage-audit", input.WorkflowType)
	assert.Equal(t, map[string]string{"region": "us-east-1"}, input.Parameters)
	assert.True(t, input.Metadata.ScheduledExecution)
	assert.Equal(t, "sched-1", input.Metadata.ScheduleID)
	assert.Equal(t, time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC), input.Metadata.TriggeredAt)
}

func TestResolveFunctionTarget(t *testing.T) {
	r := testResolver(nil, "123456789012")

	inv, err := r.Resolve(context.Background(),
		types.Target{Type: types.TargetFunction, FunctionName: "drift-detector"},
		"tenant-1", "config-drift", "sched-2", nil)
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:drift-detector", inv.TargetARN)

	var payload functionPayload
	require.NoError(t, json.Unmarshal(inv.Payload, &payload))
	assert.Equal(t, "tenant-1", payload.TenantID)
	assert.Equal(t, "config-drift", payload.ScheduleType)
	assert.True(t, payload.Metadata.ScheduledExecution)
}

func TestResolveTopicTarget(t *testing.T) {
	r := testResolver(nil, "123456789012")

	inv, err := r.Resolve(context.Background(),
		types.Target{Type: types.TargetTopic, TopicName: "compliance-alerts"},
		"tenant-1", "weekly-report", "sched-3", nil)
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:compliance-alerts", inv.TargetARN)

	var msg topicMessage
	require.NoError(t, json.Unmarshal(inv.Payload, &msg))
	assert.Equal(t, "weekly-report", msg.ScheduleType)
	assert.False(t, msg.TriggeredAt.IsZero())
}

func TestResolveUnsupportedTarget(t *testing.T) {
	stsClient := &mockSTS{account: "123456789012"}
	r := testResolver(stsClient, "")

	cases := []types.Target{
		{Type: types.TargetWorkflow},
		{Type: "queue", FunctionName: "x"},
		{Type: types.TargetWorkflow, WorkflowName: "a", TopicName: "b"},
		{Type: types.TargetTopic, FunctionName: "drift-detector"},
	}
	for _, target := range cases {
		_, err := r.Resolve(context.Background(), target, "tenant-1", "audit", "sched-1", nil)
		require.Error(t, err)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeUnsupportedTarget, appErr.Code)
	}
	// Malformed targets never reach the identity service.
	assert.Zero(t, stsClient.calls)
}

func TestResolverCachesAccountID(t *testing.T) {
	stsClient := &mockSTS{account: "999888777666"}
	r := testResolver(stsClient, "")

	for i := 0; i < 3; i++ {
		arn, err := r.WorkflowARN(context.Background(), "audit")
		require.NoError(t, err)
		assert.Equal(t, "arn:aws:states:us-east-1:999888777666:stateMachine:audit", arn)
	}
	assert.Equal(t, 1, stsClient.calls)
}

func TestResolverAccountOverrideSkipsLookup(t *testing.T) {
	stsClient := &mockSTS{err: errors.New("should not be called")}
	r := testResolver(stsClient, "123456789012")

	arn, err := r.TopicARN(context.Background(), "alerts")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:alerts", arn)
	assert.Zero(t, stsClient.calls)
}

func TestResolverIdentityLookupRetried(t *testing.T) {
	stsClient := &mockSTS{err: errors.New("throttled")}
	r := testResolver(stsClient, "")

	_, err := r.FunctionARN(context.Background(), "detector")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamIdentity, appErr.Code)
	assert.Equal(t, resilience.DefaultRetryPolicy().MaxAttempts, stsClient.calls)
}

func testDispatcher(sfnClient SFNClient, lambdaClient LambdaClient, snsClient SNSClient) *Dispatcher {
	logger := slog.New(slog.DiscardHandler)
	res := resilience.NewContext(resilience.DefaultBreakerSettings(), logger)
	retry := testRetryer()
	resolver := NewResolver(nil, res, retry, "us-east-1", "123456789012", logger)
	return NewDispatcher(sfnClient, lambdaClient, snsClient, resolver, res, retry, logger)
}

func TestStartWorkflow(t *testing.T) {
	sfnClient := &mockSFN{}
	d := testDispatcher(sfnClient, nil, nil)

	arn, err := d.StartWorkflow(context.Background(), "incident-response",
		map[string]string{"tenantId": "tenant-1"})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:states:us-east-1:123456789012:execution:check:run-1", arn)

	require.NotNil(t, sfnClient.input)
	assert.Equal(t, "arn:aws:states:us-east-1:123456789012:stateMachine:incident-response",
		aws.ToString(sfnClient.input.StateMachineArn))
	assert.True(t, strings.HasPrefix(aws.ToString(sfnClient.input.Name), "incident-response-"))
	assert.JSONEq(t, `{"tenantId":"tenant-1"}`, aws.ToString(sfnClient.input.Input))
}

func TestStartWorkflowUpstreamFailureRetried(t *testing.T) {
	sfnClient := &mockSFN{err: errors.New("throttled")}
	d := testDispatcher(sfnClient, nil, nil)

	_, err := d.StartWorkflow(context.Background(), "incident-response", nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamWorkflow, appErr.Code)
	assert.Equal(t, resilience.DefaultRetryPolicy().MaxAttempts, sfnClient.calls)
}

func TestInvokeFunctionIsAsync(t *testing.T) {
	lambdaClient := &mockLambda{}
	d := testDispatcher(nil, lambdaClient, nil)

	err := d.InvokeFunction(context.Background(), "drift-detector",
		map[string]string{"tenantId": "tenant-1"})
	require.NoError(t, err)

	require.NotNil(t, lambdaClient.input)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:drift-detector",
		aws.ToString(lambdaClient.input.FunctionName))
	assert.Equal(t, lambdaTypes.InvocationTypeEvent, lambdaClient.input.InvocationType)
	assert.JSONEq(t, `{"tenantId":"tenant-1"}`, string(lambdaClient.input.Payload))
}

func TestInvokeFunctionFailure(t *testing.T) {
	lambdaClient := &mockLambda{err: errors.New("function missing")}
	d := testDispatcher(nil, lambdaClient, nil)

	err := d.InvokeFunction(context.Background(), "drift-detector", nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamFunction, appErr.Code)
}

func TestPublishToTopic(t *testing.T) {
	snsClient := &mockSNS{}
	d := testDispatcher(nil, nil, snsClient)

	err := d.PublishToTopic(context.Background(), "compliance-alerts",
		"Compliance Violation Detected - CRITICAL", "public bucket found")
	require.NoError(t, err)

	require.NotNil(t, snsClient.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:compliance-alerts",
		aws.ToString(snsClient.input.TopicArn))
	assert.Equal(t, "Compliance Violation Detected - CRITICAL", aws.ToString(snsClient.input.Subject))
	assert.Equal(t, "public bucket found", aws.ToString(snsClient.input.Message))
}

func TestPublishToTopicFailure(t *testing.T) {
	snsClient := &mockSNS{err: errors.New("topic gone")}
	d := testDispatcher(nil, nil, snsClient)

	err := d.PublishToTopic(context.Background(), "compliance-alerts", "subject", "message")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamNotification, appErr.Code)
	assert.Equal(t, resilience.DefaultRetryPolicy().MaxAttempts, snsClient.calls)
}
