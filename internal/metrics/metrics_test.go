package metrics

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestRecordEventOutcome(t *testing.T) {
	client := &mockCloudWatch{}
	rec := NewRecorder(client, "Guardpoint", slog.New(slog.DiscardHandler))

	rec.RecordEventOutcome(context.Background(), "storage-bucket-check", "completed")

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "Guardpoint", *input.Namespace)
	require.Len(t, input.MetricData, 1)
	assert.Equal(t, "EventsRouted", *input.MetricData[0].MetricName)
	assert.Equal(t, float64(1), *input.MetricData[0].Value)
	assert.Equal(t, "storage-bucket-check", *input.MetricData[0].Dimensions[0].Value)
}

func TestRecordHTTPRequest(t *testing.T) {
	client := &mockCloudWatch{}
	rec := NewRecorder(client, "Guardpoint", slog.New(slog.DiscardHandler))

	rec.RecordHTTPRequest(context.Background(), "POST", "/v1/schedules", 201, 120*time.Millisecond)

	require.Len(t, client.inputs, 1)
	require.Len(t, client.inputs[0].MetricData, 2)
	assert.Equal(t, "RequestCount", *client.inputs[0].MetricData[0].MetricName)
	assert.Equal(t, "RequestLatency", *client.inputs[0].MetricData[1].MetricName)
	assert.Equal(t, float64(120), *client.inputs[0].MetricData[1].Value)
}

func TestRecordFailureSwallowed(t *testing.T) {
	client := &mockCloudWatch{err: errors.New("cloudwatch down")}
	rec := NewRecorder(client, "Guardpoint", slog.New(slog.DiscardHandler))

	// Must not panic or surface the error.
	rec.RecordEventOutcome(context.Background(), "manual-workflow", "failed")
	require.Len(t, client.inputs, 1)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
