// Package metrics records operational metrics to CloudWatch. Recording is
// fire-and-forget: a metrics failure is logged and never propagated into the
// operation being measured.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the metric API for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder emits metrics under a fixed namespace.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewRecorder creates a Recorder for the given namespace.
func NewRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{client: client, namespace: namespace, logger: logger, nowFn: time.Now}
}

// RecordEventOutcome counts one routed event by type and outcome
// (completed, failed, dropped).
func (r *Recorder) RecordEventOutcome(ctx context.Context, eventType, outcome string) {
	r.put(ctx, cwTypes.MetricDatum{
		MetricName: aws.String("EventsRouted"),
		Value:      aws.Float64(1),
		Unit:       cwTypes.StandardUnitCount,
		Timestamp:  aws.Time(r.nowFn()),
		Dimensions: []cwTypes.Dimension{
			{Name: aws.String("EventType"), Value: aws.String(eventType)},
			{Name: aws.String("Outcome"), Value: aws.String(outcome)},
		},
	})
}

// RecordHTTPRequest records one handled request's latency and status class.
func (r *Recorder) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	dims := []cwTypes.Dimension{
		{Name: aws.String("Method"), Value: aws.String(method)},
		{Name: aws.String("Route"), Value: aws.String(route)},
		{Name: aws.String("StatusClass"), Value: aws.String(statusClass(status))},
	}
	r.put(ctx,
		cwTypes.MetricDatum{
			MetricName: aws.String("RequestCount"),
			Value:      aws.Float64(1),
			Unit:       cwTypes.StandardUnitCount,
			Timestamp:  aws.Time(r.nowFn()),
			Dimensions: dims,
		},
		cwTypes.MetricDatum{
			MetricName: aws.String("RequestLatency"),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwTypes.StandardUnitMilliseconds,
			Timestamp:  aws.Time(r.nowFn()),
			Dimensions: dims,
		},
	)
}

func (r *Recorder) put(ctx context.Context, data ...cwTypes.MetricDatum) {
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		r.logger.Warn("failed to record metrics", "error", err)
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
