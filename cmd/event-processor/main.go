// Package main is the entrypoint for the event-processor Lambda function.
//
// The event processor consumes compliance-relevant platform events from the
// event bus, classifies them, and dispatches each to its workflow,
// compliance-check function, or the violation escalation path. Dispatch
// failures after retries are recorded on the event's history row and
// forwarded to the dead-letter queue; the handler itself always returns
// success so the bus does not redeliver.
//
// Cold start:
//  1. Load configuration and initialize the structured logger.
//  2. Load AWS SDK configuration and construct service clients.
//  3. Connect the metadata/history database pool.
//  4. Build the resilience layer, dispatcher, escalator, and router.
//  5. Register the handler with lambda.Start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"guardpoint/internal/config"
	"guardpoint/internal/db"
	"guardpoint/internal/dispatch"
	"guardpoint/internal/eventbus"
	"guardpoint/internal/events"
	"guardpoint/internal/metrics"
	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Warn, and Error directly, but its With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Handler holds the dependencies for the event-processor Lambda handler.
type Handler struct {
	router *events.Router
	logger types.Logger
}

// HandleEvent processes one bus-delivered event. It never returns an error:
// failures are recorded and dead-lettered by the router, and surfacing them
// here would only trigger duplicate redelivery.
func (h *Handler) HandleEvent(ctx context.Context, event awsevents.CloudWatchEvent) error {
	raw := types.PlatformEvent{
		Source:     event.Source,
		DetailType: event.DetailType,
		Detail:     event.Detail,
		Time:       event.Time,
	}

	outcome := h.router.RouteAsync(ctx, raw)
	h.logger.With("source", event.Source).Info("event processed",
		"event_id", outcome.EventID,
		"event_type", outcome.EventType,
		"status", outcome.Status,
	)
	return nil
}

func main() {
	handler, err := buildHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	lambda.Start(handler.HandleEvent)
}

func buildHandler(ctx context.Context) (*Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "event-processor")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	endpoint := cfg.AWS.EndpointURL
	sfnClient := sfn.NewFromConfig(awsCfg, func(o *sfn.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	lambdaClient := awslambda.NewFromConfig(awsCfg, func(o *awslambda.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	stsClient := sts.NewFromConfig(awsCfg, func(o *sts.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	breakerSettings := resilience.DefaultBreakerSettings()
	breakerSettings.FailureThreshold = cfg.Resilience.BreakerThreshold
	breakerSettings.RecoveryTimeout = cfg.Resilience.BreakerRecoveryTimeout
	res := resilience.NewContext(breakerSettings, logger)
	retry := resilience.NewRetryer(resilience.RetryPolicy{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   cfg.Resilience.RetryBaseDelay,
		MaxDelay:    cfg.Resilience.RetryMaxDelay,
		Multiplier:  2.0,
		Jitter:      true,
	})

	resolver := dispatch.NewResolver(stsClient, res, retry, cfg.AWS.Region, cfg.AWS.AccountOverride, logger)
	dispatcher := dispatch.NewDispatcher(sfnClient, lambdaClient, snsClient, resolver, res, retry, logger)

	eventRepo := db.NewComplianceEventRepository(pool)
	recorder := metrics.NewRecorder(cwClient, cfg.Events.MetricNamespace, logger)

	var dlq events.DeadLetterForwarder
	if cfg.Events.DLQUrl != "" {
		dlq = eventbus.NewDeadLetterQueue(sqsClient, cfg.Events.DLQUrl, logger)
	}

	escalator := events.NewEscalator(dispatcher, dispatcher, cfg.Events.NotificationTopic, logger)
	router := events.NewRouter(dispatcher, dispatcher, escalator, eventRepo, dlq, recorder, logger)

	return &Handler{router: router, logger: &slogAdapter{logger: logger}}, nil
}
