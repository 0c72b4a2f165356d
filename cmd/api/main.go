// Package main is the entry point for the Guardpoint API server.
//
// It loads configuration, builds the AWS clients and the resilience layer,
// wires the schedule registry and event plumbing into the HTTP chassis, and
// starts serving.
//
// In local mode (APP_ENV=local) it runs as a standard HTTP server on the
// configured port. Inside AWS Lambda it bridges API Gateway events to the
// chi router via chiadapter.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/jackc/pgx/v5/pgxpool"

	"guardpoint/internal/api/handlers"
	"guardpoint/internal/config"
	"guardpoint/internal/core"
	"guardpoint/internal/db"
	"guardpoint/internal/dispatch"
	"guardpoint/internal/eventbus"
	"guardpoint/internal/events"
	"guardpoint/internal/metrics"
	"guardpoint/internal/resilience"
	gpscheduler "guardpoint/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("guardpoint API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	srv, err := buildServer(cfg, awsCfg, pool, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("building server: %w", err)
	}

	srv.MountRoutes()

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the full dependency graph into the HTTP chassis.
func buildServer(cfg *config.Config, awsCfg aws.Config, pool *pgxpool.Pool, logger *slog.Logger) (*core.Server, error) {
	endpoint := cfg.AWS.EndpointURL

	schedulerClient := scheduler.NewFromConfig(awsCfg, func(o *scheduler.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
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
	ebClient := eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
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

	metaRepo := db.NewScheduleMetaRepository(pool)
	eventRepo := db.NewComplianceEventRepository(pool)

	registry := gpscheduler.NewRegistry(schedulerClient, metaRepo, resolver, res, retry, cfg.Scheduler, logger)

	recorder := metrics.NewRecorder(cwClient, cfg.Events.MetricNamespace, logger)
	publisher := eventbus.NewPublisher(ebClient, cfg.Events.BusName, res, retry, logger)

	var dlq events.DeadLetterForwarder
	if cfg.Events.DLQUrl != "" {
		dlq = eventbus.NewDeadLetterQueue(sqsClient, cfg.Events.DLQUrl, logger)
	}

	escalator := events.NewEscalator(dispatcher, dispatcher, cfg.Events.NotificationTopic, logger)
	router := events.NewRouter(dispatcher, dispatcher, escalator, eventRepo, dlq, recorder, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = recorder

	scheduleHandler := handlers.NewScheduleHandler(registry, srv.Validator, logger)
	eventHandler := handlers.NewEventHandler(publisher, router, eventRepo, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		scheduleHandler.RegisterRoutes,
		eventHandler.RegisterRoutes,
	)

	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}

	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	return srv, nil
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda bridges API Gateway proxy events to the chi router.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	adapter := chiadapter.New(srv.Router())
	lambda.Start(adapter.ProxyWithContext)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
