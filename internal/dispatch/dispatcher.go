package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdaTypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"

	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

// SFNClient abstracts workflow execution for testability.
type SFNClient interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// LambdaClient abstracts direct function invocation for testability.
type LambdaClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// SNSClient abstracts notification publishing for testability.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Dispatcher performs the three black-box downstream effects the platform
// knows: start a workflow execution, invoke a function, publish to a topic.
// Every call is retried per the resilience policy behind its dependency's
// circuit breaker.
type Dispatcher struct {
	sfn      SFNClient
	lambda   LambdaClient
	sns      SNSClient
	resolver *Resolver
	res      *resilience.Context
	retry    *resilience.Retryer
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given clients and resilience
// context.
func NewDispatcher(sfnClient SFNClient, lambdaClient LambdaClient, snsClient SNSClient, resolver *Resolver, res *resilience.Context, retry *resilience.Retryer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sfn:      sfnClient,
		lambda:   lambdaClient,
		sns:      snsClient,
		resolver: resolver,
		res:      res,
		retry:    retry,
		logger:   logger,
	}
}

// Resolver exposes the target resolver for components that need raw ARN
// expansion (e.g., the schedule registry).
func (d *Dispatcher) Resolver() *Resolver {
	return d.resolver
}

// StartWorkflow starts an execution of the named workflow with the given
// input document. Returns the execution identifier.
func (d *Dispatcher) StartWorkflow(ctx context.Context, workflowName string, input any) (string, error) {
	arn, err := d.resolver.WorkflowARN(ctx, workflowName)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(input)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize workflow input", err)
	}

	executionName := fmt.Sprintf("%s-%s", workflowName, uuid.New().String())

	var executionARN string
	err = d.retry.Do(ctx, func(ctx context.Context) error {
		result, err := d.res.Execute(resilience.DepWorkflow, func() (any, error) {
			out, err := d.sfn.StartExecution(ctx, &sfn.StartExecutionInput{
				StateMachineArn: aws.String(arn),
				Name:            aws.String(executionName),
				Input:           aws.String(string(body)),
			})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamWorkflow,
					"workflow execution start failed", err)
			}
			return out, nil
		})
		if err != nil {
			return err
		}
		if out, ok := result.(*sfn.StartExecutionOutput); ok && out.ExecutionArn != nil {
			executionARN = *out.ExecutionArn
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	d.logger.Info("workflow execution started",
		"workflow", workflowName,
		"execution_arn", executionARN,
	)
	return executionARN, nil
}

// InvokeFunction invokes the named function asynchronously with the given
// payload. Asynchronous invocation matches the fire-and-forget contract of
// compliance-check dispatches; the function's own retry/DLQ settings handle
// execution failures.
func (d *Dispatcher) InvokeFunction(ctx context.Context, functionName string, payload any) error {
	arn, err := d.resolver.FunctionARN(ctx, functionName)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize function payload", err)
	}

	err = d.retry.Do(ctx, func(ctx context.Context) error {
		_, err := d.res.Execute(resilience.DepFunction, func() (any, error) {
			out, err := d.lambda.Invoke(ctx, &lambda.InvokeInput{
				FunctionName:   aws.String(arn),
				InvocationType: lambdaTypes.InvocationTypeEvent,
				Payload:        body,
			})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamFunction,
					"function invocation failed", err)
			}
			return out, nil
		})
		return err
	})
	if err != nil {
		return err
	}

	d.logger.Info("function invoked", "function", functionName)
	return nil
}

// PublishToTopic publishes a notification to the named topic.
func (d *Dispatcher) PublishToTopic(ctx context.Context, topicName, subject, message string) error {
	arn, err := d.resolver.TopicARN(ctx, topicName)
	if err != nil {
		return err
	}

	err = d.retry.Do(ctx, func(ctx context.Context) error {
		_, err := d.res.Execute(resilience.DepNotification, func() (any, error) {
			out, err := d.sns.Publish(ctx, &sns.PublishInput{
				TopicArn: aws.String(arn),
				Subject:  aws.String(subject),
				Message:  aws.String(message),
			})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamNotification,
					"notification publish failed", err)
			}
			return out, nil
		})
		return err
	})
	if err != nil {
		return err
	}

	d.logger.Info("notification published",
		"topic", topicName,
		"subject", subject,
		"published_at", time.Now().UTC(),
	)
	return nil
}
