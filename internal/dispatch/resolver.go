// Package dispatch resolves abstract dispatch targets into concrete
// invocations and performs the outbound workflow/function/topic calls.
// All AWS calls go through narrow client interfaces so tests can substitute
// mocks, and through the shared resilience layer.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sts"

	"guardpoint/internal/resilience"
	"guardpoint/internal/types"
)

// STSClient abstracts the caller-identity lookup for testability.
// Production code uses *sts.Client from aws-sdk-go-v2.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Invocation is a fully resolved dispatch: the concrete destination
// identifier and the serialized body to deliver to it.
type Invocation struct {
	TargetARN string
	Payload   []byte
}

// Resolver expands target names into fully qualified identifiers using the
// caller's namespace identity, and builds the invocation payloads for each
// target variant. The identity is memoized for the process lifetime; it is
// immutable for a given execution role.
type Resolver struct {
	sts     STSClient
	res     *resilience.Context
	retry   *resilience.Retryer
	region  string
	logger  *slog.Logger
	nowFn   func() time.Time // for testability; defaults to time.Now
	mu      sync.Mutex
	account string // cached; seeded from config override when present
}

// NewResolver creates a Resolver. accountOverride, when non-empty, bypasses
// the identity service entirely (used in local development).
func NewResolver(stsClient STSClient, res *resilience.Context, retry *resilience.Retryer, region, accountOverride string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		sts:     stsClient,
		res:     res,
		retry:   retry,
		region:  region,
		logger:  logger,
		nowFn:   time.Now,
		account: accountOverride,
	}
}

// workflowInput is the execution input for scheduled workflow targets.
type workflowInput struct {
	TenantID     string            `json:"tenantId"`
	WorkflowType string            `json:"workflowType"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Metadata     scheduleMetadata  `json:"metadata"`
}

// functionPayload is the invocation payload for scheduled function targets.
type functionPayload struct {
	TenantID     string            `json:"tenantId"`
	ScheduleType string            `json:"scheduleType"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Metadata     scheduleMetadata  `json:"metadata"`
}

// topicMessage is the message body for scheduled topic targets.
type topicMessage struct {
	TenantID     string            `json:"tenantId"`
	ScheduleType string            `json:"scheduleType"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	TriggeredAt  time.Time         `json:"triggeredAt"`
}

// scheduleMetadata marks payloads as originating from a scheduled execution.
type scheduleMetadata struct {
	ScheduledExecution bool      `json:"scheduledExecution"`
	ScheduleID         string    `json:"scheduleId,omitempty"`
	TriggeredAt        time.Time `json:"triggeredAt"`
}

// Resolve produces the concrete invocation for a schedule's target.
// Unsupported or malformed targets fail with validation_unsupported_target
// before any external call is attempted.
func (r *Resolver) Resolve(ctx context.Context, target types.Target, tenantID, scheduleType, scheduleID string, params map[string]string) (*Invocation, error) {
	name, err := target.Name()
	if err != nil {
		return nil, err
	}

	now := r.nowFn().UTC()

	var arn string
	var body any
	switch target.Type {
	case types.TargetWorkflow:
		arn, err = r.WorkflowARN(ctx, name)
		body = workflowInput{
			TenantID:     tenantID,
			WorkflowType: scheduleType,
			Parameters:   params,
			Metadata: scheduleMetadata{
				ScheduledExecution: true,
				ScheduleID:         scheduleID,
				TriggeredAt:        now,
			},
		}
	case types.TargetFunction:
		arn, err = r.FunctionARN(ctx, name)
		body = functionPayload{
			TenantID:     tenantID,
			ScheduleType: scheduleType,
			Parameters:   params,
			Metadata: scheduleMetadata{
				ScheduledExecution: true,
				TriggeredAt:        now,
			},
		}
	case types.TargetTopic:
		arn, err = r.TopicARN(ctx, name)
		body = topicMessage{
			TenantID:     tenantID,
			ScheduleType: scheduleType,
			Parameters:   params,
			TriggeredAt:  now,
		}
	default:
		// Unreachable: target.Name() already rejected unknown types.
		return nil, types.NewAppError(types.ErrCodeUnsupportedTarget,
			fmt.Sprintf("unsupported target type %q", target.Type), nil)
	}
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to serialize invocation payload", err)
	}

	return &Invocation{TargetARN: arn, Payload: payload}, nil
}

// WorkflowARN returns the fully qualified state machine identifier for name.
func (r *Resolver) WorkflowARN(ctx context.Context, name string) (string, error) {
	account, err := r.accountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:aws:states:%s:%s:stateMachine:%s", r.region, account, name), nil
}

// FunctionARN returns the fully qualified function identifier for name.
func (r *Resolver) FunctionARN(ctx context.Context, name string) (string, error) {
	account, err := r.accountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", r.region, account, name), nil
}

// TopicARN returns the fully qualified topic identifier for name.
func (r *Resolver) TopicARN(ctx context.Context, name string) (string, error) {
	account, err := r.accountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", r.region, account, name), nil
}

// accountID returns the caller's account, fetching it through the resilience
// layer on first use. Only successful lookups are cached.
func (r *Resolver) accountID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.account != "" {
		return r.account, nil
	}

	var account string
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		result, err := r.res.Execute(resilience.DepIdentity, func() (any, error) {
			out, err := r.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
			if err != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamIdentity,
					"caller identity lookup failed", err)
			}
			return out, nil
		})
		if err != nil {
			return err
		}

		out := result.(*sts.GetCallerIdentityOutput)
		if out.Account == nil || *out.Account == "" {
			return types.NewAppError(types.ErrCodeUpstreamIdentity,
				"caller identity response missing account", nil)
		}
		account = *out.Account
		return nil
	})
	if err != nil {
		return "", err
	}

	r.account = account
	r.logger.Info("namespace identity resolved", "account", account)
	return account, nil
}
