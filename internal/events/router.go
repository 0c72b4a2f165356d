package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"guardpoint/internal/types"
)

// FunctionInvoker invokes a function asynchronously. Satisfied by
// *dispatch.Dispatcher.
type FunctionInvoker interface {
	InvokeFunction(ctx context.Context, functionName string, payload any) error
}

// EventStore persists compliance-event lifecycle transitions. Satisfied by
// *db.ComplianceEventRepository.
type EventStore interface {
	Create(ctx context.Context, ev *types.ComplianceEvent) error
	MarkProcessing(ctx context.Context, eventID string) error
	MarkCompleted(ctx context.Context, eventID, result string) error
	MarkFailed(ctx context.Context, eventID, errMsg string) error
}

// DeadLetterForwarder receives raw events whose dispatch failed after
// retries. Satisfied by *eventbus.DeadLetterQueue.
type DeadLetterForwarder interface {
	Forward(ctx context.Context, raw types.PlatformEvent, reason string) error
}

// OutcomeRecorder records routing outcomes for operational metrics.
// Satisfied by *metrics.Recorder.
type OutcomeRecorder interface {
	RecordEventOutcome(ctx context.Context, eventType, outcome string)
}

// Outcome summarizes one routed event for callers that wait on the result
// (manual triggers).
type Outcome struct {
	EventID   string            `json:"eventId"`
	EventType string            `json:"eventType"`
	Status    types.EventStatus `json:"status"`
	Result    string            `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// checkPayload is the compliance-check function invocation payload.
type checkPayload struct {
	TenantID    string          `json:"tenantId"`
	CheckType   string          `json:"checkType"`
	DetailType  string          `json:"detailType"`
	Detail      json.RawMessage `json:"detail"`
	TriggeredAt time.Time       `json:"triggeredAt"`
}

// scheduledJobInput is the workflow input for timer-fired jobs.
type scheduledJobInput struct {
	TenantID     string            `json:"tenantId"`
	WorkflowType string            `json:"workflowType"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Detail       json.RawMessage   `json:"detail"`
}

// Router drives one event through received → classified → dispatched →
// completed|failed, persisting each transition to the history store.
type Router struct {
	workflows WorkflowStarter
	functions FunctionInvoker
	escalator *Escalator
	store     EventStore
	dlq       DeadLetterForwarder
	metrics   OutcomeRecorder
	logger    *slog.Logger
	newID     func() string
	nowFn     func() time.Time
}

// NewRouter creates a Router. dlq and metrics may be nil.
func NewRouter(workflows WorkflowStarter, functions FunctionInvoker, escalator *Escalator, store EventStore, dlq DeadLetterForwarder, metrics OutcomeRecorder, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		workflows: workflows,
		functions: functions,
		escalator: escalator,
		store:     store,
		dlq:       dlq,
		metrics:   metrics,
		logger:    logger,
		newID:     uuid.NewString,
		nowFn:     time.Now,
	}
}

// RouteAsync processes a platform-delivered event. Dispatch failures after
// retries mark the event FAILED and forward it to the dead-letter queue, but
// the error is swallowed so the transport does not redeliver.
func (r *Router) RouteAsync(ctx context.Context, raw types.PlatformEvent) *Outcome {
	outcome, err := r.route(ctx, raw)
	if err != nil {
		r.logger.Error("event dispatch failed",
			"event_id", outcome.EventID,
			"event_type", outcome.EventType,
			"source", raw.Source,
			"error", err,
		)
		if r.dlq != nil {
			if dlqErr := r.dlq.Forward(ctx, raw, err.Error()); dlqErr != nil {
				r.logger.Error("dead-letter forward failed",
					"event_id", outcome.EventID, "error", dlqErr)
			}
		}
	}
	return outcome
}

// RouteSync processes a synchronously triggered event; dispatch failures are
// propagated to the caller alongside the outcome.
func (r *Router) RouteSync(ctx context.Context, raw types.PlatformEvent) (*Outcome, error) {
	return r.route(ctx, raw)
}

func (r *Router) route(ctx context.Context, raw types.PlatformEvent) (*Outcome, error) {
	classified := Classify(raw)

	if unrec, ok := classified.(Unrecognized); ok {
		r.logger.Info("dropping unrecognized event",
			"source", unrec.Source, "detail_type", unrec.DetailType)
		r.record(ctx, classified.EventType(), "dropped")
		return &Outcome{EventType: classified.EventType(), Status: types.EventStatusCompleted, Result: "dropped"}, nil
	}

	ev := &types.ComplianceEvent{
		EventID:     r.newID(),
		EventType:   classified.EventType(),
		TenantID:    tenantOf(classified),
		Source:      raw.Source,
		Status:      types.EventStatusTriggered,
		TriggeredAt: r.nowFn().UTC(),
	}
	outcome := &Outcome{EventID: ev.EventID, EventType: ev.EventType}

	// History writes are best effort: a store outage must not stop event
	// routing, only degrade the audit trail.
	if err := r.store.Create(ctx, ev); err != nil {
		r.logger.Warn("failed to record compliance event",
			"event_id", ev.EventID, "error", err)
	}
	if err := r.store.MarkProcessing(ctx, ev.EventID); err != nil {
		r.logger.Warn("failed to mark event processing",
			"event_id", ev.EventID, "error", err)
	}

	result, err := r.dispatch(ctx, classified)
	if err != nil {
		outcome.Status = types.EventStatusFailed
		outcome.Error = err.Error()
		if storeErr := r.store.MarkFailed(ctx, ev.EventID, err.Error()); storeErr != nil {
			r.logger.Warn("failed to mark event failed",
				"event_id", ev.EventID, "error", storeErr)
		}
		r.record(ctx, ev.EventType, "failed")
		return outcome, err
	}

	outcome.Status = types.EventStatusCompleted
	outcome.Result = result
	if storeErr := r.store.MarkCompleted(ctx, ev.EventID, result); storeErr != nil {
		r.logger.Warn("failed to mark event completed",
			"event_id", ev.EventID, "error", storeErr)
	}
	r.record(ctx, ev.EventType, "completed")

	r.logger.Info("event routed",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"tenant_id", ev.TenantID,
		"result", result,
	)
	return outcome, nil
}

// dispatch performs the single action the routing table prescribes for the
// variant. Exactly one downstream call per accepted event.
func (r *Router) dispatch(ctx context.Context, classified ClassifiedEvent) (string, error) {
	switch e := classified.(type) {
	case ScheduledJob:
		executionARN, err := r.workflows.StartWorkflow(ctx, e.WorkflowType, scheduledJobInput{
			TenantID:     e.TenantID,
			WorkflowType: e.WorkflowType,
			Parameters:   e.Parameters,
			Detail:       e.Detail,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("workflow started: %s", executionARN), nil

	case StorageCheck:
		return r.invokeCheck(ctx, CheckStorage, e.TenantID, e.DetailType, e.Detail)

	case IdentityCheck:
		return r.invokeCheck(ctx, CheckIdentity, e.TenantID, e.DetailType, e.Detail)

	case ComputeCheck:
		return r.invokeCheck(ctx, CheckCompute, e.TenantID, e.DetailType, e.Detail)

	case ManualWorkflow:
		executionARN, err := r.workflows.StartWorkflow(ctx, e.WorkflowName, e.Detail)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("workflow started: %s", executionARN), nil

	case Violation:
		if err := r.escalator.Escalate(ctx, e); err != nil {
			return "", err
		}
		return fmt.Sprintf("violation escalated: %s", e.Finding.Severity), nil
	}

	return "", types.NewAppError(types.ErrCodeInternalUnexpected,
		"unhandled event classification", nil)
}

func (r *Router) invokeCheck(ctx context.Context, checkType, tenantID, detailType string, detail json.RawMessage) (string, error) {
	err := r.functions.InvokeFunction(ctx, checkType, checkPayload{
		TenantID:    tenantID,
		CheckType:   checkType,
		DetailType:  detailType,
		Detail:      detail,
		TriggeredAt: r.nowFn().UTC(),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("check invoked: %s", checkType), nil
}

func (r *Router) record(ctx context.Context, eventType, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordEventOutcome(ctx, eventType, outcome)
	}
}

func tenantOf(classified ClassifiedEvent) string {
	switch e := classified.(type) {
	case ScheduledJob:
		return e.TenantID
	case StorageCheck:
		return e.TenantID
	case IdentityCheck:
		return e.TenantID
	case ComputeCheck:
		return e.TenantID
	case ManualWorkflow:
		return e.TenantID
	case Violation:
		return e.Finding.TenantID
	}
	return ""
}
