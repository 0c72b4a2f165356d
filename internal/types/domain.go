package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Target is a tagged union over {workflow, function, topic}. Each variant
// carries the destination name only; the dispatch resolver expands it into a
// concrete identifier using the cached namespace identity.
//
// Invariant: exactly one of the name fields is populated, matching Type.
type Target struct {
	Type         TargetType `json:"type"`
	WorkflowName string     `json:"workflowName,omitempty"`
	FunctionName string     `json:"functionName,omitempty"`
	TopicName    string     `json:"topicName,omitempty"`
}

// Name returns the destination name for the populated variant.
// It enforces the exactly-one invariant and returns an AppError with code
// validation_unsupported_target on any violation.
func (t Target) Name() (string, error) {
	set := 0
	for _, n := range []string{t.WorkflowName, t.FunctionName, t.TopicName} {
		if n != "" {
			set++
		}
	}
	if set != 1 {
		return "", NewAppErrorWithDetails(ErrCodeUnsupportedTarget,
			"target must populate exactly one destination name", nil,
			map[string]any{"populated": set})
	}

	switch t.Type {
	case TargetWorkflow:
		if t.WorkflowName == "" {
			return "", targetMismatch(t.Type)
		}
		return t.WorkflowName, nil
	case TargetFunction:
		if t.FunctionName == "" {
			return "", targetMismatch(t.Type)
		}
		return t.FunctionName, nil
	case TargetTopic:
		if t.TopicName == "" {
			return "", targetMismatch(t.Type)
		}
		return t.TopicName, nil
	default:
		return "", NewAppErrorWithDetails(ErrCodeUnsupportedTarget,
			fmt.Sprintf("unsupported target type %q", t.Type), nil,
			map[string]any{"type": string(t.Type)})
	}
}

func targetMismatch(tt TargetType) *AppError {
	return NewAppErrorWithDetails(ErrCodeUnsupportedTarget,
		fmt.Sprintf("populated destination name does not match target type %q", tt),
		nil, map[string]any{"type": string(tt)})
}

// Schedule is a named, cron-triggered dispatch rule bound to exactly one
// Target. ScheduleName is derived deterministically from the ID so that
// update/delete can address the external scheduler without a lookup.
type Schedule struct {
	ScheduleID            string            `json:"scheduleId"`
	ScheduleName          string            `json:"scheduleName"`
	ScheduleType          string            `json:"scheduleType"`
	TenantID              string            `json:"tenantId"`
	CronExpression        string            `json:"cronExpression"`
	Timezone              string            `json:"timezone"`
	Enabled               bool              `json:"enabled"`
	Description           string            `json:"description,omitempty"`
	FlexibleWindowMinutes int32             `json:"flexibleWindowMinutes"`
	Parameters            map[string]string `json:"parameters,omitempty"`
	Target                Target            `json:"target"`
	NextExecution         *time.Time        `json:"nextExecution,omitempty"`
	CreatedAt             time.Time         `json:"createdAt,omitempty"`
	UpdatedAt             time.Time         `json:"updatedAt,omitempty"`
}

// PlatformEvent is one inbound notification from the hosting event bus.
// Events are never persisted in this form; they are consumed once and
// produce zero or more dispatch side effects.
type PlatformEvent struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
	Time       time.Time       `json:"time"`
}

// ComplianceEvent is the processing record for one accepted inbound event.
// Status transitions are TRIGGERED -> PROCESSING -> {COMPLETED, FAILED} and
// terminal states are final.
type ComplianceEvent struct {
	EventID     string      `json:"eventId"`
	EventType   string      `json:"eventType"`
	TenantID    string      `json:"tenantId"`
	Source      string      `json:"source"`
	Status      EventStatus `json:"status"`
	TriggeredAt time.Time   `json:"triggeredAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ViolationFinding is the input to the escalation policy.
type ViolationFinding struct {
	TenantID    string   `json:"tenantId"`
	Severity    Severity `json:"severity"`
	FindingID   string   `json:"findingId"`
	Description string   `json:"description"`
}
