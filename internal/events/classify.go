// Package events classifies inbound platform events and routes them to
// workflow triggers, compliance-check invocations, or the violation
// escalation path. Raw events are parsed into a closed ClassifiedEvent union
// at the boundary so routing never string-matches on loosely typed payloads.
package events

import (
	"encoding/json"
	"strings"

	"guardpoint/internal/types"
)

// Event sources recognized by the classifier.
const (
	SourceTimer      = "aws.events"
	SourceScheduler  = "aws.scheduler"
	SourceStorage    = "aws.s3"
	SourceIdentity   = "aws.iam"
	SourceCompute    = "aws.ec2"
	SourceCompliance = "guardpoint.compliance"
)

// Detail types recognized within each source.
const (
	DetailScheduledEvent = "Scheduled Event"

	DetailBucketCreated       = "Bucket Created"
	DetailBucketPolicyChanged = "Bucket Policy Changed"

	DetailUserCreated      = "User Created"
	DetailRoleCreated      = "Role Created"
	DetailIAMPolicyChanged = "Policy Changed"

	DetailInstanceRunning     = "Instance Running"
	DetailSecurityRuleChanged = "Security Rule Changed"

	DetailManualScan        = "manual-scan"
	DetailManualRemediation = "manual-remediation"
	DetailViolationDetected = "violation-detected"
)

// Compliance-check function names, one per resource-lifecycle family.
const (
	CheckStorage  = "storage-bucket-check"
	CheckIdentity = "identity-compliance-check"
	CheckCompute  = "compute-security-check"
)

// ClassifiedEvent is the closed union of event shapes the router handles.
// The marker method keeps the set of variants sealed to this package.
type ClassifiedEvent interface {
	// EventType is the stable label recorded on the compliance event.
	EventType() string
	classified()
}

// ScheduledJob is a timer firing for a scheduled compliance workflow.
type ScheduledJob struct {
	TenantID     string
	WorkflowType string
	Parameters   map[string]string
	Detail       json.RawMessage
}

// StorageCheck is a storage resource-lifecycle change needing a compliance
// check, e.g. a bucket created or its policy changed.
type StorageCheck struct {
	TenantID   string
	DetailType string
	Detail     json.RawMessage
}

// IdentityCheck is an identity resource-lifecycle change.
type IdentityCheck struct {
	TenantID   string
	DetailType string
	Detail     json.RawMessage
}

// ComputeCheck is a compute resource-lifecycle change.
type ComputeCheck struct {
	TenantID   string
	DetailType string
	Detail     json.RawMessage
}

// ManualWorkflow is an operator-initiated scan or remediation naming the
// workflow to run, with the raw detail forwarded as its input.
type ManualWorkflow struct {
	TenantID     string
	WorkflowName string
	Detail       json.RawMessage
}

// Violation is a detected compliance violation to run through the
// escalation policy.
type Violation struct {
	Finding types.ViolationFinding
}

// Unrecognized is the explicit default variant: logged and dropped, never
// an error.
type Unrecognized struct {
	Source     string
	DetailType string
}

func (ScheduledJob) classified()   {}
func (StorageCheck) classified()   {}
func (IdentityCheck) classified()  {}
func (ComputeCheck) classified()   {}
func (ManualWorkflow) classified() {}
func (Violation) classified()      {}
func (Unrecognized) classified()   {}

func (e ScheduledJob) EventType() string   { return "scheduled-job" }
func (e StorageCheck) EventType() string   { return CheckStorage }
func (e IdentityCheck) EventType() string  { return CheckIdentity }
func (e ComputeCheck) EventType() string   { return CheckCompute }
func (e ManualWorkflow) EventType() string { return "manual-workflow" }
func (e Violation) EventType() string      { return DetailViolationDetected }
func (e Unrecognized) EventType() string   { return "unrecognized" }

// eventDetail is the superset of detail fields the classifier reads. Fields
// outside this set are carried through opaquely in the raw detail.
type eventDetail struct {
	TenantID     string            `json:"tenantId"`
	WorkflowType string            `json:"workflowType"`
	WorkflowName string            `json:"workflowName"`
	Parameters   map[string]string `json:"parameters"`
	Severity     string            `json:"severity"`
	FindingID    string            `json:"findingId"`
	Description  string            `json:"description"`
}

// Classify parses a raw platform event into its ClassifiedEvent variant.
// It never fails: malformed detail or an unknown (source, detail-type) pair
// yields Unrecognized.
func Classify(raw types.PlatformEvent) ClassifiedEvent {
	var detail eventDetail
	// Malformed detail downgrades the event rather than erroring; the
	// variant checks below reject anything missing its required fields.
	_ = json.Unmarshal(raw.Detail, &detail)

	switch raw.Source {
	case SourceTimer, SourceScheduler:
		if detail.WorkflowType == "" {
			return Unrecognized{Source: raw.Source, DetailType: raw.DetailType}
		}
		return ScheduledJob{
			TenantID:     detail.TenantID,
			WorkflowType: detail.WorkflowType,
			Parameters:   detail.Parameters,
			Detail:       raw.Detail,
		}

	case SourceStorage:
		if raw.DetailType == DetailBucketCreated || raw.DetailType == DetailBucketPolicyChanged {
			return StorageCheck{TenantID: detail.TenantID, DetailType: raw.DetailType, Detail: raw.Detail}
		}

	case SourceIdentity:
		if raw.DetailType == DetailUserCreated || raw.DetailType == DetailRoleCreated || raw.DetailType == DetailIAMPolicyChanged {
			return IdentityCheck{TenantID: detail.TenantID, DetailType: raw.DetailType, Detail: raw.Detail}
		}

	case SourceCompute:
		if raw.DetailType == DetailInstanceRunning || raw.DetailType == DetailSecurityRuleChanged {
			return ComputeCheck{TenantID: detail.TenantID, DetailType: raw.DetailType, Detail: raw.Detail}
		}

	case SourceCompliance:
		switch raw.DetailType {
		case DetailManualScan, DetailManualRemediation:
			if detail.WorkflowName == "" {
				return Unrecognized{Source: raw.Source, DetailType: raw.DetailType}
			}
			return ManualWorkflow{
				TenantID:     detail.TenantID,
				WorkflowName: detail.WorkflowName,
				Detail:       raw.Detail,
			}
		case DetailViolationDetected:
			severity := types.Severity(strings.ToUpper(detail.Severity))
			if !types.ValidSeverity(severity) {
				return Unrecognized{Source: raw.Source, DetailType: raw.DetailType}
			}
			return Violation{Finding: types.ViolationFinding{
				TenantID:    detail.TenantID,
				Severity:    severity,
				FindingID:   detail.FindingID,
				Description: detail.Description,
			}}
		}
	}

	return Unrecognized{Source: raw.Source, DetailType: raw.DetailType}
}
