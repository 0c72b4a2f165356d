package events

import (
	"context"
	"fmt"
	"log/slog"
)

// incidentWorkflow is the workflow started for HIGH and CRITICAL findings.
const incidentWorkflow = "incident-response"

// WorkflowStarter starts a workflow execution. Satisfied by
// *dispatch.Dispatcher.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, workflowName string, input any) (string, error)
}

// Notifier publishes to a notification topic. Satisfied by
// *dispatch.Dispatcher.
type Notifier interface {
	PublishToTopic(ctx context.Context, topicName, subject, message string) error
}

// incidentInput is the incident-response workflow's input payload.
type incidentInput struct {
	TenantID     string `json:"tenantId"`
	IncidentType string `json:"incidentType"`
	Severity     string `json:"severity"`
	FindingID    string `json:"findingId"`
}

// Escalator applies the violation escalation policy: HIGH and CRITICAL
// findings start the incident-response workflow, and every finding produces
// a notification regardless of severity.
type Escalator struct {
	workflows WorkflowStarter
	notifier  Notifier
	topic     string
	logger    *slog.Logger
}

// NewEscalator creates an Escalator publishing to the given topic.
func NewEscalator(workflows WorkflowStarter, notifier Notifier, topic string, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{workflows: workflows, notifier: notifier, topic: topic, logger: logger}
}

// Escalate runs the policy for one finding. The notification is published for
// every finding, even when the incident-response workflow fails to start. A
// notification failure is logged and swallowed; it must never fail the
// triggering event. A failure to start the incident-response workflow is
// propagated after the notification attempt.
func (e *Escalator) Escalate(ctx context.Context, v Violation) error {
	finding := v.Finding

	var workflowErr error
	if finding.Severity.Escalates() {
		executionARN, err := e.workflows.StartWorkflow(ctx, incidentWorkflow, incidentInput{
			TenantID:     finding.TenantID,
			IncidentType: "compliance-violation",
			Severity:     string(finding.Severity),
			FindingID:    finding.FindingID,
		})
		if err != nil {
			workflowErr = err
			e.logger.Error("incident response workflow failed to start",
				"tenant_id", finding.TenantID,
				"finding_id", finding.FindingID,
				"severity", finding.Severity,
				"error", err,
			)
		} else {
			e.logger.Info("incident response triggered",
				"tenant_id", finding.TenantID,
				"finding_id", finding.FindingID,
				"severity", finding.Severity,
				"execution_arn", executionARN,
			)
		}
	}

	subject := fmt.Sprintf("Compliance Violation Detected - %s", finding.Severity)
	if err := e.notifier.PublishToTopic(ctx, e.topic, subject, finding.Description); err != nil {
		e.logger.Warn("violation notification failed",
			"tenant_id", finding.TenantID,
			"finding_id", finding.FindingID,
			"error", err,
		)
	}

	return workflowErr
}
