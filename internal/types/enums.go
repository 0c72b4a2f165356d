package types

// TargetType discriminates the dispatch target union.
type TargetType string

const (
	TargetWorkflow TargetType = "workflow"
	TargetFunction TargetType = "function"
	TargetTopic    TargetType = "topic"
)

// EventStatus tracks the processing lifecycle of one inbound event.
// COMPLETED and FAILED are terminal; the whole event is never retried,
// only the individual outbound calls inside it.
type EventStatus string

const (
	EventStatusTriggered  EventStatus = "TRIGGERED"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s EventStatus) Terminal() bool {
	return s == EventStatusCompleted || s == EventStatusFailed
}

// Severity grades a compliance violation finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Escalates reports whether the severity is high enough to trigger the
// incident-response workflow in addition to the always-sent notification.
func (s Severity) Escalates() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// ValidSeverity reports whether s is one of the four known grades.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
