package types

import (
	"fmt"
	"regexp"
	"time"
)

// Validation constraint constants.
const (
	MinFlexibleWindowMinutes     = 1
	MaxFlexibleWindowMinutes     = 1440
	DefaultFlexibleWindowMinutes = 15
	MaxNameLength                = 100
	MaxDescriptionLength         = 512
)

// nameRe constrains scheduleType and tenantId identifiers.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9-_]{1,100}$`)

// ValidIdentifier reports whether s is a legal scheduleType/tenantId value.
func ValidIdentifier(s string) bool {
	return nameRe.MatchString(s)
}

// ValidateScheduleFields checks the non-cron invariants of a schedule:
// identifier grammar, flexible window range, and timezone resolvability.
// Cron grammar is validated separately by the cron evaluator.
func ValidateScheduleFields(scheduleType, tenantID, timezone string, windowMinutes int32) error {
	if !ValidIdentifier(scheduleType) {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidName,
			"scheduleType must match [a-zA-Z0-9-_]{1,100}", nil,
			map[string]any{"scheduleType": scheduleType})
	}
	if !ValidIdentifier(tenantID) {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidName,
			"tenantId must match [a-zA-Z0-9-_]{1,100}", nil,
			map[string]any{"tenantId": tenantID})
	}
	if windowMinutes < MinFlexibleWindowMinutes || windowMinutes > MaxFlexibleWindowMinutes {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidWindow,
			fmt.Sprintf("flexibleWindowMinutes must be in [%d, %d]",
				MinFlexibleWindowMinutes, MaxFlexibleWindowMinutes), nil,
			map[string]any{"flexibleWindowMinutes": windowMinutes})
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidTimezone,
				fmt.Sprintf("unknown timezone %q", timezone), err,
				map[string]any{"timezone": timezone})
		}
	}
	return nil
}
