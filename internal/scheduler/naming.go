package scheduler

import "strings"

// schedulePrefix namespaces every schedule this registry owns within the
// schedule group.
const schedulePrefix = "compliance-"

// ScheduleName derives the external schedule name from a schedule ID.
// The derivation is deterministic and reversible so that update/delete/get
// can address the external scheduler without any lookup store.
func ScheduleName(scheduleID string) string {
	return schedulePrefix + scheduleID
}

// ScheduleIDFromName recovers the schedule ID from an external name.
// Returns false for names this registry does not own.
func ScheduleIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, schedulePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(name, schedulePrefix)
	return id, id != ""
}
