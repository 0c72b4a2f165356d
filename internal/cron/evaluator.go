package cron

import (
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"

	"guardpoint/internal/types"
)

// NextFireTime computes the next fire time for expr in the given time zone,
// strictly after the current instant. The zone defaults to UTC when empty.
//
// Any parse or computation failure is a hard error; callers must never
// substitute "now" for a failed computation, because that silently drifts
// the schedule.
func NextFireTime(expr, timezone string) (time.Time, error) {
	return NextAfter(expr, timezone, time.Now())
}

// NextAfter computes the first fire time of expr strictly after the given
// instant, evaluated in the requested zone.
func NextAfter(expr, timezone string, after time.Time) (time.Time, error) {
	if err := Validate(expr); err != nil {
		return time.Time{}, err
	}

	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidTimezone,
				"unknown timezone "+timezone, err,
				map[string]any{"timezone": timezone})
		}
	}

	parsed, err := cronexpr.Parse(normalize(expr))
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidCron,
			"cron expression failed to parse", err,
			map[string]any{"expression": expr})
	}

	next := parsed.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidCron,
			"cron expression has no future fire time", nil,
			map[string]any{"expression": expr})
	}

	return next, nil
}

// normalize rewrites the scheduler's "?" placeholder to "*" for the
// arithmetic library, which treats the two identically for day fields.
func normalize(expr string) string {
	fields := strings.Fields(expr)
	for i, f := range fields {
		if f == "?" {
			fields[i] = "*"
		}
	}
	return strings.Join(fields, " ")
}
