// Package cron validates schedule expressions and computes fire times.
//
// The accepted grammar is the 5-or-6-field form used by the managed
// scheduler: minute, hour, day-of-month, month, day-of-week, and an optional
// trailing year. Validation enforces the exact field ranges itself rather
// than delegating to the arithmetic library, which accepts a superset
// (seconds-resolution expressions, unordered ranges).
package cron

import (
	"fmt"
	"strconv"
	"strings"

	"guardpoint/internal/types"
)

// fieldSpec describes one cron field's bounds and whether the scheduler's
// "?" placeholder is legal in it.
type fieldSpec struct {
	name        string
	min, max    int
	allowsQuery bool
}

var fieldSpecs = []fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31, allowsQuery: true},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6, allowsQuery: true},
	// The year ceiling matches cronexpr's arithmetic range; a wider bound
	// would validate expressions whose fire times cannot be computed.
	{name: "year", min: 1970, max: 2099},
}

// Validate checks expr against the 5-or-6-field grammar. Each field accepts
// "*", "*/n" steps, "a-b" ranges (a<b, both in range), "a,b,c" lists, and
// bare values; day fields additionally accept "?". Any violation returns an
// AppError with code validation_invalid_cron.
func Validate(expr string) error {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 && len(fields) != 6 {
		return invalidCron(expr, fmt.Sprintf("expected 5 or 6 fields, got %d", len(fields)))
	}

	for i, field := range fields {
		spec := fieldSpecs[i]
		if err := validateField(field, spec); err != nil {
			return invalidCron(expr, fmt.Sprintf("%s field %q: %v", spec.name, field, err))
		}
	}

	return nil
}

// validateField checks one field against its spec. Comma lists are split
// first; each element is then a star, step, range, placeholder, or value.
func validateField(field string, spec fieldSpec) error {
	if field == "" {
		return fmt.Errorf("empty field")
	}

	for _, elem := range strings.Split(field, ",") {
		if err := validateElement(elem, spec); err != nil {
			return err
		}
	}
	return nil
}

func validateElement(elem string, spec fieldSpec) error {
	switch {
	case elem == "*":
		return nil

	case elem == "?":
		if !spec.allowsQuery {
			return fmt.Errorf(`"?" is only valid in day fields`)
		}
		return nil

	case strings.HasPrefix(elem, "*/"):
		step, err := strconv.Atoi(elem[2:])
		if err != nil || step <= 0 {
			return fmt.Errorf("step must be a positive integer")
		}
		if step > spec.max {
			return fmt.Errorf("step %d exceeds field maximum %d", step, spec.max)
		}
		return nil

	case strings.Contains(elem, "-"):
		bounds := strings.SplitN(elem, "-", 2)
		lo, err := parseInRange(bounds[0], spec)
		if err != nil {
			return err
		}
		hi, err := parseInRange(bounds[1], spec)
		if err != nil {
			return err
		}
		if lo >= hi {
			return fmt.Errorf("range start %d must be less than end %d", lo, hi)
		}
		return nil

	default:
		_, err := parseInRange(elem, spec)
		return err
	}
}

func parseInRange(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("value %d outside range [%d, %d]", v, spec.min, spec.max)
	}
	return v, nil
}

func invalidCron(expr, reason string) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidCron,
		"invalid cron expression: "+reason, nil,
		map[string]any{"expression": expr})
}
