package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"guardpoint/internal/types"
)

// Validator wraps go-playground/validator with domain-specific rules and
// translates validation failures into structured AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// identifier: schedule types, tenant IDs, and target names share the
	// same constrained character set.
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return types.ValidIdentifier(fl.Field().String())
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s against its `validate` tags. On failure it
// returns a *types.AppError with per-field details; the first failing field
// determines the message.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"validation target is not a struct", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"request validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldName(fe)] = failureReason(fe)
	}

	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"invalid value for field '"+fieldName(first)+"'",
		nil,
		details,
	)
}

// fieldName lowercases the first rune of the struct field name, matching the
// camelCase JSON contract.
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func failureReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "exceeds maximum length " + fe.Param()
	case "min":
		return "below minimum " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "identifier":
		return "must contain only letters, digits, hyphens, and underscores"
	}
	return "failed constraint: " + fe.Tag()
}
