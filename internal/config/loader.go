// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC process timezone to prevent drift bugs in cron arithmetic.
//  2. Load a .env file via godotenv (non-fatal if absent; never overrides
//     already-set environment variables).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrorType categorizes configuration loading failures to aid debugging.
type ErrorType string

const (
	// ErrParsing indicates a failure when parsing environment variable
	// values into their target types.
	ErrParsing ErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ErrorType = "VALIDATION_FAILED"
)

// Error is a diagnostic error type returned by Load.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Load loads and validates the Guardpoint configuration from the process
// environment, with .env as the lowest-priority source.
func Load() (*Config, error) {
	// Cron evaluation and schedule timestamps assume a UTC process zone.
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &Error{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &Error{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}
