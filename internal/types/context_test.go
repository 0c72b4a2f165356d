package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "corr-123")
	assert.Equal(t, "corr-123", GetCorrelationID(ctx))
}

func TestTenantIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ok := GetTenantID(ctx)
	assert.False(t, ok)

	_, ok = GetTenantID(WithTenantID(ctx, ""))
	assert.False(t, ok)

	id, ok := GetTenantID(WithTenantID(ctx, "tenant-1"))
	assert.True(t, ok)
	assert.Equal(t, "tenant-1", id)
}

type stubLogger struct{ fields []any }

func (l *stubLogger) Info(string, ...any)  {}
func (l *stubLogger) Warn(string, ...any)  {}
func (l *stubLogger) Error(string, ...any) {}
func (l *stubLogger) With(args ...any) Logger {
	return &stubLogger{fields: append(l.fields, args...)}
}

func TestLoggerRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, LoggerFromContext(ctx))

	logger := &stubLogger{}
	got := LoggerFromContext(WithLogger(ctx, logger))
	assert.Same(t, logger, got)
}
