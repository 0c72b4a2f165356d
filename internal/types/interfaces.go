package types

// Logger is the minimal structured logging contract shared by all components.
// *slog.Logger satisfies Info/Error/Warn directly; With returns *slog.Logger
// rather than Logger, so Lambda entrypoints wrap it in a small adapter.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}
