package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates the service's JSON slog logger at the provided level. Every
// record is tagged with the app name and environment so aggregated logs
// from multiple deployments stay attributable. An invalid level string
// defaults to info.
func New(level, appName, env string) *slog.Logger {
	return newLogger(os.Stdout, level, appName, env)
}

func newLogger(w io.Writer, level, appName, env string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	return logger.With(slog.String("app", appName), slog.String("env", env))
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
