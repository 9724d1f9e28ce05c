package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	ServiceName string
	Environment string
	// Level accepts debug, info, warn or error, case-insensitively. Anything
	// else means info.
	Level  string
	Output io.Writer
}

// NewLogger builds the process logger: JSON lines tagged with service and
// environment. At debug level records also carry their source location.
func NewLogger(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})

	return slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.Environment),
	)
}

func ParseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
