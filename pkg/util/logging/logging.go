package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevelMapping = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a LOG_LEVEL value to a level, info when unknown.
func ParseLevel(s string) slog.Level {
	level, ok := logLevelMapping[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo
	}
	return level
}

func New(w io.Writer, level slog.Level, nodeID string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})).With("node_id", nodeID)
}

func InitDefault(nodeID string) *slog.Logger {
	logger := New(os.Stdout, ParseLevel(os.Getenv("LOG_LEVEL")), nodeID)
	slog.SetDefault(logger)
	return logger
}
