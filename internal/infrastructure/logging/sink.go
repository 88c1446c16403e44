package logging

import (
	"context"
	"log/slog"
	"strings"
)

// SlogSink emits each progress line of the canceller as one Info record.
type SlogSink struct {
	Logger    *slog.Logger
	Component string
}

func NewSlogSink(component string) SlogSink {
	return SlogSink{Logger: slog.Default(), Component: component}
}

func (s SlogSink) Log(line string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if s.Component == "" {
		logger.Info(line)
		return
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, line, slog.String("component", s.Component))
}
