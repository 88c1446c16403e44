package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 3
	defaultMaxAgeDays = 28
)

type Config struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Init installs the default slog logger writing to stdout and, when File is set, a size-rotated file.
// The returned closer is nil when no file is configured.
func Init(cfg Config) (io.Closer, error) {
	return initTo(os.Stdout, cfg)
}

func initTo(stdout io.Writer, cfg Config) (io.Closer, error) {
	level := parseLevel(cfg.Level)
	writers := []io.Writer{stdout}

	var file *lumberjack.Logger
	if strings.TrimSpace(cfg.File) != "" {
		file = newFileWriter(cfg)
		writers = append(writers, file)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	stdLogger := slog.NewLogLogger(handler, level)
	log.SetFlags(0)
	log.SetOutput(stdLogger.Writer())

	if file == nil {
		return nil, nil
	}
	return file, nil
}

func newFileWriter(cfg Config) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxBackups := cfg.MaxBackups
	if maxBackups < 0 {
		maxBackups = defaultMaxBackups
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     defaultMaxAgeDays,
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
