package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tangthinker/watchman/internal/config"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// New builds the process logger: a console writer on stdout and, when
// cfg.File is set, a rotating JSON file. The returned closer flushes the file.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorFieldName = "err"
	SetLevel(cfg.Level)

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if cfg.Console || strings.TrimSpace(cfg.File) == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat})
	}
	if strings.TrimSpace(cfg.File) != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}
		writers = append(writers, fileLogger)
		closer = fileLogger
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return log, closer
}

// SetLevel changes the global level; used on config reload.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
