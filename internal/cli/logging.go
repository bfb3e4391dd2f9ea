package cli

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fieldtriage/fieldtriage/internal/config"
	"github.com/fieldtriage/fieldtriage/internal/version"
)

// newLogger builds the process logger. Output goes to stderr so stdout
// stays clean for command output; extra writers (the status API's log
// buffer) always receive JSON.
func newLogger(cfg config.LogConfig, levelOverride string, extra ...io.Writer) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if levelOverride != "" {
		level, err = zerolog.ParseLevel(levelOverride)
	}
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stderr
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	writers = append(writers, extra...)

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		writers = append(writers, file)
		closer = file
	}

	info := version.Get()
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("version", info.Version).
		Str("commit", info.Commit).
		Logger()

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
