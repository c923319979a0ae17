package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dkeye/wsbridge/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup installs the global zerolog logger for cfg. When a file is configured,
// output goes both to stderr and to a rolling file, released by the returned Closer.
func Setup(cfg config.LogConfig) io.Closer {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var console io.Writer = os.Stderr
	if strings.ToLower(cfg.Format) != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	out := console
	var closer io.Closer = nopCloser{}
	if cfg.File.Filename != "" {
		file := NewFileWriter(cfg.File)
		out = zerolog.MultiLevelWriter(console, file)
		closer = file
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}

func NewFileWriter(cfg config.LogFileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
