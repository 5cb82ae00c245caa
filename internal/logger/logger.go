package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how the process logger is built.
type Options struct {
	// Development switches to human readable console output.
	Development bool
	Level       string
	// Out defaults to stderr.
	Out io.Writer
	// File, when set, also receives every log line.
	File io.Writer
}

// Setup builds the process logger and installs it as the global zerolog
// logger used by every component.
func Setup(serviceName string, opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	var logger zerolog.Logger
	if opts.Development {
		// Set up zerolog for development mode (human-readable logs)
		consoleWriter := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatMessage: func(i any) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			PartsExclude: []string{
				zerolog.TimestampFieldName,
			}}
		var w io.Writer = consoleWriter
		if opts.File != nil {
			w = zerolog.MultiLevelWriter(consoleWriter, opts.File)
		}
		logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Caller().Logger()
	} else {
		w := out
		if opts.File != nil {
			w = zerolog.MultiLevelWriter(out, opts.File)
		}
		logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
	}

	logger = logger.Level(level)
	log.Logger = logger
	return logger, nil
}

// GetLogger returns a sub logger of the process logger for one component.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
