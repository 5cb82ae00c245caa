package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
)

// FileSink appends one line per event to a file.
type FileSink struct {
	filePath string

	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

func NewFileSink(cfg SinkConfig) (*FileSink, error) {
	if cfg.Config["file_path"] == "" {
		return nil, fmt.Errorf("missing file_path")
	}
	return &FileSink{
		filePath: cfg.Config["file_path"],
		logger:   log.With().Str("component", "file_sink").Str("file_path", cfg.Config["file_path"]).Logger(),
	}, nil
}

func (f *FileSink) Open(ctx context.Context) error {
	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if _, err := os.Stat(f.filePath); err == nil {
		f.logger.Warn().Msg("File already exists; appending to it")
	}

	file, err := os.OpenFile(f.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	f.mu.Lock()
	f.file = file
	f.mu.Unlock()
	return nil
}

func (f *FileSink) Write(ctx context.Context, event *stream.DataEvent) error {
	data, err := encode(event.Value)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return os.ErrClosed
	}
	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
