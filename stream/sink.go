package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink is an interface for data sinks. Write is called from the goroutine
// that executes the upstream vertex.
type Sink interface {
	// Open opens the sink.
	Open(ctx context.Context) error
	// Write delivers one record.
	Write(ctx context.Context, event *DataEvent) error
	// Close closes the sink.
	Close() error
}

// PrintSink is a simple sink that prints events to a writer, stdout by default.
type PrintSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrintSink creates a new PrintSink.
func NewPrintSink(out io.Writer) *PrintSink {
	if out == nil {
		out = os.Stdout
	}
	return &PrintSink{out: out}
}

// Open opens the sink.
func (s *PrintSink) Open(ctx context.Context) error {
	return nil
}

func (s *PrintSink) Write(ctx context.Context, event *DataEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := event.Value.(type) {
	case []byte:
		_, err := fmt.Fprintf(s.out, "%d %s\n", event.EventTime, v)
		return err
	default:
		_, err := fmt.Fprintf(s.out, "%d %v\n", event.EventTime, v)
		return err
	}
}

// Close closes the sink.
func (s *PrintSink) Close() error {
	return nil
}
