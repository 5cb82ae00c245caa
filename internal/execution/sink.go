package execution

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tarungka/wiregroup/stream"
)

// Sink is the terminal vertex of a DAG. Records are written on the
// goroutine of the upstream vertex.
type Sink struct {
	timestamps

	id   string
	sink stream.Sink

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewSink(id string, sink stream.Sink) *Sink {
	s := &Sink{id: id, sink: sink}
	s.reset()
	return s
}

func (s *Sink) ID() string       { return s.id }
func (s *Sink) Type() VertexType { return SinkVertex }

func (s *Sink) Open(ctx context.Context) error {
	if err := s.sink.Open(ctx); err != nil {
		return fmt.Errorf("opening sink %s: %w", s.id, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.sink.Close()
}

func (s *Sink) write(ctx context.Context, event *stream.DataEvent) error {
	s.observeData(event.EventTime)
	if err := s.sink.Write(ctx, event); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("writing to sink %s: %w", s.id, err)
	}
	s.written.Add(1)
	return nil
}

// Written returns the number of records delivered to the sink.
func (s *Sink) Written() uint64 { return s.written.Load() }
