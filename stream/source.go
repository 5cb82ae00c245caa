package stream

import (
	"context"
	"time"
)

// Source is an interface for data sources. The returned channel is closed
// when the source is exhausted or the context is cancelled.
type Source interface {
	// Open opens the source.
	Open(ctx context.Context) (<-chan Event, error)
	// Close closes the source.
	Close() error
}

// NumberSource is a simple source that generates a stream of numbers
// stamped with the wall clock.
type NumberSource struct {
	count    int
	interval time.Duration
}

// NewNumberSource creates a new NumberSource. A count of zero or less
// generates numbers until the context is cancelled.
func NewNumberSource(count int, interval time.Duration) *NumberSource {
	return &NumberSource{
		count:    count,
		interval: interval,
	}
}

// Open opens the source.
func (s *NumberSource) Open(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for i := 0; s.count <= 0 || i < s.count; i++ {
			if s.interval > 0 && i > 0 {
				select {
				case <-time.After(s.interval):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- NewDataEvent(i, time.Now().UnixMilli()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the source.
func (s *NumberSource) Close() error {
	return nil
}

// EventSource replays a fixed list of events.
type EventSource struct {
	events []Event
}

func NewEventSource(events ...Event) *EventSource {
	return &EventSource{events: events}
}

func (s *EventSource) Open(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for _, ev := range s.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *EventSource) Close() error {
	return nil
}
