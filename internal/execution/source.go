package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
	"golang.org/x/time/rate"
)

var (
	ErrAlreadyStarted = errors.New("already started")
	ErrClosed         = errors.New("closed")
)

// Source is the root vertex of a DAG. It reads its generator on a
// dedicated goroutine and pushes into the queues of downstream chains,
// never sharing a goroutine with an event processor.
type Source struct {
	timestamps

	id         string
	source     stream.Source
	watermarks stream.WatermarkGenerator
	limiter    *rate.Limiter
	output     *vertexEmitter

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	emitted atomic.Uint64
	failed  atomic.Uint64

	logger zerolog.Logger
}

type SourceOption func(*Source)

// WithWatermarks sets how the source generates watermarks. Without one
// only watermarks produced by the generator itself are forwarded.
func WithWatermarks(g stream.WatermarkGenerator) SourceOption {
	return func(s *Source) { s.watermarks = g }
}

// WithRateLimit caps the ingestion rate of the source.
func WithRateLimit(limit rate.Limit, burst int) SourceOption {
	return func(s *Source) { s.limiter = rate.NewLimiter(limit, burst) }
}

func NewSource(id string, src stream.Source, opts ...SourceOption) *Source {
	s := &Source{
		id:     id,
		source: src,
		logger: log.With().Str("component", "source").Str("source_id", id).Logger(),
	}
	s.reset()
	s.output = &vertexEmitter{ctx: context.Background(), from: &s.timestamps}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) ID() string       { return s.id }
func (s *Source) Type() VertexType { return SourceVertex }

// Start opens the generator and begins pushing events downstream.
func (s *Source) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := s.source.Open(ctx)
	if err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("opening source %s: %w", s.id, err)
	}
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, events)
	s.logger.Info().Msg("Source started")
	return nil
}

func (s *Source) run(ctx context.Context, events <-chan stream.Event) {
	defer close(s.done)

	var tick <-chan time.Time
	if s.watermarks != nil && s.watermarks.Period() > 0 {
		ticker := time.NewTicker(s.watermarks.Period())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if wm := s.watermarks.OnTick(); wm != nil {
				s.emitWatermark(wm)
			}
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug().Uint64("emitted", s.emitted.Load()).Msg("Source exhausted")
				return
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return
				}
			}
			s.handle(ev)
		}
	}
}

func (s *Source) handle(ev stream.Event) {
	switch e := ev.(type) {
	case *stream.DataEvent:
		if s.watermarks == nil {
			s.emitData(e)
			return
		}
		wm, consumed := s.watermarks.OnData(e)
		if !consumed {
			s.emitData(e)
		}
		if wm != nil {
			s.emitWatermark(wm)
		}
	case *stream.WatermarkEvent:
		s.emitWatermark(e)
	}
}

func (s *Source) emitData(e *stream.DataEvent) {
	s.observeData(e.EventTime)
	if err := s.output.EmitData(e); err != nil {
		s.failed.Add(1)
		s.logger.Error().Err(err).Int64("event_time", e.EventTime).Msg("Failed to emit event")
		return
	}
	s.emitted.Add(1)
}

func (s *Source) emitWatermark(e *stream.WatermarkEvent) {
	if err := s.output.EmitWatermark(e); err != nil {
		s.logger.Error().Err(err).Int64("watermark", e.EventTime).Msg("Failed to emit watermark")
	}
}

// Close stops the reading goroutine, waits for it and closes the generator.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info().Uint64("emitted", s.emitted.Load()).Msg("Source closed")
	return s.source.Close()
}

// Done is closed once the reading goroutine has exited. It is nil before Start.
func (s *Source) Done() <-chan struct{} {
	return s.done
}
