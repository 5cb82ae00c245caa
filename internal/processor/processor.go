// Package processor implements the event processor: a worker goroutine
// that repeatedly picks one of its assigned groups and drains a bounded
// slice of its events.
package processor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/allocation"
)

var ErrInvalidState = errors.New("invalid event processor state")

// State is the lifecycle of a processor: Initialized -> Running -> Closed.
type State int32

const (
	Initialized State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case Running:
		return "RUNNING"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config controls how a processor schedules its groups.
type Config struct {
	// BatchSize is the maximum number of events drained per selection.
	BatchSize int
	// IdleSleep is how long to wait when no group has pending events.
	IdleSleep           time.Duration
	MinSchedulingPeriod time.Duration
	MaxSchedulingPeriod time.Duration
	// Selector is "round-robin" or "weighted".
	Selector string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 5 * time.Millisecond
	}
	if c.MinSchedulingPeriod <= 0 {
		c.MinSchedulingPeriod = 10 * time.Millisecond
	}
	if c.MaxSchedulingPeriod < c.MinSchedulingPeriod {
		c.MaxSchedulingPeriod = 10 * c.MinSchedulingPeriod
	}
	return c
}

func (c Config) newSelector() NextGroupSelector {
	if c.Selector == "weighted" {
		return NewWeightedSelector()
	}
	return NewRoundRobinSelector()
}

// EventProcessor runs the groups the allocation table assigns to it. The
// table is consulted on every cycle, so reassignments take effect
// immediately.
type EventProcessor struct {
	id        string
	isolated  bool
	table     *allocation.Table
	selector  NextGroupSelector
	period    *SchedulingPeriodCalculator
	batchSize int
	idleSleep time.Duration

	state     atomic.Int32
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	cycles          atomic.Uint64
	idleCycles      atomic.Uint64
	contended       atomic.Uint64
	processedEvents atomic.Uint64

	logger zerolog.Logger
}

type Option func(*EventProcessor)

// Isolated marks the processor as dedicated to one isolated group.
func Isolated() Option {
	return func(p *EventProcessor) { p.isolated = true }
}

func WithSelector(s NextGroupSelector) Option {
	return func(p *EventProcessor) { p.selector = s }
}

func New(id string, table *allocation.Table, cfg Config, opts ...Option) *EventProcessor {
	cfg = cfg.withDefaults()
	p := &EventProcessor{
		id:        id,
		table:     table,
		selector:  cfg.newSelector(),
		period:    NewSchedulingPeriodCalculator(cfg.MinSchedulingPeriod, cfg.MaxSchedulingPeriod),
		batchSize: cfg.BatchSize,
		idleSleep: cfg.IdleSleep,
		stopCh:    make(chan struct{}),
		logger:    log.With().Str("component", "event_processor").Str("processor_id", id).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EventProcessor) ID() string { return p.id }

func (p *EventProcessor) IsRunningIsolatedGroup() bool { return p.isolated }

func (p *EventProcessor) State() State { return State(p.state.Load()) }

// Load is the aggregate load of the processor's groups.
func (p *EventProcessor) Load() float64 {
	groups := p.table.GetValue(p)
	if groups == nil {
		return 0
	}
	return groups.Load()
}

// Start launches the processing loop.
func (p *EventProcessor) Start() error {
	if !p.state.CompareAndSwap(int32(Initialized), int32(Running)) {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, p.State())
	}
	p.wg.Add(1)
	go p.loop()
	p.logger.Info().Bool("isolated", p.isolated).Msg("Event processor started")
	return nil
}

// Close stops the loop after the in-flight batch and waits for it to exit.
func (p *EventProcessor) Close() error {
	p.closeOnce.Do(func() {
		p.state.Store(int32(Closed))
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info().
		Uint64("processed_events", p.processedEvents.Load()).
		Uint64("cycles", p.cycles.Load()).
		Msg("Event processor closed")
	return nil
}

func (p *EventProcessor) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.RunOnce() {
			continue
		}

		timer := time.NewTimer(p.idleSleep)
		select {
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce performs one scheduling cycle and reports whether any event was
// processed.
func (p *EventProcessor) RunOnce() bool {
	p.cycles.Add(1)

	groups := p.table.GetValue(p)
	if groups == nil {
		p.idleCycles.Add(1)
		return false
	}
	candidates := groups.Snapshot()
	g := p.selector.Next(candidates)
	if g == nil {
		p.idleCycles.Add(1)
		return false
	}

	// The lease keeps a group that is being moved between processors from
	// being drained by both.
	if !g.TryAcquire() {
		p.contended.Add(1)
		return false
	}
	defer g.Release()
	if !groups.Contains(g.ID()) {
		return false
	}

	deadline := time.Now().Add(p.period.Period(g, candidates))
	n := g.Process(p.batchSize, deadline)
	p.processedEvents.Add(uint64(n))
	if n > 0 {
		p.logger.Trace().Str("group_id", g.ID()).Int("events", n).Msg("Processed batch")
	}
	return n > 0
}

// Stats holds counters of a processor.
type Stats struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	Isolated        bool    `json:"isolated"`
	Load            float64 `json:"load"`
	Cycles          uint64  `json:"cycles"`
	IdleCycles      uint64  `json:"idle_cycles"`
	Contended       uint64  `json:"contended"`
	ProcessedEvents uint64  `json:"processed_events"`
}

func (p *EventProcessor) Stats() Stats {
	return Stats{
		ID:              p.id,
		State:           p.State().String(),
		Isolated:        p.isolated,
		Load:            p.Load(),
		Cycles:          p.cycles.Load(),
		IdleCycles:      p.idleCycles.Load(),
		Contended:       p.contended.Load(),
		ProcessedEvents: p.processedEvents.Load(),
	}
}
