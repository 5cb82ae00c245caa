package execution

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/stream"
)

// LatePolicy decides what a chain does with a record older than its
// current watermark.
type LatePolicy int

const (
	// LateLog processes the record and logs a warning.
	LateLog LatePolicy = iota
	// LateProcess processes the record silently.
	LateProcess
	// LateDrop discards the record and logs a warning.
	LateDrop
)

type queuedEvent struct {
	event     stream.Event
	direction stream.Direction
}

// OperatorChain runs a sequence of operators as one schedulable unit. Its
// FIFO queue may be filled from any goroutine but must be drained by one
// goroutine at a time; the scheduler guarantees that through the group
// lease.
type OperatorChain struct {
	timestamps

	id         string
	operators  []stream.Operator
	latePolicy LatePolicy
	output     stream.OutputEmitter

	mu             sync.Mutex
	queue          []queuedEvent
	head           int
	numberOfEvents atomic.Int64

	processed atomic.Uint64
	failed    atomic.Uint64
	late      atomic.Uint64

	logger zerolog.Logger
}

// NewOperatorChain creates a chain running the operators in order. Only
// the first operator may receive right-side input.
func NewOperatorChain(id string, operators ...stream.Operator) *OperatorChain {
	c := &OperatorChain{
		id:        id,
		operators: operators,
		logger:    log.With().Str("component", "operator_chain").Str("chain_id", id).Logger(),
	}
	c.reset()
	return c
}

func (c *OperatorChain) ID() string       { return c.id }
func (c *OperatorChain) Type() VertexType { return OperatorChainVertex }

func (c *OperatorChain) SetLatePolicy(p LatePolicy) {
	c.latePolicy = p
}

func (c *OperatorChain) Operators() []stream.Operator {
	return append([]stream.Operator(nil), c.operators...)
}

// wire connects consecutive operators and sends the output of the last one
// to out.
func (c *OperatorChain) wire(out stream.OutputEmitter) {
	for i, op := range c.operators {
		if i == len(c.operators)-1 {
			op.SetOutputEmitter(out)
		} else {
			op.SetOutputEmitter(chainEmitter{next: c.operators[i+1]})
		}
	}
	c.output = out
}

// Enqueue appends an event to the chain's queue.
func (c *OperatorChain) Enqueue(event stream.Event, dir stream.Direction) {
	c.mu.Lock()
	c.queue = append(c.queue, queuedEvent{event: event, direction: dir})
	c.mu.Unlock()
	c.numberOfEvents.Add(1)
}

// NumberOfEvents returns the number of queued events.
func (c *OperatorChain) NumberOfEvents() int64 {
	return c.numberOfEvents.Load()
}

func (c *OperatorChain) poll() (queuedEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head >= len(c.queue) {
		return queuedEvent{}, false
	}
	item := c.queue[c.head]
	c.queue[c.head] = queuedEvent{}
	c.head++
	if c.head == len(c.queue) {
		c.queue = c.queue[:0]
		c.head = 0
	} else if c.head > 1024 && c.head*2 > len(c.queue) {
		n := copy(c.queue, c.queue[c.head:])
		c.queue = c.queue[:n]
		c.head = 0
	}
	c.numberOfEvents.Add(-1)
	return item, true
}

// ProcessNextEvent takes the oldest queued event and runs it through the
// chain. It returns false if the queue was empty. A failing operator is
// logged and counted; it never stops the caller.
func (c *OperatorChain) ProcessNextEvent() bool {
	item, ok := c.poll()
	if !ok {
		return false
	}
	if err := c.handle(item); err != nil {
		c.failed.Add(1)
		c.logger.Error().
			Err(err).
			Str("direction", item.direction.String()).
			Int64("event_time", item.event.Timestamp()).
			Msg("Operator failed to process event")
		return true
	}
	c.processed.Add(1)
	return true
}

func (c *OperatorChain) handle(item queuedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator panic: %v", r)
		}
	}()

	switch ev := item.event.(type) {
	case *stream.DataEvent:
		if ev.EventTime < c.LatestWatermarkTimestamp() {
			c.late.Add(1)
			switch c.latePolicy {
			case LateDrop:
				c.logger.Warn().Int64("event_time", ev.EventTime).Int64("watermark", c.LatestWatermarkTimestamp()).Msg("Dropping late event")
				return nil
			case LateLog:
				c.logger.Warn().Int64("event_time", ev.EventTime).Int64("watermark", c.LatestWatermarkTimestamp()).Msg("Processing late event")
			}
		}
		c.observeData(ev.EventTime)
		return c.processData(ev, item.direction)
	case *stream.WatermarkEvent:
		return c.processWatermark(ev, item.direction)
	default:
		return fmt.Errorf("unknown event type %T", item.event)
	}
}

func (c *OperatorChain) processData(ev *stream.DataEvent, dir stream.Direction) error {
	if len(c.operators) == 0 {
		return c.emitter().EmitData(ev)
	}
	if dir == stream.Right {
		return c.operators[0].ProcessRightData(ev)
	}
	return c.operators[0].ProcessLeftData(ev)
}

func (c *OperatorChain) processWatermark(ev *stream.WatermarkEvent, dir stream.Direction) error {
	if len(c.operators) == 0 {
		return c.emitter().EmitWatermark(ev)
	}
	if dir == stream.Right {
		return c.operators[0].ProcessRightWatermark(ev)
	}
	return c.operators[0].ProcessLeftWatermark(ev)
}

func (c *OperatorChain) emitter() stream.OutputEmitter {
	if c.output == nil {
		return &vertexEmitter{from: &c.timestamps}
	}
	return c.output
}

// ChainStats is a point in time view of a chain's counters.
type ChainStats struct {
	Queued    int64
	Processed uint64
	Failed    uint64
	Late      uint64
}

func (c *OperatorChain) Stats() ChainStats {
	return ChainStats{
		Queued:    c.numberOfEvents.Load(),
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Late:      c.late.Load(),
	}
}
