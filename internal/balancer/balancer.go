// Package balancer places groups on event processors.
package balancer

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/group"
)

// GroupBalancer picks the processor a group runs on. Callers invoke it
// inside allocation.Table.Exclusive.
type GroupBalancer interface {
	// Initialize seeds internal bookkeeping from the current assignment.
	Initialize(assignment []allocation.Entry)
	// AssignGroup appends g to exactly one processor's collection and
	// returns that processor. It fails with allocation.ErrNoProcessors,
	// changing nothing, when the assignment is empty.
	AssignGroup(g *group.Group, assignment []allocation.Entry) (allocation.EventProcessor, error)
}

// New returns the balancer for kind, "round-robin" or "min-load".
func New(kind string, gracePeriod time.Duration, clk clock.Clock) (GroupBalancer, error) {
	switch kind {
	case "", "round-robin":
		return NewRoundRobin(), nil
	case "min-load":
		return NewMinLoad(gracePeriod, clk), nil
	default:
		return nil, fmt.Errorf("unknown balancer type %q", kind)
	}
}

// RoundRobin cycles through the processors in table order, ignoring load.
type RoundRobin struct {
	mu     sync.Mutex
	next   int
	logger zerolog.Logger
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		logger: log.With().Str("component", "balancer").Str("type", "round-robin").Logger(),
	}
}

func (b *RoundRobin) Initialize(assignment []allocation.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
}

func (b *RoundRobin) AssignGroup(g *group.Group, assignment []allocation.Entry) (allocation.EventProcessor, error) {
	if len(assignment) == 0 {
		return nil, allocation.ErrNoProcessors
	}
	b.mu.Lock()
	e := assignment[b.next%len(assignment)]
	b.next = (b.next + 1) % len(assignment)
	b.mu.Unlock()

	e.Groups.Add(g)
	b.logger.Debug().Str("group_id", g.ID()).Str("processor_id", e.Processor.ID()).Msg("Assigned group")
	return e.Processor, nil
}

// MinLoad assigns a group to the processor with the smallest aggregate
// group load. The choice is cached for a grace period after each
// recomputation; assignments inside the grace period reuse it even if the
// loads have diverged since. Ties go to the processor listed first.
type MinLoad struct {
	mu          sync.Mutex
	clock       clock.Clock
	gracePeriod time.Duration
	lastUpdate  time.Time
	cached      allocation.EventProcessor
	logger      zerolog.Logger
}

func NewMinLoad(gracePeriod time.Duration, clk clock.Clock) *MinLoad {
	if clk == nil {
		clk = clock.New()
	}
	return &MinLoad{
		clock:       clk,
		gracePeriod: gracePeriod,
		logger:      log.With().Str("component", "balancer").Str("type", "min-load").Logger(),
	}
}

func (b *MinLoad) Initialize(assignment []allocation.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cached = nil
	b.lastUpdate = time.Time{}
}

func (b *MinLoad) AssignGroup(g *group.Group, assignment []allocation.Entry) (allocation.EventProcessor, error) {
	if len(assignment) == 0 {
		return nil, allocation.ErrNoProcessors
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	target, ok := b.cachedEntry(assignment)
	if !ok || b.clock.Since(b.lastUpdate) >= b.gracePeriod {
		target = minLoadEntry(assignment)
		b.cached = target.Processor
		b.lastUpdate = b.clock.Now()
		b.logger.Debug().
			Str("processor_id", target.Processor.ID()).
			Float64("load", target.Groups.Load()).
			Msg("Recomputed minimum load processor")
	}

	target.Groups.Add(g)
	b.logger.Debug().Str("group_id", g.ID()).Str("processor_id", target.Processor.ID()).Msg("Assigned group")
	return target.Processor, nil
}

func (b *MinLoad) cachedEntry(assignment []allocation.Entry) (allocation.Entry, bool) {
	if b.cached == nil {
		return allocation.Entry{}, false
	}
	for _, e := range assignment {
		if e.Processor.ID() == b.cached.ID() {
			return e, true
		}
	}
	return allocation.Entry{}, false
}

func minLoadEntry(assignment []allocation.Entry) allocation.Entry {
	best := assignment[0]
	bestLoad := best.Groups.Load()
	for _, e := range assignment[1:] {
		if load := e.Groups.Load(); load < bestLoad {
			best, bestLoad = e, load
		}
	}
	return best
}
