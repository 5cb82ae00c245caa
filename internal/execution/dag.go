package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/dag"
	"github.com/tarungka/wiregroup/stream"
)

var (
	ErrInvalidEdge = errors.New("invalid edge")
	ErrInvalidDAG  = errors.New("invalid dag")
	ErrStarted     = errors.New("dag already started")
)

// DAG is the execution graph of one query.
type DAG struct {
	queryID string

	mu      sync.RWMutex
	graph   *dag.DAG[Vertex]
	chains  []*OperatorChain
	started bool
	closed  bool

	logger zerolog.Logger
}

func NewDAG(queryID string) *DAG {
	return &DAG{
		queryID: queryID,
		graph:   dag.New[Vertex](),
		logger:  log.With().Str("component", "execution_dag").Str("query_id", queryID).Logger(),
	}
}

func (d *DAG) QueryID() string { return d.queryID }

func (d *DAG) AddVertex(v Vertex) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrStarted
	}
	if d.graph.AddVertex(v) {
		if c, ok := v.(*OperatorChain); ok {
			d.chains = append(d.chains, c)
		}
	}
	return nil
}

// AddEdge connects from to to. Sources cannot have inputs and sinks cannot
// have outputs.
func (d *DAG) AddEdge(from, to Vertex, dir stream.Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrStarted
	}
	if from.Type() == SinkVertex || to.Type() == SourceVertex {
		return fmt.Errorf("%w: %s(%s) -> %s(%s)", ErrInvalidEdge, from.ID(), from.Type(), to.ID(), to.Type())
	}
	if dir == stream.Right && to.Type() != OperatorChainVertex {
		return fmt.Errorf("%w: right input into %s", ErrInvalidEdge, to.Type())
	}
	return d.graph.AddEdge(from, to, dir)
}

func (d *DAG) Vertices() []Vertex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.graph.Vertices()
}

func (d *DAG) Edges(v Vertex) []dag.Edge[Vertex] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.graph.Edges(v)
}

// OperatorChains returns the chains in insertion order.
func (d *DAG) OperatorChains() []*OperatorChain {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*OperatorChain(nil), d.chains...)
}

func (d *DAG) Sources() []*Source {
	var out []*Source
	for _, v := range d.Vertices() {
		if s, ok := v.(*Source); ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *DAG) Sinks() []*Sink {
	var out []*Sink
	for _, v := range d.Vertices() {
		if s, ok := v.(*Sink); ok {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that the DAG has at least one source and one sink,
// that every source feeds something and that every other vertex has an
// input.
func (d *DAG) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var sources, sinks int
	for _, v := range d.graph.Vertices() {
		switch v.Type() {
		case SourceVertex:
			sources++
			if d.graph.OutDegree(v) == 0 {
				return fmt.Errorf("%w: source %s has no downstream vertex", ErrInvalidDAG, v.ID())
			}
		case SinkVertex:
			sinks++
			if d.graph.InDegree(v) == 0 {
				return fmt.Errorf("%w: sink %s has no input", ErrInvalidDAG, v.ID())
			}
		case OperatorChainVertex:
			if d.graph.InDegree(v) == 0 {
				return fmt.Errorf("%w: operator chain %s has no input", ErrInvalidDAG, v.ID())
			}
		}
	}
	if sources == 0 || sinks == 0 {
		return fmt.Errorf("%w: needs at least one source and one sink", ErrInvalidDAG)
	}
	return nil
}

// Start wires every vertex to its downstream vertices, opens the sinks and
// then starts the sources, so nothing is produced before its consumers
// exist.
func (d *DAG) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrStarted
	}
	order, err := d.graph.TopologicalSort()
	if err != nil {
		return err
	}

	var opened []*Sink
	for i := len(order) - 1; i >= 0; i-- {
		v := order[i]
		out := d.emitterFor(ctx, v)
		switch t := v.(type) {
		case *Sink:
			if err := t.Open(ctx); err != nil {
				closeSinks(opened)
				return err
			}
			opened = append(opened, t)
		case *OperatorChain:
			t.wire(out)
		case *Source:
			t.output = out
		}
	}

	var started []*Source
	for _, v := range order {
		src, ok := v.(*Source)
		if !ok {
			continue
		}
		if err := src.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Close()
			}
			closeSinks(opened)
			return err
		}
		started = append(started, src)
	}

	d.started = true
	d.logger.Info().Int("vertices", len(order)).Int("chains", len(d.chains)).Msg("Execution DAG started")
	return nil
}

func (d *DAG) emitterFor(ctx context.Context, v Vertex) *vertexEmitter {
	e := &vertexEmitter{ctx: ctx, from: v.clock()}
	for _, edge := range d.graph.Edges(v) {
		e.routes = append(e.routes, route{target: edge.Vertex, direction: edge.Direction})
	}
	return e
}

// Close stops the sources, then closes the sinks. Events still queued in
// chains are discarded.
func (d *DAG) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var result *multierror.Error
	vertices := d.graph.Vertices()
	for _, v := range vertices {
		if s, ok := v.(*Source); ok {
			if err := s.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if d.started {
		for _, v := range vertices {
			if s, ok := v.(*Sink); ok {
				if err := s.Close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}
	d.logger.Info().Msg("Execution DAG closed")
	return result.ErrorOrNil()
}

// NumberOfEvents sums the queued events of every chain.
func (d *DAG) NumberOfEvents() int64 {
	var n int64
	for _, c := range d.OperatorChains() {
		n += c.NumberOfEvents()
	}
	return n
}

func closeSinks(sinks []*Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
