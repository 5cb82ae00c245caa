// Package group holds the scheduling unit: all execution DAGs of one
// application, processed by at most one event processor at a time.
package group

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/metrics"
)

var (
	ErrQueryExists   = errors.New("query already exists in group")
	ErrQueryNotFound = errors.New("query not found in group")
)

// Group bundles the execution DAGs of one application.
type Group struct {
	id    string
	appID string

	mu      sync.RWMutex
	dags    map[string]*execution.DAG
	queries []string

	metrics  *metrics.GroupMetrics
	isolated atomic.Bool

	// leased is held by the processor currently draining the group.
	leased atomic.Bool
	// cursor rotates the first chain visited; only touched by the lease holder.
	cursor int
}

// New creates an empty group with a fresh id.
func New(appID string, alpha float64) *Group {
	return NewWithID(newID(), appID, alpha)
}

// NewWithID creates an empty group with a known id, used on recovery.
func NewWithID(id, appID string, alpha float64) *Group {
	return &Group{
		id:      id,
		appID:   appID,
		dags:    make(map[string]*execution.DAG),
		metrics: metrics.NewGroupMetrics(alpha),
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *Group) ID() string    { return g.id }
func (g *Group) AppID() string { return g.appID }

// AddDAG adds the DAG of a query.
func (g *Group) AddDAG(d *execution.DAG) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.dags[d.QueryID()]; ok {
		return ErrQueryExists
	}
	g.dags[d.QueryID()] = d
	g.queries = append(g.queries, d.QueryID())
	return nil
}

// RemoveDAG detaches the DAG of a query without closing it.
func (g *Group) RemoveDAG(queryID string) (*execution.DAG, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.dags[queryID]
	if !ok {
		return nil, ErrQueryNotFound
	}
	delete(g.dags, queryID)
	for i, q := range g.queries {
		if q == queryID {
			g.queries = append(g.queries[:i], g.queries[i+1:]...)
			break
		}
	}
	return d, nil
}

func (g *Group) DAG(queryID string) (*execution.DAG, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.dags[queryID]
	return d, ok
}

// QueryIDs returns the query ids in the order they were added.
func (g *Group) QueryIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.queries...)
}

func (g *Group) NumQueries() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.queries)
}

func (g *Group) chains() []*execution.OperatorChain {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*execution.OperatorChain
	for _, q := range g.queries {
		out = append(out, g.dags[q].OperatorChains()...)
	}
	return out
}

// NumberOfEvents sums the queued events of every chain of every DAG.
func (g *Group) NumberOfEvents() int64 {
	var n int64
	for _, c := range g.chains() {
		n += c.NumberOfEvents()
	}
	return n
}

func (g *Group) HasPendingEvents() bool {
	for _, c := range g.chains() {
		if c.NumberOfEvents() > 0 {
			return true
		}
	}
	return false
}

func (g *Group) Metrics() *metrics.GroupMetrics { return g.metrics }

// Load is the smoothed number of queued events.
func (g *Group) Load() float64   { return g.metrics.Load() }
func (g *Group) Weight() float64 { return g.metrics.Weight() }

func (g *Group) Isolated() bool     { return g.isolated.Load() }
func (g *Group) SetIsolated(v bool) { g.isolated.Store(v) }

// TryAcquire takes the exclusive processing lease. A group must only be
// processed while the lease is held.
func (g *Group) TryAcquire() bool {
	return g.leased.CompareAndSwap(false, true)
}

func (g *Group) Release() {
	g.leased.Store(false)
}

// Process drains up to budget events from the group's chains, stopping
// early once deadline has passed. A zero deadline means no time limit.
// The caller must hold the lease.
func (g *Group) Process(budget int, deadline time.Time) int {
	chains := g.chains()
	if len(chains) == 0 || budget <= 0 {
		return 0
	}

	start := g.cursor % len(chains)
	g.cursor = start + 1

	processed := 0
	for i := 0; i < len(chains) && processed < budget; i++ {
		c := chains[(start+i)%len(chains)]
		for processed < budget && c.ProcessNextEvent() {
			processed++
			if processed%16 == 0 && !deadline.IsZero() && time.Now().After(deadline) {
				return processed
			}
		}
	}
	return processed
}

// Close closes every DAG of the group.
func (g *Group) Close() error {
	g.mu.RLock()
	dags := make([]*execution.DAG, 0, len(g.queries))
	for _, q := range g.queries {
		dags = append(dags, g.dags[q])
	}
	g.mu.RUnlock()

	var result *multierror.Error
	for _, d := range dags {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Info is a serialisable description of a group.
type Info struct {
	ID        string                `json:"id"`
	AppID     string                `json:"app_id"`
	Queries   []string              `json:"queries"`
	Isolated  bool                  `json:"isolated"`
	NumEvents int64                 `json:"num_events"`
	Metrics   metrics.GroupSnapshot `json:"metrics"`
}

func (g *Group) Info() Info {
	q := g.QueryIDs()
	sort.Strings(q)
	return Info{
		ID:        g.id,
		AppID:     g.appID,
		Queries:   q,
		Isolated:  g.Isolated(),
		NumEvents: g.NumberOfEvents(),
		Metrics:   g.metrics.Snapshot(),
	}
}
