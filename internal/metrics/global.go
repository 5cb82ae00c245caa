package metrics

import "sync"

// GlobalMetrics aggregates the group metrics of the whole process.
type GlobalMetrics struct {
	mu          sync.RWMutex
	numEvents   int64
	events      *EWMA
	totalWeight float64
	numGroups   int
}

func NewGlobalMetrics(alpha float64) *GlobalMetrics {
	return &GlobalMetrics{events: NewEWMA(alpha)}
}

// GlobalSnapshot is what the balancer, the scaler and the telemetry
// exporter read.
type GlobalSnapshot struct {
	NumEvents   int64   `json:"num_events"`
	EventsEWMA  float64 `json:"events_ewma"`
	TotalWeight float64 `json:"total_weight"`
	NumGroups   int     `json:"num_groups"`
}

func (g *GlobalMetrics) update(numEvents int64, totalWeight float64, numGroups int) GlobalSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.numEvents = numEvents
	g.events.Update(float64(numEvents))
	g.totalWeight = totalWeight
	g.numGroups = numGroups
	return g.snapshotLocked()
}

// AddGroups adjusts the group count between ticks.
func (g *GlobalMetrics) AddGroups(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.numGroups += delta
	if g.numGroups < 0 {
		g.numGroups = 0
	}
}

func (g *GlobalMetrics) Snapshot() GlobalSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotLocked()
}

func (g *GlobalMetrics) snapshotLocked() GlobalSnapshot {
	return GlobalSnapshot{
		NumEvents:   g.numEvents,
		EventsEWMA:  g.events.Value(),
		TotalWeight: g.totalWeight,
		NumGroups:   g.numGroups,
	}
}
