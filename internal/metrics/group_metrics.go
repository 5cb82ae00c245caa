package metrics

import "sync"

// GroupMetrics holds the load signals of one group. The metric handler is
// its only writer.
type GroupMetrics struct {
	mu        sync.RWMutex
	numEvents int64
	events    *EWMA
	weight    float64
}

func NewGroupMetrics(alpha float64) *GroupMetrics {
	return &GroupMetrics{events: NewEWMA(alpha)}
}

// Update records the number of queued events seen on a tick. The weight
// follows the smoothed event count.
func (m *GroupMetrics) Update(numEvents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numEvents = numEvents
	m.weight = m.events.Update(float64(numEvents))
}

// Seed sets the load and weight directly, used when a group is restored
// from a stats snapshot.
func (m *GroupMetrics) Seed(load, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.Set(load)
	m.weight = weight
}

// Load is the smoothed number of queued events.
func (m *GroupMetrics) Load() float64 {
	return m.events.Value()
}

func (m *GroupMetrics) Weight() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weight
}

func (m *GroupMetrics) NumEvents() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.numEvents
}

// GroupSnapshot is a point in time copy of GroupMetrics.
type GroupSnapshot struct {
	NumEvents int64   `json:"num_events"`
	Load      float64 `json:"load"`
	Weight    float64 `json:"weight"`
}

func (m *GroupMetrics) Snapshot() GroupSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return GroupSnapshot{
		NumEvents: m.numEvents,
		Load:      m.events.Value(),
		Weight:    m.weight,
	}
}
