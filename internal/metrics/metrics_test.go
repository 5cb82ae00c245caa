package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEWMAMatchesRecurrence(t *testing.T) {
	tests := []struct {
		name    string
		alpha   float64
		samples []float64
	}{
		{"single sample seeds", 0.7, []float64{42}},
		{"rising", 0.7, []float64{10, 20, 30, 40}},
		{"falling with low alpha", 0.1, []float64{100, 0, 0, 50, 3}},
		{"alpha one tracks last sample", 1, []float64{5, 9, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEWMA(tt.alpha)
			want := tt.samples[0]
			for i, s := range tt.samples {
				if i > 0 {
					want = tt.alpha*s + (1-tt.alpha)*want
				}
				got := e.Update(s)
				assert.InDelta(t, want, got, 1e-9)
			}
			assert.InDelta(t, want, e.Value(), 1e-9)
		})
	}
}

func TestEWMADefaultsAndReset(t *testing.T) {
	e := NewEWMA(0)
	assert.Equal(t, DefaultAlpha, e.Alpha())

	e.Set(12)
	assert.Equal(t, 12.0, e.Value())
	assert.InDelta(t, 0.7*2+0.3*12, e.Update(2), 1e-9)

	e.Reset()
	assert.Zero(t, e.Value())
	assert.Equal(t, 8.0, e.Update(8))
}

type fakeGroup struct {
	id      string
	events  int64
	metrics *GroupMetrics
}

func (f *fakeGroup) ID() string             { return f.id }
func (f *fakeGroup) NumberOfEvents() int64  { return f.events }
func (f *fakeGroup) Metrics() *GroupMetrics { return f.metrics }

type fakeRegistry []*fakeGroup

func (r fakeRegistry) Measured() []Measured {
	out := make([]Measured, 0, len(r))
	for _, g := range r {
		out = append(out, g)
	}
	return out
}

func TestHandlerOnTick(t *testing.T) {
	g1 := &fakeGroup{id: "g1", events: 10, metrics: NewGroupMetrics(0.5)}
	g2 := &fakeGroup{id: "g2", events: 30, metrics: NewGroupMetrics(0.5)}
	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)
	h := NewHandler(fakeRegistry{g1, g2}, NewGlobalMetrics(0.5), collector)

	snap := h.OnTick(Tick{Seq: 1})
	assert.Equal(t, int64(40), snap.NumEvents)
	assert.Equal(t, 40.0, snap.EventsEWMA)
	assert.Equal(t, 40.0, snap.TotalWeight)
	assert.Equal(t, 2, snap.NumGroups)

	g1.events = 0
	g2.events = 10
	snap = h.OnTick(Tick{Seq: 2})
	assert.Equal(t, 5.0, g1.metrics.Weight())
	assert.Equal(t, 20.0, g2.metrics.Load())
	assert.Equal(t, int64(10), g2.metrics.NumEvents())
	assert.Equal(t, 25.0, snap.TotalWeight)
	assert.Equal(t, 25.0, snap.EventsEWMA)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.numGroups))
	assert.Equal(t, 25.0, testutil.ToFloat64(collector.totalWeight))
}

func TestGlobalMetricsAddGroups(t *testing.T) {
	g := NewGlobalMetrics(DefaultAlpha)
	g.AddGroups(2)
	g.AddGroups(-1)
	assert.Equal(t, 1, g.Snapshot().NumGroups)
	g.AddGroups(-5)
	assert.Equal(t, 0, g.Snapshot().NumGroups)
}

func TestGroupMetricsSeed(t *testing.T) {
	m := NewGroupMetrics(0.5)
	m.Seed(40, 35)
	assert.Equal(t, GroupSnapshot{Load: 40, Weight: 35}, m.Snapshot())
	m.Update(0)
	assert.Equal(t, 20.0, m.Load())
	assert.Equal(t, 20.0, m.Weight())
}

func TestTickerPublishesTicks(t *testing.T) {
	mock := clock.NewMock()
	ticker := NewTicker(time.Second, mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ticker.Run(ctx) }()

	// Wait for the ticker goroutine to register with the mock clock.
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case tick := <-ticker.C():
			return tick.Seq >= 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestHandlerRunStopsWhenChannelCloses(t *testing.T) {
	g := &fakeGroup{id: "g", events: 3, metrics: NewGroupMetrics(DefaultAlpha)}
	global := NewGlobalMetrics(DefaultAlpha)
	h := NewHandler(fakeRegistry{g}, global, nil)

	ticks := make(chan Tick, 2)
	ticks <- Tick{Seq: 1}
	ticks <- Tick{Seq: 2}
	close(ticks)

	require.NoError(t, h.Run(context.Background(), ticks))
	assert.Equal(t, int64(3), global.Snapshot().NumEvents)
	assert.Equal(t, 3.0, g.metrics.Weight())
}
