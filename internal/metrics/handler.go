package metrics

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Measured is a group as seen by the metric handler.
type Measured interface {
	ID() string
	NumberOfEvents() int64
	Metrics() *GroupMetrics
}

// Registry lists the live groups.
type Registry interface {
	Measured() []Measured
}

// Handler turns ticks into group and global metric updates. It is the
// only writer of those metrics.
type Handler struct {
	registry  Registry
	global    *GlobalMetrics
	collector *Collector
	logger    zerolog.Logger
}

// NewHandler creates a handler. collector may be nil.
func NewHandler(registry Registry, global *GlobalMetrics, collector *Collector) *Handler {
	return &Handler{
		registry:  registry,
		global:    global,
		collector: collector,
		logger:    log.With().Str("component", "metric_handler").Logger(),
	}
}

// OnTick samples the queued events of every group, updates the group
// averages and the process totals.
func (h *Handler) OnTick(tick Tick) GlobalSnapshot {
	groups := h.registry.Measured()

	var numEvents int64
	var totalWeight float64
	for _, g := range groups {
		n := g.NumberOfEvents()
		m := g.Metrics()
		m.Update(n)
		numEvents += n
		totalWeight += m.Weight()
	}

	snap := h.global.update(numEvents, totalWeight, len(groups))
	if h.collector != nil {
		h.collector.Observe(snap)
	}
	h.logger.Trace().
		Uint64("seq", tick.Seq).
		Int64("num_events", snap.NumEvents).
		Float64("events_ewma", snap.EventsEWMA).
		Float64("total_weight", snap.TotalWeight).
		Int("num_groups", snap.NumGroups).
		Msg("Metrics updated")
	return snap
}

// Run consumes ticks until ctx is cancelled or the channel is closed.
func (h *Handler) Run(ctx context.Context, ticks <-chan Tick) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			h.OnTick(tick)
		}
	}
}
