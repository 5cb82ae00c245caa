package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "wiregroup"
	subsystem = "scheduler"
)

// Collector exports scheduler telemetry to Prometheus.
type Collector struct {
	numGroups   prometheus.Gauge
	totalWeight prometheus.Gauge
	numEvents   prometheus.Gauge
	eventsEWMA  prometheus.Gauge

	processors      prometheus.Gauge
	processorLoad   *prometheus.GaugeVec
	scalingActions  *prometheus.CounterVec
	recoveredGroups prometheus.Counter
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		numGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "groups",
			Help:      "Number of live groups.",
		}),
		totalWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total_weight",
			Help:      "Sum of the weights of all groups.",
		}),
		numEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queued_events",
			Help:      "Events queued across all operator chains at the last tick.",
		}),
		eventsEWMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queued_events_ewma",
			Help:      "Smoothed number of queued events.",
		}),
		processors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_processors",
			Help:      "Number of running event processors.",
		}),
		processorLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_processor_load",
			Help:      "Aggregate load of the groups assigned to an event processor.",
		}, []string{"processor"}),
		scalingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scaling_actions_total",
			Help:      "Scaling actions taken, by action.",
		}, []string{"action"}),
		recoveredGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovered_groups_total",
			Help:      "Groups re-admitted after a worker failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.numGroups,
			c.totalWeight,
			c.numEvents,
			c.eventsEWMA,
			c.processors,
			c.processorLoad,
			c.scalingActions,
			c.recoveredGroups,
		)
	}
	return c
}

func (c *Collector) Observe(s GlobalSnapshot) {
	c.numGroups.Set(float64(s.NumGroups))
	c.totalWeight.Set(s.TotalWeight)
	c.numEvents.Set(float64(s.NumEvents))
	c.eventsEWMA.Set(s.EventsEWMA)
}

func (c *Collector) SetProcessors(n int) {
	c.processors.Set(float64(n))
}

func (c *Collector) SetProcessorLoad(processorID string, load float64) {
	c.processorLoad.WithLabelValues(processorID).Set(load)
}

func (c *Collector) DeleteProcessor(processorID string) {
	c.processorLoad.DeleteLabelValues(processorID)
}

func (c *Collector) ScalingAction(action string) {
	c.scalingActions.WithLabelValues(action).Inc()
}

func (c *Collector) GroupsRecovered(n int) {
	c.recoveredGroups.Add(float64(n))
}
