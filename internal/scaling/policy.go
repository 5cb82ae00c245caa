// Package scaling grows and shrinks the event processor pool.
package scaling

import (
	"math"

	"github.com/tarungka/wiregroup/internal/allocation"
)

// Action is what the policy wants done with the pool.
type Action int

const (
	None Action = iota
	ScaleOut
	ScaleIn
)

func (a Action) String() string {
	switch a {
	case ScaleOut:
		return "SCALE_OUT"
	case ScaleIn:
		return "SCALE_IN"
	default:
		return "NONE"
	}
}

// PolicyConfig holds the thresholds of the policy. Loads are expressed
// as a fraction of ProcessorCapacity.
type PolicyConfig struct {
	IdleLoadThreshold float64
	OverloadThreshold float64
	// ProcessorCapacity is the load a single processor is considered full at.
	ProcessorCapacity float64
	MinProcessors     int
	MaxProcessors     int
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Action Action
	// Delta is the number of processors to add or remove.
	Delta int
	// Utilization is the average load per processor over capacity.
	Utilization float64
	// Target is the processor to remove on ScaleIn.
	Target allocation.EventProcessor
}

// Policy decides on scaling from the load of the non-isolated processors.
type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.IdleLoadThreshold <= 0 {
		cfg.IdleLoadThreshold = 0.3
	}
	if cfg.OverloadThreshold <= cfg.IdleLoadThreshold {
		cfg.OverloadThreshold = math.Max(0.9, cfg.IdleLoadThreshold*2)
	}
	if cfg.ProcessorCapacity <= 0 {
		cfg.ProcessorCapacity = 1000
	}
	if cfg.MinProcessors <= 0 {
		cfg.MinProcessors = 1
	}
	if cfg.MaxProcessors < cfg.MinProcessors {
		cfg.MaxProcessors = cfg.MinProcessors
	}
	return &Policy{cfg: cfg}
}

func (p *Policy) Config() PolicyConfig { return p.cfg }

// Decide evaluates the current assignment.
func (p *Policy) Decide(assignment []allocation.Entry) Decision {
	n := len(assignment)
	if n < p.cfg.MinProcessors {
		return Decision{Action: ScaleOut, Delta: p.cfg.MinProcessors - n}
	}

	var total float64
	for _, e := range assignment {
		total += e.Groups.Load()
	}
	utilization := total / float64(n) / p.cfg.ProcessorCapacity

	switch {
	case utilization > p.cfg.OverloadThreshold && n < p.cfg.MaxProcessors:
		desired := int(math.Ceil(total / (p.cfg.ProcessorCapacity * p.cfg.OverloadThreshold)))
		delta := desired - n
		if delta < 1 {
			delta = 1
		}
		if n+delta > p.cfg.MaxProcessors {
			delta = p.cfg.MaxProcessors - n
		}
		return Decision{Action: ScaleOut, Delta: delta, Utilization: utilization}

	case utilization < p.cfg.IdleLoadThreshold && n > p.cfg.MinProcessors:
		return Decision{Action: ScaleIn, Delta: 1, Utilization: utilization, Target: leastLoaded(assignment)}
	}
	return Decision{Action: None, Utilization: utilization}
}

// leastLoaded prefers the most recently added processor among equals.
func leastLoaded(assignment []allocation.Entry) allocation.EventProcessor {
	best := assignment[len(assignment)-1]
	bestLoad := best.Groups.Load()
	for i := len(assignment) - 2; i >= 0; i-- {
		if load := assignment[i].Groups.Load(); load < bestLoad {
			best, bestLoad = assignment[i], load
		}
	}
	return best.Processor
}
