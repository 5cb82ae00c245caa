package processor

import (
	"time"

	"github.com/tarungka/wiregroup/internal/group"
)

// SchedulingPeriodCalculator decides how long a processor may run a group
// before yielding: the minimum period plus a share of the remaining range
// proportional to the group's weight among the processor's groups.
type SchedulingPeriodCalculator struct {
	min time.Duration
	max time.Duration
}

func NewSchedulingPeriodCalculator(min, max time.Duration) *SchedulingPeriodCalculator {
	if max < min {
		max = min
	}
	return &SchedulingPeriodCalculator{min: min, max: max}
}

func (c *SchedulingPeriodCalculator) Period(g *group.Group, groups []*group.Group) time.Duration {
	var total float64
	for _, other := range groups {
		total += other.Weight()
	}
	if total <= 0 {
		return c.min
	}
	share := g.Weight() / total
	if share > 1 {
		share = 1
	}
	if share < 0 {
		share = 0
	}
	return c.min + time.Duration(float64(c.max-c.min)*share)
}

// Min is the period used when a processor has nothing to run.
func (c *SchedulingPeriodCalculator) Min() time.Duration { return c.min }
