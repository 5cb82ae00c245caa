package processor

import (
	"sync"

	"github.com/tarungka/wiregroup/internal/group"
)

// NextGroupSelector picks the next group a processor should run. It only
// returns groups with pending events and must not starve any of them.
// Selectors are used by a single processor and need not be safe for
// concurrent use.
type NextGroupSelector interface {
	Next(groups []*group.Group) *group.Group
}

// RoundRobinSelector visits the groups in order, skipping empty ones.
type RoundRobinSelector struct {
	next int
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (s *RoundRobinSelector) Next(groups []*group.Group) *group.Group {
	n := len(groups)
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		if groups[idx].HasPendingEvents() {
			s.next = idx + 1
			return groups[idx]
		}
	}
	return nil
}

// WeightedSelector is a smooth weighted round robin over the non-empty
// groups. A group's weight is its EWMA weight, at least 1, so heavier
// groups are picked more often and every group is eventually picked.
type WeightedSelector struct {
	mu      sync.Mutex
	current map[string]float64
}

func NewWeightedSelector() *WeightedSelector {
	return &WeightedSelector{current: make(map[string]float64)}
}

func (s *WeightedSelector) Next(groups []*group.Group) *group.Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best      *group.Group
		bestScore float64
		total     float64
		live      = make(map[string]struct{}, len(groups))
	)
	for _, g := range groups {
		if !g.HasPendingEvents() {
			continue
		}
		live[g.ID()] = struct{}{}
		w := effectiveWeight(g)
		total += w
		s.current[g.ID()] += w
		if best == nil || s.current[g.ID()] > bestScore {
			best = g
			bestScore = s.current[g.ID()]
		}
	}
	for id := range s.current {
		if _, ok := live[id]; !ok {
			delete(s.current, id)
		}
	}
	if best != nil {
		s.current[best.ID()] -= total
	}
	return best
}

func effectiveWeight(g *group.Group) float64 {
	if w := g.Weight(); w > 1 {
		return w
	}
	return 1
}
