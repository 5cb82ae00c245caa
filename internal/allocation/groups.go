package allocation

import (
	"sync"

	"github.com/tarungka/wiregroup/internal/group"
)

// Groups is the ordered group collection of one processor. Balancers and
// the scaler append and remove; the owning processor only reads.
type Groups struct {
	mu    sync.RWMutex
	items []*group.Group
}

func newGroups() *Groups {
	return &Groups{}
}

func (c *Groups) Add(g *group.Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, g)
}

// Remove drops the group with the given id and reports whether it was present.
func (c *Groups) Remove(groupID string) (*group.Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, g := range c.items {
		if g.ID() == groupID {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return g, true
		}
	}
	return nil, false
}

func (c *Groups) Contains(groupID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.items {
		if g.ID() == groupID {
			return true
		}
	}
	return false
}

// Snapshot returns the current groups. The slice is never mutated in place,
// so callers may iterate it without holding any lock.
func (c *Groups) Snapshot() []*group.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items
}

func (c *Groups) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Load sums the loads of the groups.
func (c *Groups) Load() float64 {
	var load float64
	for _, g := range c.Snapshot() {
		load += g.Load()
	}
	return load
}

func (c *Groups) drain() []*group.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = nil
	return out
}
