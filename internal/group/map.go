package group

import (
	"errors"
	"slices"
	"sync"

	"github.com/tarungka/wiregroup/internal/metrics"
)

var (
	ErrGroupExists   = errors.New("group already exists")
	ErrGroupNotFound = errors.New("group not found")
)

// EventKind tells whether a group was added or deleted.
type EventKind int

const (
	Addition EventKind = iota
	Deletion
)

func (k EventKind) String() string {
	if k == Addition {
		return "ADDITION"
	}
	return "DELETION"
}

// Event is published to subscribers after the map changed.
type Event struct {
	Kind  EventKind
	Group *Group
}

// Map is the registry of live groups, indexed by group id and app id.
type Map struct {
	mu          sync.RWMutex
	byID        map[string]*Group
	byApp       map[string]*Group
	order       []string
	subscribers []func(Event)
}

func NewMap() *Map {
	return &Map{
		byID:  make(map[string]*Group),
		byApp: make(map[string]*Group),
	}
}

// Subscribe registers fn to be called after every addition and deletion.
// fn runs on the goroutine that changed the map.
func (m *Map) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Map) Add(g *Group) error {
	m.mu.Lock()
	if _, ok := m.byID[g.ID()]; ok {
		m.mu.Unlock()
		return ErrGroupExists
	}
	if _, ok := m.byApp[g.AppID()]; ok {
		m.mu.Unlock()
		return ErrGroupExists
	}
	m.byID[g.ID()] = g
	m.byApp[g.AppID()] = g
	m.order = append(m.order, g.ID())
	subs := slices.Clone(m.subscribers)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Kind: Addition, Group: g})
	}
	return nil
}

func (m *Map) Remove(id string) (*Group, error) {
	m.mu.Lock()
	g, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrGroupNotFound
	}
	delete(m.byID, id)
	delete(m.byApp, g.AppID())
	for i, x := range m.order {
		if x == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	subs := slices.Clone(m.subscribers)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Kind: Deletion, Group: g})
	}
	return g, nil
}

func (m *Map) Get(id string) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.byID[id]
	return g, ok
}

func (m *Map) ByApp(appID string) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.byApp[appID]
	return g, ok
}

// Groups returns the live groups in creation order.
func (m *Map) Groups() []*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Measured implements metrics.Registry.
func (m *Map) Measured() []metrics.Measured {
	groups := m.Groups()
	out := make([]metrics.Measured, len(groups))
	for i, g := range groups {
		out[i] = g
	}
	return out
}
