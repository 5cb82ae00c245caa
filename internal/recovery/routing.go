package recovery

import (
	"sort"
	"sync"
)

// RoutingTable maps an application to the worker hosting its group.
type RoutingTable interface {
	Set(appID, workerID string)
	Lookup(appID string) (string, bool)
	Remove(appID string)
	// RemoveWorker drops every route to workerID and returns the apps
	// that were routed there.
	RemoveWorker(workerID string) []string
}

// MemoryRoutingTable is a RoutingTable kept in process memory.
type MemoryRoutingTable struct {
	mu     sync.RWMutex
	routes map[string]string
}

func NewMemoryRoutingTable() *MemoryRoutingTable {
	return &MemoryRoutingTable{routes: make(map[string]string)}
}

func (t *MemoryRoutingTable) Set(appID, workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[appID] = workerID
}

func (t *MemoryRoutingTable) Lookup(appID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.routes[appID]
	return w, ok
}

func (t *MemoryRoutingTable) Remove(appID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, appID)
}

func (t *MemoryRoutingTable) RemoveWorker(workerID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var apps []string
	for app, w := range t.routes {
		if w == workerID {
			apps = append(apps, app)
			delete(t.routes, app)
		}
	}
	sort.Strings(apps)
	return apps
}
