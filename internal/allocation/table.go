// Package allocation holds the assignment of groups to event processors.
package allocation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tarungka/wiregroup/internal/group"
)

var (
	ErrNoProcessors     = errors.New("no event processors available")
	ErrUnknownProcessor = errors.New("unknown event processor")
)

// EventProcessor is the identity the table keys assignments by.
type EventProcessor interface {
	ID() string
	// IsRunningIsolatedGroup reports whether the processor is dedicated to
	// a single isolated group.
	IsRunningIsolatedGroup() bool
}

// Entry pairs a processor with its group collection.
type Entry struct {
	Processor EventProcessor
	Groups    *Groups
}

type state struct {
	processors []EventProcessor
	entries    []Entry
	groups     map[string]*Groups
	isolated   int
}

// Table maps every event processor to the groups it executes. Reads are
// lock free over an immutable state that writers replace wholesale.
type Table struct {
	// mu serializes structural writers.
	mu    sync.Mutex
	state atomic.Pointer[state]

	// assignMu serializes compound operations such as removing a processor
	// and redistributing its groups. See Exclusive.
	assignMu sync.Mutex
}

func NewTable() *Table {
	t := &Table{}
	t.state.Store(&state{groups: make(map[string]*Groups)})
	return t
}

// Put registers a processor with an empty group collection. Registering
// the same processor twice is a no-op.
func (t *Table) Put(p EventProcessor) *Groups {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	if c, ok := cur.groups[p.ID()]; ok {
		return c
	}
	c := newGroups()
	next := &state{
		processors: append(append(make([]EventProcessor, 0, len(cur.processors)+1), cur.processors...), p),
		entries:    append(append(make([]Entry, 0, len(cur.entries)+1), cur.entries...), Entry{Processor: p, Groups: c}),
		groups:     make(map[string]*Groups, len(cur.groups)+1),
		isolated:   cur.isolated,
	}
	for k, v := range cur.groups {
		next.groups[k] = v
	}
	next.groups[p.ID()] = c
	if p.IsRunningIsolatedGroup() {
		next.isolated++
	}
	t.state.Store(next)
	return c
}

// Remove detaches a processor and returns its groups. The caller must
// reassign them. Unknown processors yield nil.
func (t *Table) Remove(p EventProcessor) []*group.Group {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	c, ok := cur.groups[p.ID()]
	if !ok {
		return nil
	}
	next := &state{
		processors: make([]EventProcessor, 0, len(cur.processors)-1),
		entries:    make([]Entry, 0, len(cur.entries)-1),
		groups:     make(map[string]*Groups, len(cur.groups)-1),
		isolated:   cur.isolated,
	}
	for _, e := range cur.entries {
		if e.Processor.ID() != p.ID() {
			next.processors = append(next.processors, e.Processor)
			next.entries = append(next.entries, e)
			next.groups[e.Processor.ID()] = e.Groups
		}
	}
	if p.IsRunningIsolatedGroup() {
		next.isolated--
	}
	t.state.Store(next)
	return c.drain()
}

// GetValue returns the live group collection of p, or nil if p is not
// registered.
func (t *Table) GetValue(p EventProcessor) *Groups {
	return t.state.Load().groups[p.ID()]
}

// EventProcessors returns all processors in registration order. The
// returned slice must not be modified.
func (t *Table) EventProcessors() []EventProcessor {
	return t.state.Load().processors
}

// EventProcessorsNotRunningIsolatedGroup returns the processors usable for
// normal balancing. When no processor is isolated the full list is
// returned without copying.
func (t *Table) EventProcessorsNotRunningIsolatedGroup() []EventProcessor {
	s := t.state.Load()
	if s.isolated == 0 {
		return s.processors
	}
	out := make([]EventProcessor, 0, len(s.processors)-s.isolated)
	for _, p := range s.processors {
		if !p.IsRunningIsolatedGroup() {
			out = append(out, p)
		}
	}
	return out
}

// Entries returns every (processor, groups) pair in registration order.
func (t *Table) Entries() []Entry {
	return t.state.Load().entries
}

// Assignment returns the (processor, groups) pairs eligible for normal
// balancing, i.e. excluding isolated processors.
func (t *Table) Assignment() []Entry {
	s := t.state.Load()
	if s.isolated == 0 {
		return s.entries
	}
	out := make([]Entry, 0, len(s.entries)-s.isolated)
	for _, e := range s.entries {
		if !e.Processor.IsRunningIsolatedGroup() {
			out = append(out, e)
		}
	}
	return out
}

func (t *Table) Len() int {
	return len(t.state.Load().processors)
}

// Locate finds the processor currently holding the group.
func (t *Table) Locate(groupID string) (EventProcessor, bool) {
	for _, e := range t.Entries() {
		if e.Groups.Contains(groupID) {
			return e.Processor, true
		}
	}
	return nil, false
}

// RemoveGroup drops the group from whichever processor holds it.
func (t *Table) RemoveGroup(groupID string) (EventProcessor, bool) {
	for _, e := range t.Entries() {
		if _, ok := e.Groups.Remove(groupID); ok {
			return e.Processor, true
		}
	}
	return nil, false
}

// Exclusive runs fn while holding the table's assignment lock. Every
// sequence that moves groups between processors runs under it, so a group
// removed from one processor is assigned elsewhere before any other
// assignment can observe the table.
func (t *Table) Exclusive(fn func() error) error {
	t.assignMu.Lock()
	defer t.assignMu.Unlock()
	return fn()
}

// ProcessorInfo describes one processor's assignment.
type ProcessorInfo struct {
	ID       string   `json:"id"`
	Isolated bool     `json:"isolated"`
	Load     float64  `json:"load"`
	Groups   []string `json:"groups"`
}

// Dump describes the whole table.
func (t *Table) Dump() []ProcessorInfo {
	entries := t.Entries()
	out := make([]ProcessorInfo, 0, len(entries))
	for _, e := range entries {
		info := ProcessorInfo{
			ID:       e.Processor.ID(),
			Isolated: e.Processor.IsRunningIsolatedGroup(),
			Load:     e.Groups.Load(),
			Groups:   []string{},
		}
		for _, g := range e.Groups.Snapshot() {
			info.Groups = append(info.Groups, g.ID())
		}
		out = append(out, info)
	}
	return out
}

func (t *Table) String() string {
	var b strings.Builder
	for _, info := range t.Dump() {
		fmt.Fprintf(&b, "%s: groups=%d load=%.2f isolated=%t\n", info.ID, len(info.Groups), info.Load, info.Isolated)
	}
	return b.String()
}
