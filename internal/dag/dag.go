// Package dag is a small directed acyclic graph with ordered, direction
// labelled edges.
package dag

import (
	"errors"

	"github.com/tarungka/wiregroup/stream"
)

var (
	ErrUnknownVertex = errors.New("unknown vertex")
	ErrCycle         = errors.New("edge would create a cycle")
	ErrDuplicateEdge = errors.New("edge already exists")
)

// Edge points at a neighbour. For outgoing edges Vertex is the downstream
// vertex, for incoming edges the upstream one.
type Edge[V comparable] struct {
	Vertex    V
	Direction stream.Direction
}

// DAG keeps vertices and edges in insertion order so that iteration and
// topological sorting are deterministic. It is not safe for concurrent
// mutation.
type DAG[V comparable] struct {
	vertices []V
	out      map[V][]Edge[V]
	in       map[V][]Edge[V]
}

func New[V comparable]() *DAG[V] {
	return &DAG[V]{
		out: make(map[V][]Edge[V]),
		in:  make(map[V][]Edge[V]),
	}
}

// AddVertex adds v and reports whether it was not already present.
func (d *DAG[V]) AddVertex(v V) bool {
	if d.Contains(v) {
		return false
	}
	d.vertices = append(d.vertices, v)
	d.out[v] = nil
	d.in[v] = nil
	return true
}

func (d *DAG[V]) Contains(v V) bool {
	_, ok := d.out[v]
	return ok
}

// AddEdge adds from -> to, entering to on the given side.
func (d *DAG[V]) AddEdge(from, to V, dir stream.Direction) error {
	if !d.Contains(from) || !d.Contains(to) {
		return ErrUnknownVertex
	}
	for _, e := range d.out[from] {
		if e.Vertex == to {
			return ErrDuplicateEdge
		}
	}
	if from == to || d.reachable(to, from) {
		return ErrCycle
	}
	d.out[from] = append(d.out[from], Edge[V]{Vertex: to, Direction: dir})
	d.in[to] = append(d.in[to], Edge[V]{Vertex: from, Direction: dir})
	return nil
}

// Edges returns the outgoing edges of v in insertion order.
func (d *DAG[V]) Edges(v V) []Edge[V] {
	return append([]Edge[V](nil), d.out[v]...)
}

func (d *DAG[V]) InDegree(v V) int { return len(d.in[v]) }

func (d *DAG[V]) OutDegree(v V) int { return len(d.out[v]) }

func (d *DAG[V]) Vertices() []V {
	return append([]V(nil), d.vertices...)
}

// TopologicalSort orders the vertices so that every edge points forward.
// Ties are broken by insertion order.
func (d *DAG[V]) TopologicalSort() ([]V, error) {
	indeg := make(map[V]int, len(d.vertices))
	for _, v := range d.vertices {
		indeg[v] = len(d.in[v])
	}

	var queue []V
	for _, v := range d.vertices {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}

	order := make([]V, 0, len(d.vertices))
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		for _, e := range d.out[v] {
			indeg[e.Vertex]--
			if indeg[e.Vertex] == 0 {
				queue = append(queue, e.Vertex)
			}
		}
	}
	if len(order) != len(d.vertices) {
		return nil, ErrCycle
	}
	return order, nil
}

func (d *DAG[V]) reachable(from, to V) bool {
	seen := map[V]bool{from: true}
	stack := []V{from}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v == to {
			return true
		}
		for _, e := range d.out[v] {
			if !seen[e.Vertex] {
				seen[e.Vertex] = true
				stack = append(stack, e.Vertex)
			}
		}
	}
	return false
}
