// Package execution runs query DAGs: sources, operator chains and sinks
// connected by direction labelled edges.
package execution

import (
	"fmt"
	"math"
	"sync/atomic"
)

// VertexType tags the closed set of vertex kinds.
type VertexType int

const (
	SourceVertex VertexType = iota
	OperatorChainVertex
	SinkVertex
)

func (t VertexType) String() string {
	switch t {
	case SourceVertex:
		return "SOURCE"
	case OperatorChainVertex:
		return "OPERATOR_CHAIN"
	case SinkVertex:
		return "SINK"
	default:
		return fmt.Sprintf("VertexType(%d)", int(t))
	}
}

// Vertex is a node of an execution DAG. It is implemented only by
// *Source, *OperatorChain and *Sink; use a type switch to dispatch.
type Vertex interface {
	ID() string
	Type() VertexType
	// LatestDataTimestamp is the event time of the last record the vertex handled.
	LatestDataTimestamp() int64
	// LatestWatermarkTimestamp is the last watermark the vertex emitted or received.
	LatestWatermarkTimestamp() int64

	clock() *timestamps
}

// timestamps tracks the latest data and watermark time of a vertex. The
// watermark never moves backwards.
type timestamps struct {
	data      atomic.Int64
	watermark atomic.Int64
}

func (t *timestamps) reset() {
	t.data.Store(math.MinInt64)
	t.watermark.Store(math.MinInt64)
}

func (t *timestamps) LatestDataTimestamp() int64      { return t.data.Load() }
func (t *timestamps) LatestWatermarkTimestamp() int64 { return t.watermark.Load() }

func (t *timestamps) clock() *timestamps { return t }

func (t *timestamps) observeData(ts int64) {
	t.data.Store(ts)
}

// advanceWatermark moves the watermark to ts and reports whether it moved.
func (t *timestamps) advanceWatermark(ts int64) bool {
	for {
		cur := t.watermark.Load()
		if ts <= cur {
			return false
		}
		if t.watermark.CompareAndSwap(cur, ts) {
			return true
		}
	}
}
