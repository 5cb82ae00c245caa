package execution

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/tarungka/wiregroup/stream"
)

type route struct {
	target    Vertex
	direction stream.Direction
}

// vertexEmitter delivers the output of a vertex to its downstream
// vertices. Operator chains receive the event in their queue; sinks are
// written to directly. Watermarks that do not advance the emitting
// vertex's watermark are suppressed.
type vertexEmitter struct {
	ctx    context.Context
	from   *timestamps
	routes []route
}

func (e *vertexEmitter) EmitData(event *stream.DataEvent) error {
	var result *multierror.Error
	for _, r := range e.routes {
		switch t := r.target.(type) {
		case *OperatorChain:
			t.Enqueue(event, r.direction)
		case *Sink:
			if err := t.write(e.ctx, event); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func (e *vertexEmitter) EmitWatermark(event *stream.WatermarkEvent) error {
	if !e.from.advanceWatermark(event.EventTime) {
		return nil
	}
	for _, r := range e.routes {
		switch t := r.target.(type) {
		case *OperatorChain:
			t.Enqueue(event, r.direction)
		case *Sink:
			t.advanceWatermark(event.EventTime)
		}
	}
	return nil
}

// chainEmitter links two consecutive operators of a chain.
type chainEmitter struct {
	next stream.Operator
}

func (e chainEmitter) EmitData(event *stream.DataEvent) error {
	return e.next.ProcessLeftData(event)
}

func (e chainEmitter) EmitWatermark(event *stream.WatermarkEvent) error {
	return e.next.ProcessLeftWatermark(event)
}
