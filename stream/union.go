package stream

import (
	"math"
	"sync"
)

// UnionOperator merges two inputs. Data is forwarded as it arrives and the
// emitted watermark is the minimum of the two input watermarks, emitted
// only when it advances.
type UnionOperator struct {
	BaseOperator

	mu               sync.Mutex
	leftWatermark    int64
	rightWatermark   int64
	emittedWatermark int64
}

func NewUnionOperator(id string) *UnionOperator {
	return &UnionOperator{
		BaseOperator:     BaseOperator{id: id},
		leftWatermark:    math.MinInt64,
		rightWatermark:   math.MinInt64,
		emittedWatermark: math.MinInt64,
	}
}

func (o *UnionOperator) ProcessLeftData(event *DataEvent) error {
	return o.Output().EmitData(event)
}

func (o *UnionOperator) ProcessRightData(event *DataEvent) error {
	return o.Output().EmitData(event)
}

func (o *UnionOperator) ProcessLeftWatermark(event *WatermarkEvent) error {
	return o.onWatermark(event.EventTime, Left)
}

func (o *UnionOperator) ProcessRightWatermark(event *WatermarkEvent) error {
	return o.onWatermark(event.EventTime, Right)
}

func (o *UnionOperator) onWatermark(ts int64, dir Direction) error {
	o.mu.Lock()
	if dir == Left {
		if ts > o.leftWatermark {
			o.leftWatermark = ts
		}
	} else if ts > o.rightWatermark {
		o.rightWatermark = ts
	}
	low := o.leftWatermark
	if o.rightWatermark < low {
		low = o.rightWatermark
	}
	if low <= o.emittedWatermark {
		o.mu.Unlock()
		return nil
	}
	o.emittedWatermark = low
	o.mu.Unlock()

	return o.Output().EmitWatermark(NewWatermarkEvent(low))
}
