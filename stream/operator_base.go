package stream

import (
	"fmt"
	"sync"
)

// BaseOperator is a base struct for all stream operators. It forwards
// watermarks unchanged and rejects right-side input.
type BaseOperator struct {
	// The unique identifier of the operator.
	id string

	mu    sync.Mutex
	state State

	emitter OutputEmitter
}

// NewBaseOperator creates a new BaseOperator.
func NewBaseOperator(id string) *BaseOperator {
	return &BaseOperator{
		id:    id,
		state: make(State),
	}
}

// ID returns the unique identifier of the operator.
func (o *BaseOperator) ID() string {
	return o.id
}

// SetOutputEmitter sets the emitter used by Output.
func (o *BaseOperator) SetOutputEmitter(emitter OutputEmitter) {
	o.emitter = emitter
}

// Output returns the emitter, or a discarding one if none has been set.
func (o *BaseOperator) Output() OutputEmitter {
	if o.emitter == nil {
		return discardEmitter{}
	}
	return o.emitter
}

func (o *BaseOperator) ProcessLeftWatermark(event *WatermarkEvent) error {
	return o.Output().EmitWatermark(event)
}

func (o *BaseOperator) ProcessRightData(event *DataEvent) error {
	return fmt.Errorf("%s: %w", o.id, ErrUnsupportedInput)
}

func (o *BaseOperator) ProcessRightWatermark(event *WatermarkEvent) error {
	return fmt.Errorf("%s: %w", o.id, ErrUnsupportedInput)
}

// Snapshot returns a shallow copy of the operator state.
func (o *BaseOperator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(State, len(o.state))
	for k, v := range o.state {
		out[k] = v
	}
	return out
}

// Restore restores the state of the operator.
func (o *BaseOperator) Restore(state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = make(State, len(state))
	for k, v := range state {
		o.state[k] = v
	}
}

func (o *BaseOperator) updateState(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		o.state = make(State)
	}
	fn(o.state)
}

type discardEmitter struct{}

func (discardEmitter) EmitData(*DataEvent) error           { return nil }
func (discardEmitter) EmitWatermark(*WatermarkEvent) error { return nil }
