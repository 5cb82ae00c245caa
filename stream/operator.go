package stream

import "errors"

// ErrUnsupportedInput is returned when a unary operator receives input on
// its right side.
var ErrUnsupportedInput = errors.New("operator does not accept right input")

// State represents the state of an operator.
type State map[string]interface{}

// OutputEmitter forwards operator output to whatever is downstream: the
// next operator of a chain or the downstream vertices of the DAG.
type OutputEmitter interface {
	EmitData(event *DataEvent) error
	EmitWatermark(event *WatermarkEvent) error
}

// Operator is the base interface for all stream operators.
type Operator interface {
	// ID returns the unique identifier of the operator.
	ID() string

	ProcessLeftData(event *DataEvent) error
	ProcessLeftWatermark(event *WatermarkEvent) error
	ProcessRightData(event *DataEvent) error
	ProcessRightWatermark(event *WatermarkEvent) error

	// SetOutputEmitter sets where the operator sends its output.
	SetOutputEmitter(emitter OutputEmitter)

	// Snapshot returns a copy of the operator state.
	Snapshot() State
	// Restore replaces the operator state.
	Restore(state State)
}
