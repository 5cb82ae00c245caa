package stream

import "fmt"

// Event is either a data record or a watermark flowing between vertices.
type Event interface {
	// Timestamp returns the event time in milliseconds.
	Timestamp() int64
	// IsWatermark reports whether the event is a watermark.
	IsWatermark() bool
}

// DataEvent carries a single record and its event time.
type DataEvent struct {
	Value     interface{}
	EventTime int64
}

// NewDataEvent creates a new DataEvent.
func NewDataEvent(value interface{}, eventTime int64) *DataEvent {
	return &DataEvent{Value: value, EventTime: eventTime}
}

func (e *DataEvent) Timestamp() int64  { return e.EventTime }
func (e *DataEvent) IsWatermark() bool { return false }

func (e *DataEvent) String() string {
	return fmt.Sprintf("data(%v@%d)", e.Value, e.EventTime)
}

// WatermarkEvent asserts that no data with a smaller timestamp will follow.
type WatermarkEvent struct {
	EventTime int64
}

// NewWatermarkEvent creates a new WatermarkEvent.
func NewWatermarkEvent(eventTime int64) *WatermarkEvent {
	return &WatermarkEvent{EventTime: eventTime}
}

func (e *WatermarkEvent) Timestamp() int64  { return e.EventTime }
func (e *WatermarkEvent) IsWatermark() bool { return true }

func (e *WatermarkEvent) String() string {
	return fmt.Sprintf("watermark(%d)", e.EventTime)
}

// Direction labels the input side of an edge. Unary operators only ever
// see Left.
type Direction int

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}
