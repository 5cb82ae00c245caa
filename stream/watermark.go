package stream

import (
	"math"
	"sync"
	"time"
)

// WatermarkGenerator decides when a source emits watermarks.
type WatermarkGenerator interface {
	// OnData observes a record. It may return a watermark to emit right
	// after it; consumed reports that the record itself must not be
	// forwarded.
	OnData(event *DataEvent) (wm *WatermarkEvent, consumed bool)
	// OnTick is called every Period. It may return a watermark.
	OnTick() *WatermarkEvent
	// Period returns the tick interval, zero if the generator never ticks.
	Period() time.Duration
}

// PeriodicWatermark emits, every period, the largest event time seen so
// far minus the expected delay.
type PeriodicWatermark struct {
	period        time.Duration
	expectedDelay time.Duration

	mu      sync.Mutex
	maxSeen int64
	last    int64
}

func NewPeriodicWatermark(period, expectedDelay time.Duration) *PeriodicWatermark {
	return &PeriodicWatermark{
		period:        period,
		expectedDelay: expectedDelay,
		maxSeen:       math.MinInt64,
		last:          math.MinInt64,
	}
}

func (w *PeriodicWatermark) OnData(event *DataEvent) (*WatermarkEvent, bool) {
	w.mu.Lock()
	if event.EventTime > w.maxSeen {
		w.maxSeen = event.EventTime
	}
	w.mu.Unlock()
	return nil, false
}

func (w *PeriodicWatermark) OnTick() *WatermarkEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxSeen == math.MinInt64 {
		return nil
	}
	ts := w.maxSeen - w.expectedDelay.Milliseconds()
	if ts <= w.last {
		return nil
	}
	w.last = ts
	return NewWatermarkEvent(ts)
}

func (w *PeriodicWatermark) Period() time.Duration { return w.period }

// PunctuatedWatermark turns marker records into watermarks.
type PunctuatedWatermark struct {
	isMarker  func(*DataEvent) bool
	timestamp func(*DataEvent) int64
}

func NewPunctuatedWatermark(isMarker func(*DataEvent) bool, timestamp func(*DataEvent) int64) *PunctuatedWatermark {
	return &PunctuatedWatermark{isMarker: isMarker, timestamp: timestamp}
}

func (w *PunctuatedWatermark) OnData(event *DataEvent) (*WatermarkEvent, bool) {
	if !w.isMarker(event) {
		return nil, false
	}
	return NewWatermarkEvent(w.timestamp(event)), true
}

func (w *PunctuatedWatermark) OnTick() *WatermarkEvent { return nil }

func (w *PunctuatedWatermark) Period() time.Duration { return 0 }
