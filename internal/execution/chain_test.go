package execution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiregroup/stream"
)

type recordingEmitter struct {
	events []stream.Event
}

func (r *recordingEmitter) EmitData(event *stream.DataEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) EmitWatermark(event *stream.WatermarkEvent) error {
	r.events = append(r.events, event)
	return nil
}

func identity(id string) *stream.MapOperator {
	return stream.NewMapOperator(id, func(v interface{}) (interface{}, error) { return v, nil })
}

func drain(c *OperatorChain) int {
	n := 0
	for c.ProcessNextEvent() {
		n++
	}
	return n
}

func TestOperatorChainPreservesArrivalOrder(t *testing.T) {
	out := &recordingEmitter{}
	chain := NewOperatorChain("chain", identity("a"), identity("b"))
	chain.wire(&vertexEmitter{from: &chain.timestamps, routes: nil})
	// replace the last emitter so the output is observable
	chain.operators[1].SetOutputEmitter(out)

	input := []stream.Event{
		stream.NewDataEvent(1, 1),
		stream.NewDataEvent(2, 2),
		stream.NewWatermarkEvent(2),
		stream.NewDataEvent(3, 3),
		stream.NewWatermarkEvent(3),
	}
	for _, ev := range input {
		chain.Enqueue(ev, stream.Left)
	}
	assert.Equal(t, int64(5), chain.NumberOfEvents())

	assert.Equal(t, 5, drain(chain))
	assert.Zero(t, chain.NumberOfEvents())
	assert.False(t, chain.ProcessNextEvent())
	assert.Equal(t, input, out.events)
}

func TestOperatorChainWatermarksAreMonotonic(t *testing.T) {
	downstream := NewOperatorChain("downstream")
	chain := NewOperatorChain("chain", identity("a"))
	chain.wire(&vertexEmitter{from: &chain.timestamps, routes: []route{{target: downstream}}})

	for _, ev := range []stream.Event{
		stream.NewDataEvent("x", 5),
		stream.NewWatermarkEvent(5),
		stream.NewWatermarkEvent(3),
		stream.NewDataEvent("y", 7),
		stream.NewWatermarkEvent(5),
		stream.NewWatermarkEvent(9),
	} {
		chain.Enqueue(ev, stream.Left)
	}
	drain(chain)

	var got []stream.Event
	for {
		item, ok := downstream.poll()
		if !ok {
			break
		}
		got = append(got, item.event)
	}

	var last int64 = -1
	var watermarks []int64
	for i, ev := range got {
		if wm, ok := ev.(*stream.WatermarkEvent); ok {
			assert.GreaterOrEqual(t, wm.EventTime, last)
			last = wm.EventTime
			watermarks = append(watermarks, wm.EventTime)
			// every record queued before the watermark was delivered first
			for _, before := range got[:i] {
				if d, ok := before.(*stream.DataEvent); ok {
					assert.LessOrEqual(t, d.EventTime, wm.EventTime)
				}
			}
		}
	}
	assert.Equal(t, []int64{5, 9}, watermarks)
	assert.Equal(t, int64(9), chain.LatestWatermarkTimestamp())
	assert.Equal(t, int64(7), chain.LatestDataTimestamp())
	require.Len(t, got, 4)
	assert.Equal(t, "x", got[0].(*stream.DataEvent).Value)
	assert.Equal(t, "y", got[2].(*stream.DataEvent).Value)
}

func TestOperatorChainContinuesAfterFailure(t *testing.T) {
	out := &recordingEmitter{}
	failing := stream.NewMapOperator("fail", func(v interface{}) (interface{}, error) {
		switch v {
		case "error":
			return nil, errors.New("bad record")
		case "panic":
			panic("operator bug")
		}
		return v, nil
	})
	chain := NewOperatorChain("chain", failing)
	chain.wire(out)

	for _, v := range []string{"ok-1", "error", "panic", "ok-2"} {
		chain.Enqueue(stream.NewDataEvent(v, 1), stream.Left)
	}
	assert.Equal(t, 4, drain(chain))

	require.Len(t, out.events, 2)
	assert.Equal(t, "ok-1", out.events[0].(*stream.DataEvent).Value)
	assert.Equal(t, "ok-2", out.events[1].(*stream.DataEvent).Value)

	stats := chain.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestOperatorChainLatePolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    LatePolicy
		delivered int
	}{
		{"log", LateLog, 2},
		{"process", LateProcess, 2},
		{"drop", LateDrop, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &recordingEmitter{}
			chain := NewOperatorChain("chain")
			chain.SetLatePolicy(tt.policy)
			chain.wire(&vertexEmitter{from: &chain.timestamps})

			chain.Enqueue(stream.NewDataEvent("on-time", 10), stream.Left)
			chain.Enqueue(stream.NewWatermarkEvent(10), stream.Left)
			chain.Enqueue(stream.NewDataEvent("late", 4), stream.Left)
			chain.output = &splitEmitter{data: out, wm: &vertexEmitter{from: &chain.timestamps}}
			drain(chain)

			assert.Len(t, out.events, tt.delivered)
			assert.Equal(t, uint64(1), chain.Stats().Late)
		})
	}
}

func TestOperatorChainRightInput(t *testing.T) {
	out := &recordingEmitter{}
	chain := NewOperatorChain("union", stream.NewUnionOperator("u"))
	chain.wire(out)

	chain.Enqueue(stream.NewDataEvent("l", 1), stream.Left)
	chain.Enqueue(stream.NewDataEvent("r", 1), stream.Right)
	chain.Enqueue(stream.NewWatermarkEvent(4), stream.Left)
	chain.Enqueue(stream.NewWatermarkEvent(2), stream.Right)
	drain(chain)

	require.Len(t, out.events, 3)
	assert.Equal(t, int64(2), out.events[2].Timestamp())
	assert.True(t, out.events[2].IsWatermark())
}

// splitEmitter sends data to one emitter and watermarks to another.
type splitEmitter struct {
	data stream.OutputEmitter
	wm   stream.OutputEmitter
}

func (s *splitEmitter) EmitData(event *stream.DataEvent) error { return s.data.EmitData(event) }
func (s *splitEmitter) EmitWatermark(event *stream.WatermarkEvent) error {
	return s.wm.EmitWatermark(event)
}
