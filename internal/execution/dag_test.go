package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiregroup/stream"
)

type collectSink struct {
	mu      sync.Mutex
	events  []*stream.DataEvent
	opened  bool
	closed  bool
	openErr error
}

func (s *collectSink) Open(ctx context.Context) error {
	s.opened = true
	return s.openErr
}

func (s *collectSink) Write(ctx context.Context, event *stream.DataEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *collectSink) Close() error {
	s.closed = true
	return nil
}

func (s *collectSink) values() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interface{}
	for _, e := range s.events {
		out = append(out, e.Value)
	}
	return out
}

func TestDAGRunsSourceChainSink(t *testing.T) {
	src := NewSource("src", stream.NewEventSource(
		stream.NewDataEvent("a", 1),
		stream.NewDataEvent("b", 2),
		stream.NewWatermarkEvent(2),
	))
	chain := NewOperatorChain("upper", stream.NewUppercaseOperator("upper"))
	out := &collectSink{}
	sink := NewSink("sink", out)

	d := NewDAG("q1")
	require.NoError(t, d.AddVertex(src))
	require.NoError(t, d.AddVertex(chain))
	require.NoError(t, d.AddVertex(sink))
	require.NoError(t, d.AddEdge(src, chain, stream.Left))
	require.NoError(t, d.AddEdge(chain, sink, stream.Left))
	require.NoError(t, d.Validate())

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, out.opened)
	assert.ErrorIs(t, d.Start(context.Background()), ErrStarted)

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source did not finish")
	}
	assert.Equal(t, int64(3), d.NumberOfEvents())

	for chain.ProcessNextEvent() {
	}
	assert.Equal(t, []interface{}{"A", "B"}, out.values())
	assert.Equal(t, int64(2), sink.LatestWatermarkTimestamp())
	assert.Equal(t, uint64(2), sink.Written())

	require.NoError(t, d.Close())
	assert.True(t, out.closed)
	require.NoError(t, d.Close())
}

func TestDAGEdgeValidation(t *testing.T) {
	src := NewSource("src", stream.NewEventSource())
	sink := NewSink("sink", &collectSink{})
	d := NewDAG("q1")
	require.NoError(t, d.AddVertex(src))
	require.NoError(t, d.AddVertex(sink))

	assert.ErrorIs(t, d.AddEdge(sink, src, stream.Left), ErrInvalidEdge)
	assert.ErrorIs(t, d.AddEdge(src, sink, stream.Right), ErrInvalidEdge)
	assert.ErrorIs(t, d.Validate(), ErrInvalidDAG)

	require.NoError(t, d.AddEdge(src, sink, stream.Left))
	assert.NoError(t, d.Validate())

	dangling := NewOperatorChain("dangling")
	require.NoError(t, d.AddVertex(dangling))
	assert.ErrorIs(t, d.Validate(), ErrInvalidDAG)
	require.NoError(t, d.AddEdge(src, dangling, stream.Left))
	assert.NoError(t, d.Validate())
}

func TestDAGStartFailsWhenSinkCannotOpen(t *testing.T) {
	src := NewSource("src", stream.NewEventSource(stream.NewDataEvent(1, 1)))
	out := &collectSink{openErr: errors.New("unreachable")}
	d := NewDAG("q1")
	require.NoError(t, d.AddVertex(src))
	require.NoError(t, d.AddVertex(NewSink("sink", out)))
	require.NoError(t, d.AddEdge(src, d.Sinks()[0], stream.Left))

	assert.Error(t, d.Start(context.Background()))
	assert.Nil(t, src.Done(), "source must not start when a sink failed")
}

func TestSourcePeriodicWatermarks(t *testing.T) {
	gen := &blockingSource{events: make(chan stream.Event, 4)}
	src := NewSource("src", gen, WithWatermarks(stream.NewPeriodicWatermark(5*time.Millisecond, 10*time.Millisecond)))
	chain := NewOperatorChain("sink-chain")
	d := NewDAG("q1")
	require.NoError(t, d.AddVertex(src))
	require.NoError(t, d.AddVertex(chain))
	require.NoError(t, d.AddVertex(NewSink("sink", &collectSink{})))
	require.NoError(t, d.AddEdge(src, chain, stream.Left))
	require.NoError(t, d.AddEdge(chain, d.Sinks()[0], stream.Left))
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	gen.events <- stream.NewDataEvent("x", 100)

	assert.Eventually(t, func() bool {
		return src.LatestWatermarkTimestamp() == 90
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(100), src.LatestDataTimestamp())
}

// blockingSource emits whatever is pushed to events until closed.
type blockingSource struct {
	events chan stream.Event
}

func (b *blockingSource) Open(ctx context.Context) (<-chan stream.Event, error) {
	return b.events, nil
}

func (b *blockingSource) Close() error { return nil }
