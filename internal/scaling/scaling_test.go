package scaling

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/balancer"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
)

type fakeProcessor struct {
	id       string
	isolated bool
	startErr error
	started  bool
	closed   bool
}

func (p *fakeProcessor) ID() string                   { return p.id }
func (p *fakeProcessor) IsRunningIsolatedGroup() bool { return p.isolated }
func (p *fakeProcessor) Start() error {
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}
func (p *fakeProcessor) Close() error {
	p.closed = true
	return nil
}

func processorFactory() func() Processor {
	n := 0
	return func() Processor {
		n++
		return &fakeProcessor{id: fmt.Sprintf("ep-%d", n)}
	}
}

func loadedGroup(name string, load float64) *group.Group {
	g := group.NewWithID(name, name, metrics.DefaultAlpha)
	g.Metrics().Seed(load, load)
	return g
}

func totalGroups(table *allocation.Table) int {
	n := 0
	for _, e := range table.Entries() {
		n += e.Groups.Len()
	}
	return n
}

func testPolicy() *Policy {
	return NewPolicy(PolicyConfig{
		IdleLoadThreshold: 0.3,
		OverloadThreshold: 0.9,
		ProcessorCapacity: 100,
		MinProcessors:     1,
		MaxProcessors:     4,
	})
}

func TestPolicyDecide(t *testing.T) {
	table := allocation.NewTable()
	p := testPolicy()

	d := p.Decide(table.Assignment())
	assert.Equal(t, ScaleOut, d.Action)
	assert.Equal(t, 1, d.Delta, "below the minimum")

	ep1 := &fakeProcessor{id: "ep1"}
	table.Put(ep1).Add(loadedGroup("g1", 50))
	d = p.Decide(table.Assignment())
	assert.Equal(t, None, d.Action)
	assert.InDelta(t, 0.5, d.Utilization, 1e-9)

	table.GetValue(ep1).Add(loadedGroup("g2", 200))
	d = p.Decide(table.Assignment())
	assert.Equal(t, ScaleOut, d.Action)
	// 250 / (100*0.9) rounds up to 3 processors
	assert.Equal(t, 2, d.Delta)

	table.GetValue(ep1).Add(loadedGroup("g3", 1000))
	d = p.Decide(table.Assignment())
	assert.Equal(t, ScaleOut, d.Action)
	assert.Equal(t, 3, d.Delta, "capped by the maximum")
}

func TestPolicyScaleInPicksLeastLoaded(t *testing.T) {
	table := allocation.NewTable()
	ep1, ep2, ep3 := &fakeProcessor{id: "ep1"}, &fakeProcessor{id: "ep2"}, &fakeProcessor{id: "ep3"}
	table.Put(ep1).Add(loadedGroup("g1", 10))
	table.Put(ep2)
	table.Put(ep3)

	d := testPolicy().Decide(table.Assignment())
	require.Equal(t, ScaleIn, d.Action)
	assert.Equal(t, 1, d.Delta)
	assert.Equal(t, "ep3", d.Target.ID(), "newest among the idle ones")
}

func TestPolicyIgnoresIsolatedProcessors(t *testing.T) {
	table := allocation.NewTable()
	table.Put(&fakeProcessor{id: "ep1"}).Add(loadedGroup("g1", 50))
	table.Put(&fakeProcessor{id: "iso", isolated: true})

	d := testPolicy().Decide(table.Assignment())
	assert.Equal(t, None, d.Action)
	assert.InDelta(t, 0.5, d.Utilization, 1e-9)
}

func TestScaleOutStartsProcessors(t *testing.T) {
	table := allocation.NewTable()
	r := NewRunner(testPolicy(), table, balancer.NewRoundRobin(), processorFactory(), RunnerOptions{})

	added, err := r.ScaleOut(2)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, 2, table.Len())
	for _, p := range added {
		assert.True(t, p.(*fakeProcessor).started)
		assert.NotNil(t, table.GetValue(p))
	}
}

func TestScaleOutStartFailure(t *testing.T) {
	table := allocation.NewTable()
	boom := errors.New("boom")
	r := NewRunner(testPolicy(), table, balancer.NewRoundRobin(), func() Processor {
		return &fakeProcessor{id: "broken", startErr: boom}
	}, RunnerOptions{})

	added, err := r.ScaleOut(1)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, added)
	assert.Equal(t, 0, table.Len())
}

func TestScaleInReassignsEveryGroup(t *testing.T) {
	table := allocation.NewTable()
	ep1, ep2, ep3 := &fakeProcessor{id: "ep1"}, &fakeProcessor{id: "ep2"}, &fakeProcessor{id: "ep3"}
	for i, ep := range []*fakeProcessor{ep1, ep2, ep3} {
		c := table.Put(ep)
		for j := 0; j < 3; j++ {
			c.Add(loadedGroup(fmt.Sprintf("g%d-%d", i, j), 1))
		}
	}
	require.Equal(t, 9, totalGroups(table))

	b := balancer.NewMinLoad(0, clock.NewMock())
	r := NewRunner(testPolicy(), table, b, processorFactory(), RunnerOptions{})
	require.NoError(t, r.ScaleIn(ep2))

	assert.Nil(t, table.GetValue(ep2))
	assert.True(t, ep2.closed)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 9, totalGroups(table))
	for i := 0; i < 3; i++ {
		_, ok := table.Locate(fmt.Sprintf("g1-%d", i))
		assert.True(t, ok)
	}
	assert.InDelta(t, 1.0, table.GetValue(ep1).Load()-table.GetValue(ep3).Load(), 1.0)
}

func TestScaleInRejections(t *testing.T) {
	table := allocation.NewTable()
	ep1 := &fakeProcessor{id: "ep1"}
	iso := &fakeProcessor{id: "iso", isolated: true}
	table.Put(ep1).Add(loadedGroup("g1", 1))
	table.Put(iso)

	r := NewRunner(testPolicy(), table, balancer.NewRoundRobin(), processorFactory(), RunnerOptions{})
	assert.ErrorIs(t, r.ScaleIn(ep1), ErrLastProcessor)
	assert.ErrorIs(t, r.ScaleIn(iso), ErrIsolatedTarget)
	assert.ErrorIs(t, r.ScaleIn(&fakeProcessor{id: "ghost"}), ErrUnknownProcessor)
	assert.ErrorIs(t, r.ScaleIn(nil), ErrUnknownProcessor)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 1, table.GetValue(ep1).Len())
}

func TestRunnerEvaluatesOnTick(t *testing.T) {
	mock := clock.NewMock()
	table := allocation.NewTable()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	r := NewRunner(testPolicy(), table, balancer.NewRoundRobin(), processorFactory(), RunnerOptions{
		Interval:  time.Second,
		Clock:     mock,
		Collector: collector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return table.Len() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
