package processor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
	"github.com/tarungka/wiregroup/stream"
)

// queuedGroup builds a group whose single chain runs op over n queued events.
func queuedGroup(t *testing.T, appID string, n int, op stream.Operator) (*group.Group, *execution.OperatorChain) {
	t.Helper()
	g := group.New(appID, metrics.DefaultAlpha)
	d := execution.NewDAG(appID + "-q")
	var chain *execution.OperatorChain
	if op != nil {
		chain = execution.NewOperatorChain(appID+"-chain", op)
	} else {
		chain = execution.NewOperatorChain(appID + "-chain")
	}
	require.NoError(t, d.AddVertex(chain))
	require.NoError(t, g.AddDAG(d))
	for i := 0; i < n; i++ {
		chain.Enqueue(stream.NewDataEvent(i, int64(i)), stream.Left)
	}
	return g, chain
}

func TestRoundRobinSelectorSkipsEmptyGroups(t *testing.T) {
	g1, _ := queuedGroup(t, "a", 5, nil)
	g2, _ := queuedGroup(t, "b", 0, nil)
	g3, _ := queuedGroup(t, "c", 5, nil)
	groups := []*group.Group{g1, g2, g3}

	s := NewRoundRobinSelector()
	assert.Same(t, g1, s.Next(groups))
	assert.Same(t, g3, s.Next(groups))
	assert.Same(t, g1, s.Next(groups))

	empty, _ := queuedGroup(t, "d", 0, nil)
	assert.Nil(t, s.Next([]*group.Group{empty}))
	assert.Nil(t, s.Next(nil))
}

func TestWeightedSelectorIsProportionalAndStarvationFree(t *testing.T) {
	heavy, _ := queuedGroup(t, "heavy", 1, nil)
	light, _ := queuedGroup(t, "light", 1, nil)
	idle, _ := queuedGroup(t, "idle", 1, nil)
	heavy.Metrics().Seed(30, 30)
	light.Metrics().Seed(10, 10)
	idle.Metrics().Seed(0, 0)
	groups := []*group.Group{heavy, light, idle}

	s := NewWeightedSelector()
	counts := map[*group.Group]int{}
	for i := 0; i < 410; i++ {
		counts[s.Next(groups)]++
	}
	assert.Equal(t, 300, counts[heavy])
	assert.Equal(t, 100, counts[light])
	assert.Equal(t, 10, counts[idle])
	assert.GreaterOrEqual(t, counts[heavy], counts[light])
	assert.GreaterOrEqual(t, counts[light], counts[idle])
}

func TestSchedulingPeriodCalculator(t *testing.T) {
	c := NewSchedulingPeriodCalculator(10*time.Millisecond, 110*time.Millisecond)
	g1, _ := queuedGroup(t, "a", 0, nil)
	g2, _ := queuedGroup(t, "b", 0, nil)
	groups := []*group.Group{g1, g2}

	assert.Equal(t, 10*time.Millisecond, c.Period(g1, groups), "no weight yet")

	g1.Metrics().Seed(30, 30)
	g2.Metrics().Seed(10, 10)
	assert.Equal(t, 85*time.Millisecond, c.Period(g1, groups))
	assert.Equal(t, 35*time.Millisecond, c.Period(g2, groups))
	assert.Equal(t, 110*time.Millisecond, c.Period(g1, []*group.Group{g1}))
}

func TestEventProcessorDrainsAssignedGroups(t *testing.T) {
	table := allocation.NewTable()
	p := New("ep-1", table, Config{BatchSize: 3})
	groups := table.Put(p)

	g1, c1 := queuedGroup(t, "a", 7, nil)
	g2, c2 := queuedGroup(t, "b", 4, nil)
	groups.Add(g1)
	groups.Add(g2)

	require.True(t, p.RunOnce())
	assert.Equal(t, int64(4), c1.NumberOfEvents(), "one batch from the first group")

	require.NoError(t, p.Start())
	assert.Equal(t, Running, p.State())
	assert.Eventually(t, func() bool {
		return c1.NumberOfEvents() == 0 && c2.NumberOfEvents() == 0
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	assert.Equal(t, Closed, p.State())
	assert.ErrorIs(t, p.Start(), ErrInvalidState)

	stats := p.Stats()
	assert.Equal(t, uint64(11), stats.ProcessedEvents)
	assert.Equal(t, "CLOSED", stats.State)
}

func TestEventProcessorIdlesWithoutGroups(t *testing.T) {
	table := allocation.NewTable()
	p := New("ep-1", table, Config{IdleSleep: time.Millisecond})
	assert.False(t, p.RunOnce(), "not registered")

	table.Put(p)
	assert.False(t, p.RunOnce(), "no groups")
	assert.Zero(t, p.Load())

	require.NoError(t, p.Start())
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.Close())
	assert.Greater(t, p.Stats().IdleCycles, uint64(1))
}

func TestEventProcessorSurvivesOperatorFailures(t *testing.T) {
	table := allocation.NewTable()
	p := New("ep-1", table, Config{})
	op := stream.NewMapOperator("boom", func(v interface{}) (interface{}, error) {
		if v.(int)%2 == 0 {
			panic("even numbers are not welcome")
		}
		return v, nil
	})
	g, chain := queuedGroup(t, "a", 10, op)
	table.Put(p).Add(g)

	for p.RunOnce() {
	}
	stats := chain.Stats()
	assert.Equal(t, uint64(5), stats.Failed)
	assert.Equal(t, uint64(5), stats.Processed)
	assert.Zero(t, chain.NumberOfEvents())
}

// A group listed by two processors at once must still be drained by one
// goroutine at a time.
func TestGroupIsNeverDrainedConcurrently(t *testing.T) {
	var inside, maxInside atomic.Int32
	op := stream.NewMapOperator("probe", func(v interface{}) (interface{}, error) {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Microsecond)
		inside.Add(-1)
		return v, nil
	})
	g, chain := queuedGroup(t, "shared", 500, op)

	table := allocation.NewTable()
	f := NewFactory(table, Config{BatchSize: 5, IdleSleep: time.Millisecond})
	p1, p2 := f.New(), f.New()
	table.Put(p1).Add(g)
	table.Put(p2).Add(g)

	require.NoError(t, p1.Start())
	require.NoError(t, p2.Start())
	assert.Eventually(t, func() bool { return chain.NumberOfEvents() == 0 }, 5*time.Second, time.Millisecond)
	require.NoError(t, p1.Close())
	require.NoError(t, p2.Close())

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, uint64(500), p1.Stats().ProcessedEvents+p2.Stats().ProcessedEvents)
}

func TestFactory(t *testing.T) {
	f := NewFactory(allocation.NewTable(), Config{Selector: "weighted"})
	p1 := f.New()
	p2 := f.NewIsolated()
	assert.Equal(t, "ep-1", p1.ID())
	assert.Equal(t, "ep-iso-2", p2.ID())
	assert.False(t, p1.IsRunningIsolatedGroup())
	assert.True(t, p2.IsRunningIsolatedGroup())
	assert.IsType(t, &WeightedSelector{}, p1.selector)
}
