package querymanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/balancer"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/recovery"
	"github.com/tarungka/wiregroup/stream"
)

type testProcessor struct {
	id       string
	isolated bool
}

func (p *testProcessor) ID() string                   { return p.id }
func (p *testProcessor) IsRunningIsolatedGroup() bool { return p.isolated }

type testProvisioner struct {
	table    *allocation.Table
	n        int
	released []string
}

func (p *testProvisioner) ProvisionIsolated() (allocation.EventProcessor, error) {
	p.n++
	ep := &testProcessor{id: fmt.Sprintf("ep-iso-%d", p.n), isolated: true}
	p.table.Put(ep)
	return ep, nil
}

func (p *testProvisioner) ReleaseIsolated(ep allocation.EventProcessor) error {
	p.table.Remove(ep)
	p.released = append(p.released, ep.ID())
	return nil
}

func newDAG(t *testing.T, queryID string) *execution.DAG {
	t.Helper()
	src := execution.NewSource(queryID+"-src", stream.NewEventSource(stream.NewDataEvent("a", 1)))
	chain := execution.NewOperatorChain(queryID+"-chain", stream.NewUppercaseOperator("upper"))
	sink := execution.NewSink(queryID+"-sink", stream.NewPrintSink(io.Discard))

	d := execution.NewDAG(queryID)
	require.NoError(t, d.AddVertex(src))
	require.NoError(t, d.AddVertex(chain))
	require.NoError(t, d.AddVertex(sink))
	require.NoError(t, d.AddEdge(src, chain, stream.Left))
	require.NoError(t, d.AddEdge(chain, sink, stream.Left))
	return d
}

func setup(t *testing.T, processors int, opts Options) (*Manager, *group.Map, *allocation.Table) {
	t.Helper()
	table := allocation.NewTable()
	for i := 1; i <= processors; i++ {
		table.Put(&testProcessor{id: fmt.Sprintf("ep%d", i)})
	}
	groups := group.NewMap()
	m := New(groups, table, balancer.NewRoundRobin(), opts)
	t.Cleanup(func() {
		for _, g := range groups.Groups() {
			g.Close()
		}
	})
	return m, groups, table
}

func TestCreateGroupAndJoin(t *testing.T) {
	m, groups, table := setup(t, 2, Options{})
	ctx := context.Background()

	h1, res := m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "app1", h1.AppID)
	assert.Equal(t, "ep1", h1.ProcessorID)

	h2, res := m.CreateGroup(ctx, "app1", newDAG(t, "q2"))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, h1.GroupID, h2.GroupID, "same app shares a group")
	assert.Equal(t, "ep1", h2.ProcessorID)

	h3, res := m.CreateGroup(ctx, "app2", newDAG(t, "q3"))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "ep2", h3.ProcessorID)

	assert.Equal(t, 2, groups.Len())
	g, ok := groups.Get(h1.GroupID)
	require.True(t, ok)
	assert.Equal(t, []string{"q1", "q2"}, g.QueryIDs())
	assert.Equal(t, 1, table.GetValue(table.EventProcessors()[0]).Len())

	_, res = m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	assert.False(t, res.Success)
	assert.Equal(t, QueryExists, res.Code)
}

func TestCreateGroupFailures(t *testing.T) {
	m, groups, _ := setup(t, 0, Options{})
	ctx := context.Background()

	invalid := execution.NewDAG("q0")
	require.NoError(t, invalid.AddVertex(execution.NewOperatorChain("c")))
	_, res := m.CreateGroup(ctx, "app1", invalid)
	assert.Equal(t, InvalidDAG, res.Code)

	_, res = m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	assert.False(t, res.Success)
	assert.Equal(t, NoProcessors, res.Code)
	assert.Equal(t, 0, groups.Len())

	_, res = m.CreateQuery(ctx, "missing", newDAG(t, "q2"))
	assert.Equal(t, GroupNotFound, res.Code)
}

func TestCreateQuery(t *testing.T) {
	m, groups, _ := setup(t, 1, Options{})
	ctx := context.Background()

	h, res := m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	require.True(t, res.Success)
	h2, res := m.CreateQuery(ctx, h.GroupID, newDAG(t, "q2"))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "ep1", h2.ProcessorID)

	g, _ := groups.Get(h.GroupID)
	assert.Equal(t, 2, g.NumQueries())
}

func TestDeleteQueryTearsDownLastQuery(t *testing.T) {
	m, groups, table := setup(t, 1, Options{})
	ctx := context.Background()

	h, res := m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	require.True(t, res.Success)
	_, res = m.CreateGroup(ctx, "app1", newDAG(t, "q2"))
	require.True(t, res.Success)

	res = m.DeleteQuery(ctx, h.GroupID, "missing")
	assert.Equal(t, QueryNotFound, res.Code)

	res = m.DeleteQuery(ctx, h.GroupID, "q1")
	require.True(t, res.Success, res.Message)
	g, ok := groups.Get(h.GroupID)
	require.True(t, ok)
	assert.Equal(t, []string{"q2"}, g.QueryIDs())

	res = m.DeleteQuery(ctx, h.GroupID, "q2")
	require.True(t, res.Success, res.Message)
	_, ok = groups.Get(h.GroupID)
	assert.False(t, ok)
	_, ok = table.Locate(h.GroupID)
	assert.False(t, ok)

	res = m.DeleteQuery(ctx, h.GroupID, "q2")
	assert.Equal(t, GroupNotFound, res.Code)
}

func TestDeleteGroup(t *testing.T) {
	routing := recovery.NewMemoryRoutingTable()
	m, groups, table := setup(t, 2, Options{Routing: routing, Workers: NewWorkerAllocator("w1")})
	ctx := context.Background()

	h, res := m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	require.True(t, res.Success)
	w, ok := routing.Lookup("app1")
	require.True(t, ok)
	assert.Equal(t, "w1", w)

	res = m.DeleteGroup(ctx, h.GroupID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, groups.Len())
	_, ok = table.Locate(h.GroupID)
	assert.False(t, ok)
	_, ok = routing.Lookup("app1")
	assert.False(t, ok)

	res = m.DeleteGroup(ctx, h.GroupID)
	assert.False(t, res.Success)
	assert.Equal(t, GroupNotFound, res.Code)
}

func TestDeleteGroupWaitsForLease(t *testing.T) {
	m, groups, _ := setup(t, 1, Options{})
	h, res := m.CreateGroup(context.Background(), "app1", newDAG(t, "q1"))
	require.True(t, res.Success)

	g, _ := groups.Get(h.GroupID)
	require.True(t, g.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = m.DeleteGroup(ctx, h.GroupID)
	assert.False(t, res.Success)
	assert.False(t, g.TryAcquire(), "lease held by someone else is not released")
	g.Release()
}

func TestIsolateGroup(t *testing.T) {
	m, _, table := setup(t, 1, Options{})
	_, res := m.IsolateGroup(context.Background(), "g")
	assert.False(t, res.Success)

	prov := &testProvisioner{}
	m, groups, table := setup(t, 2, Options{Provisioner: prov})
	prov.table = table
	ctx := context.Background()

	h, res := m.CreateGroup(ctx, "app1", newDAG(t, "q1"))
	require.True(t, res.Success)
	_, res = m.CreateGroup(ctx, "app2", newDAG(t, "q2"))
	require.True(t, res.Success)

	iso, res := m.IsolateGroup(ctx, h.GroupID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "ep-iso-1", iso.ProcessorID)
	g, _ := groups.Get(h.GroupID)
	assert.True(t, g.Isolated())

	p, ok := table.Locate(h.GroupID)
	require.True(t, ok)
	assert.Equal(t, "ep-iso-1", p.ID())
	assert.Len(t, table.Assignment(), 2)
	assert.Equal(t, 0, table.GetValue(table.EventProcessors()[0]).Len())

	again, res := m.IsolateGroup(ctx, h.GroupID)
	require.True(t, res.Success)
	assert.Equal(t, "ep-iso-1", again.ProcessorID)
	assert.Equal(t, 1, prov.n)

	_, res = m.IsolateGroup(ctx, "missing")
	assert.Equal(t, GroupNotFound, res.Code)

	res = m.DeleteGroup(ctx, h.GroupID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"ep-iso-1"}, prov.released)
	assert.Equal(t, 2, table.Len())
}

func TestWorkerAllocatorAndRoute(t *testing.T) {
	_, err := NewWorkerAllocator().Next()
	assert.ErrorIs(t, err, ErrNoWorkers)

	a := NewWorkerAllocator("w1", "w2", "w3")
	var got []string
	for i := 0; i < 6; i++ {
		w, err := a.Next()
		require.NoError(t, err)
		got = append(got, w)
	}
	assert.Equal(t, []string{"w1", "w2", "w3", "w1", "w2", "w3"}, got)

	m, _, _ := setup(t, 1, Options{Routing: recovery.NewMemoryRoutingTable(), Workers: NewWorkerAllocator("w1", "w2")})
	w, err := m.Route("app1")
	require.NoError(t, err)
	assert.Equal(t, "w1", w)
	w, err = m.Route("app1")
	require.NoError(t, err)
	assert.Equal(t, "w1", w, "existing routes are kept")
	w, err = m.Route("app2")
	require.NoError(t, err)
	assert.Equal(t, "w2", w)
}

func TestControlResultJSON(t *testing.T) {
	b, err := json.Marshal(ControlResult{Code: GroupNotFound, Message: "missing"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"code":"GROUP_NOT_FOUND","message":"missing"}`, string(b))
}
