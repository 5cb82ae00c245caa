// Package querymanager is the control surface for submitting and
// tearing down queries. Queries of the same application share a group.
package querymanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/balancer"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
	"github.com/tarungka/wiregroup/internal/recovery"
)

// Provisioner creates and releases processors dedicated to one group.
type Provisioner interface {
	ProvisionIsolated() (allocation.EventProcessor, error)
	ReleaseIsolated(p allocation.EventProcessor) error
}

// GroupHandle identifies where a submitted query ended up.
type GroupHandle struct {
	GroupID     string `json:"group_id"`
	AppID       string `json:"app_id"`
	QueryID     string `json:"query_id"`
	ProcessorID string `json:"processor_id"`
}

type Options struct {
	Alpha       float64
	Provisioner Provisioner
	// Routing and Workers record which worker an application runs on.
	Routing recovery.RoutingTable
	Workers *WorkerAllocator
}

type Manager struct {
	// mu serializes control operations.
	mu sync.Mutex

	groups   *group.Map
	table    *allocation.Table
	balancer balancer.GroupBalancer
	opts     Options
	logger   zerolog.Logger
}

func New(groups *group.Map, table *allocation.Table, b balancer.GroupBalancer, opts Options) *Manager {
	if opts.Alpha <= 0 {
		opts.Alpha = metrics.DefaultAlpha
	}
	return &Manager{
		groups:   groups,
		table:    table,
		balancer: b,
		opts:     opts,
		logger:   log.With().Str("component", "query_manager").Logger(),
	}
}

// CreateGroup submits d for appID. The first query of an application
// creates its group and assigns it through the balancer; later queries
// join the existing group.
func (m *Manager) CreateGroup(ctx context.Context, appID string, d *execution.DAG) (GroupHandle, ControlResult) {
	if err := d.Validate(); err != nil {
		return GroupHandle{}, failure(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups.ByApp(appID); ok {
		return m.addQuery(ctx, g, d)
	}

	g := group.New(appID, m.opts.Alpha)
	if err := g.AddDAG(d); err != nil {
		return GroupHandle{}, failure(err)
	}
	if err := m.groups.Add(g); err != nil {
		return GroupHandle{}, failure(err)
	}

	var target allocation.EventProcessor
	err := m.table.Exclusive(func() error {
		p, err := m.balancer.AssignGroup(g, m.table.Assignment())
		target = p
		return err
	})
	if err != nil {
		m.groups.Remove(g.ID())
		m.logger.Error().Err(err).Str("app_id", appID).Msg("Failed to assign group")
		return GroupHandle{}, failure(err)
	}

	if err := d.Start(ctx); err != nil {
		m.table.Exclusive(func() error {
			m.table.RemoveGroup(g.ID())
			return nil
		})
		m.groups.Remove(g.ID())
		return GroupHandle{}, failure(fmt.Errorf("starting query %s: %w", d.QueryID(), err))
	}
	m.route(appID)

	m.logger.Info().
		Str("group_id", g.ID()).
		Str("app_id", appID).
		Str("query_id", d.QueryID()).
		Str("processor_id", target.ID()).
		Msg("Created group")
	return GroupHandle{GroupID: g.ID(), AppID: appID, QueryID: d.QueryID(), ProcessorID: target.ID()}, success()
}

// CreateQuery adds d to an existing group.
func (m *Manager) CreateQuery(ctx context.Context, groupID string, d *execution.DAG) (GroupHandle, ControlResult) {
	if err := d.Validate(); err != nil {
		return GroupHandle{}, failure(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups.Get(groupID)
	if !ok {
		return GroupHandle{}, failure(fmt.Errorf("%w: %s", ErrGroupNotFound, groupID))
	}
	return m.addQuery(ctx, g, d)
}

func (m *Manager) addQuery(ctx context.Context, g *group.Group, d *execution.DAG) (GroupHandle, ControlResult) {
	if err := g.AddDAG(d); err != nil {
		return GroupHandle{}, failure(err)
	}
	if err := d.Start(ctx); err != nil {
		g.RemoveDAG(d.QueryID())
		return GroupHandle{}, failure(fmt.Errorf("starting query %s: %w", d.QueryID(), err))
	}

	h := GroupHandle{GroupID: g.ID(), AppID: g.AppID(), QueryID: d.QueryID()}
	if p, ok := m.table.Locate(g.ID()); ok {
		h.ProcessorID = p.ID()
	}
	m.logger.Info().Str("group_id", g.ID()).Str("query_id", d.QueryID()).Msg("Added query to group")
	return h, success()
}

// DeleteQuery tears down one query. Removing the last query deletes the
// group.
func (m *Manager) DeleteQuery(ctx context.Context, groupID, queryID string) ControlResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups.Get(groupID)
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrGroupNotFound, groupID))
	}
	if g.NumQueries() == 1 {
		if _, ok := g.DAG(queryID); ok {
			return m.deleteGroup(ctx, g)
		}
	}

	if err := m.acquire(ctx, g); err != nil {
		return failure(err)
	}
	d, err := g.RemoveDAG(queryID)
	g.Release()
	if err != nil {
		return failure(fmt.Errorf("%w: %s", err, queryID))
	}
	if err := d.Close(); err != nil {
		return failure(err)
	}
	m.logger.Info().Str("group_id", groupID).Str("query_id", queryID).Msg("Deleted query")
	return success()
}

// DeleteGroup tears down every query of the group and drops it from the
// allocation table.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) ControlResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups.Get(groupID)
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrGroupNotFound, groupID))
	}
	return m.deleteGroup(ctx, g)
}

func (m *Manager) deleteGroup(ctx context.Context, g *group.Group) ControlResult {
	var owner allocation.EventProcessor
	m.table.Exclusive(func() error {
		owner, _ = m.table.RemoveGroup(g.ID())
		return nil
	})

	var result *multierror.Error
	// wait for an in-flight batch on the former owner
	leased := true
	if err := m.acquire(ctx, g); err != nil {
		result = multierror.Append(result, err)
		leased = false
	}
	if err := g.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if leased {
		g.Release()
	}
	if _, err := m.groups.Remove(g.ID()); err != nil {
		result = multierror.Append(result, err)
	}
	if owner != nil && owner.IsRunningIsolatedGroup() && m.opts.Provisioner != nil {
		if err := m.opts.Provisioner.ReleaseIsolated(owner); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if m.opts.Routing != nil {
		m.opts.Routing.Remove(g.AppID())
	}

	if err := result.ErrorOrNil(); err != nil {
		m.logger.Error().Err(err).Str("group_id", g.ID()).Msg("Group deleted with errors")
		return failure(err)
	}
	m.logger.Info().Str("group_id", g.ID()).Str("app_id", g.AppID()).Msg("Deleted group")
	return success()
}

// IsolateGroup moves the group onto a freshly provisioned processor that
// runs nothing else.
func (m *Manager) IsolateGroup(ctx context.Context, groupID string) (GroupHandle, ControlResult) {
	if m.opts.Provisioner == nil {
		return GroupHandle{}, failure(ErrNoProvisioner)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups.Get(groupID)
	if !ok {
		return GroupHandle{}, failure(fmt.Errorf("%w: %s", ErrGroupNotFound, groupID))
	}
	h := GroupHandle{GroupID: g.ID(), AppID: g.AppID()}
	if g.Isolated() {
		if p, ok := m.table.Locate(g.ID()); ok {
			h.ProcessorID = p.ID()
		}
		return h, success()
	}

	p, err := m.opts.Provisioner.ProvisionIsolated()
	if err != nil {
		return GroupHandle{}, failure(fmt.Errorf("provisioning isolated processor: %w", err))
	}
	err = m.table.Exclusive(func() error {
		target := m.table.GetValue(p)
		if target == nil {
			return allocation.ErrUnknownProcessor
		}
		m.table.RemoveGroup(g.ID())
		g.SetIsolated(true)
		target.Add(g)
		return nil
	})
	if err != nil {
		if rerr := m.opts.Provisioner.ReleaseIsolated(p); rerr != nil {
			m.logger.Error().Err(rerr).Str("processor_id", p.ID()).Msg("Failed to release isolated processor")
		}
		return GroupHandle{}, failure(err)
	}

	h.ProcessorID = p.ID()
	m.logger.Info().Str("group_id", g.ID()).Str("processor_id", p.ID()).Msg("Isolated group")
	return h, success()
}

// Route returns the worker hosting appID, allocating one if the app has
// no route yet.
func (m *Manager) Route(appID string) (string, error) {
	if m.opts.Routing != nil {
		if w, ok := m.opts.Routing.Lookup(appID); ok {
			return w, nil
		}
	}
	if m.opts.Workers == nil {
		return "", ErrNoWorkers
	}
	w, err := m.opts.Workers.Next()
	if err != nil {
		return "", err
	}
	if m.opts.Routing != nil {
		m.opts.Routing.Set(appID, w)
	}
	return w, nil
}

func (m *Manager) route(appID string) {
	if m.opts.Routing == nil || m.opts.Workers == nil {
		return
	}
	if _, err := m.Route(appID); err != nil {
		m.logger.Warn().Err(err).Str("app_id", appID).Msg("Failed to route app")
	}
}

// acquire takes the group's lease so no processor is draining it.
func (m *Manager) acquire(ctx context.Context, g *group.Group) error {
	for !g.TryAcquire() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// Groups describes every live group.
func (m *Manager) Groups() []group.Info {
	gs := m.groups.Groups()
	out := make([]group.Info, 0, len(gs))
	for _, g := range gs {
		out = append(out, g.Info())
	}
	return out
}
