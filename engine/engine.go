// Package engine wires the scheduler together: allocation table, event
// processors, balancer, metric pipeline, scaling, recovery and the query
// manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/balancer"
	"github.com/tarungka/wiregroup/internal/config"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
	"github.com/tarungka/wiregroup/internal/processor"
	"github.com/tarungka/wiregroup/internal/querymanager"
	"github.com/tarungka/wiregroup/internal/recovery"
	"github.com/tarungka/wiregroup/internal/scaling"
	"github.com/tarungka/wiregroup/internal/statsstore"
	"golang.org/x/sync/errgroup"
)

var ErrNotStarted = errors.New("engine not started")

type Option func(*Engine)

// WithRegisterer registers the scheduler metrics with reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithStatsStore uses an already opened store. The engine does not close it.
func WithStatsStore(s *statsstore.Store) Option {
	return func(e *Engine) { e.stats = s }
}

type Engine struct {
	cfg        config.Config
	clock      clock.Clock
	registry   *prometheus.Registry
	registerer prometheus.Registerer

	table     *allocation.Table
	groups    *group.Map
	global    *metrics.GlobalMetrics
	collector *metrics.Collector
	handler   *metrics.Handler
	balancer  balancer.GroupBalancer
	factory   *processor.Factory
	scaler    *scaling.Runner
	routing   *recovery.MemoryRoutingTable
	recovery  *recovery.Scheduler
	manager   *querymanager.Manager

	stats     *statsstore.Store
	ownsStats bool

	mu      sync.Mutex
	started bool

	logger zerolog.Logger
}

func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e := &Engine{
		cfg:    cfg,
		table:  allocation.NewTable(),
		groups: group.NewMap(),
		logger: log.With().Str("component", "engine").Str("worker_id", cfg.WorkerID).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.registerer == nil {
		e.registry = prometheus.NewRegistry()
		e.registerer = e.registry
	}

	b, err := balancer.New(cfg.Balancer.Type, cfg.Balancer.GracePeriod, e.clock)
	if err != nil {
		return nil, err
	}
	e.balancer = b

	if e.stats == nil {
		e.stats = statsstore.New(statsstore.Config{Dir: cfg.StatsStore.Dir})
		if err := e.stats.Open(); err != nil {
			return nil, err
		}
		e.ownsStats = true
	}

	e.global = metrics.NewGlobalMetrics(cfg.Metrics.Alpha)
	e.collector = metrics.NewCollector(e.registerer)
	e.handler = metrics.NewHandler(e.groups, e.global, e.collector)
	e.groups.Subscribe(e.onGroupEvent)

	e.factory = processor.NewFactory(e.table, processor.Config{
		BatchSize:           cfg.Scheduler.BatchSize,
		IdleSleep:           cfg.Scheduler.IdleSleep,
		MinSchedulingPeriod: cfg.Scheduler.MinSchedulingPeriod,
		MaxSchedulingPeriod: cfg.Scheduler.MaxSchedulingPeriod,
		Selector:            cfg.Scheduler.Selector,
	})
	e.scaler = scaling.NewRunner(
		scaling.NewPolicy(scaling.PolicyConfig{
			IdleLoadThreshold: cfg.Scaling.IdleLoadThreshold,
			OverloadThreshold: cfg.Scaling.OverloadThreshold,
			ProcessorCapacity: cfg.Scaling.ProcessorCapacity,
			MinProcessors:     cfg.Scaling.MinProcessors,
			MaxProcessors:     cfg.Scaling.MaxProcessors,
		}),
		e.table,
		e.balancer,
		func() scaling.Processor { return e.factory.New() },
		scaling.RunnerOptions{Interval: cfg.Scaling.Interval, Clock: e.clock, Collector: e.collector},
	)

	e.routing = recovery.NewMemoryRoutingTable()
	e.recovery = recovery.NewScheduler(e.groups, e.table, e.balancer, recovery.Options{
		WorkerID:  cfg.WorkerID,
		Routing:   e.routing,
		Store:     e.stats,
		Plans:     e.loadPlans,
		Alpha:     cfg.Metrics.Alpha,
		Collector: e.collector,
	})

	workers := cfg.Workers
	if len(workers) == 0 {
		workers = []string{cfg.WorkerID}
	}
	e.manager = querymanager.New(e.groups, e.table, e.balancer, querymanager.Options{
		Alpha:       cfg.Metrics.Alpha,
		Provisioner: e,
		Routing:     e.routing,
		Workers:     querymanager.NewWorkerAllocator(workers...),
	})
	return e, nil
}

func (e *Engine) onGroupEvent(ev group.Event) {
	switch ev.Kind {
	case group.Addition:
		e.global.AddGroups(1)
	case group.Deletion:
		e.global.AddGroups(-1)
	}
	e.logger.Debug().Str("event", ev.Kind.String()).Str("group_id", ev.Group.ID()).Msg("Group event")
}

// Start creates and starts the initial processor pool.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if _, err := e.scaler.ScaleOut(e.cfg.Scheduler.DefaultNumEventProcessors); err != nil {
		return fmt.Errorf("starting event processors: %w", err)
	}
	e.balancer.Initialize(e.table.Assignment())
	e.started = true
	e.logger.Info().Int("processors", e.table.Len()).Msg("Engine started")
	return nil
}

// Run drives the periodic parts of the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	g, ctx := errgroup.WithContext(ctx)
	ticker := metrics.NewTicker(e.cfg.Metrics.TickInterval, e.clock)
	g.Go(func() error { return ticker.Run(ctx) })
	g.Go(func() error { return e.handler.Run(ctx, ticker.C()) })
	if e.cfg.Scaling.Enabled {
		g.Go(func() error { return e.scaler.Run(ctx) })
	}
	g.Go(func() error { return e.snapshotLoop(ctx) })
	return g.Wait()
}

func (e *Engine) snapshotLoop(ctx context.Context) error {
	interval := e.cfg.StatsStore.SnapshotInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := e.clock.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.Snapshot(); err != nil {
				e.logger.Error().Err(err).Msg("Failed to persist group stats")
			}
		}
	}
}

// Snapshot persists the stats of every local group and refreshes the
// per processor load gauges.
func (e *Engine) Snapshot() error {
	stats := make(map[string]statsstore.GroupStats)
	for _, g := range e.groups.Groups() {
		stats[g.ID()] = statsstore.GroupStats{
			GroupID:  g.ID(),
			AppID:    g.AppID(),
			Load:     g.Load(),
			Weight:   g.Weight(),
			QueryIDs: g.QueryIDs(),
		}
	}
	for _, entry := range e.table.Entries() {
		e.collector.SetProcessorLoad(entry.Processor.ID(), entry.Groups.Load())
	}
	e.collector.SetProcessors(e.table.Len())
	return e.stats.Save(e.cfg.WorkerID, stats)
}

// loadPlans rebuilds the configured queries of a recovered group.
func (e *Engine) loadPlans(ctx context.Context, stats statsstore.GroupStats) ([]*execution.DAG, error) {
	wanted := make(map[string]bool, len(stats.QueryIDs))
	for _, q := range stats.QueryIDs {
		wanted[q] = true
	}
	var dags []*execution.DAG
	for _, q := range e.cfg.Queries {
		if q.AppID != stats.AppID || !wanted[q.QueryID] {
			continue
		}
		d, err := BuildDAG(q)
		if err != nil {
			return nil, err
		}
		dags = append(dags, d)
	}
	return dags, nil
}

// SubmitQueries creates every query declared in the configuration.
func (e *Engine) SubmitQueries(ctx context.Context) error {
	var result *multierror.Error
	for _, q := range e.cfg.Queries {
		d, err := BuildDAG(q)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		h, res := e.manager.CreateGroup(ctx, q.AppID, d)
		if !res.Success {
			result = multierror.Append(result, fmt.Errorf("query %s: %s: %s", d.QueryID(), res.Code, res.Message))
			continue
		}
		if q.Isolated {
			if _, res := e.manager.IsolateGroup(ctx, h.GroupID); !res.Success {
				result = multierror.Append(result, fmt.Errorf("isolating group %s: %s", h.GroupID, res.Message))
			}
		}
	}
	return result.ErrorOrNil()
}

// ProvisionIsolated starts a processor dedicated to one group.
func (e *Engine) ProvisionIsolated() (allocation.EventProcessor, error) {
	p := e.factory.NewIsolated()
	e.table.Put(p)
	if err := p.Start(); err != nil {
		e.table.Remove(p)
		return nil, err
	}
	e.collector.SetProcessors(e.table.Len())
	return p, nil
}

// ReleaseIsolated stops a processor created by ProvisionIsolated. Groups
// still pinned to it go back to the shared pool first; without a shared
// processor to take them the processor is kept and ErrNoProcessors
// returned.
func (e *Engine) ReleaseIsolated(p allocation.EventProcessor) error {
	var moved []*group.Group
	err := e.table.Exclusive(func() error {
		pinned := e.table.GetValue(p)
		if pinned == nil {
			return allocation.ErrUnknownProcessor
		}
		if pinned.Len() > 0 && len(e.table.Assignment()) == 0 {
			return allocation.ErrNoProcessors
		}
		moved = e.table.Remove(p)
		for _, g := range moved {
			g.SetIsolated(false)
			if _, err := e.balancer.AssignGroup(g, e.table.Assignment()); err != nil {
				return fmt.Errorf("reassigning group %s: %w", g.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var result *multierror.Error
	if ep, ok := p.(*processor.EventProcessor); ok {
		if cerr := ep.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}
	}
	e.collector.DeleteProcessor(p.ID())
	e.collector.SetProcessors(e.table.Len())
	e.logger.Info().Str("processor_id", p.ID()).Int("moved_groups", len(moved)).Msg("Released isolated processor")
	return result.ErrorOrNil()
}

// Close stops every processor, tears down every group and closes the
// stats store.
func (e *Engine) Close() error {
	var result *multierror.Error
	for _, entry := range e.table.Entries() {
		if ep, ok := entry.Processor.(*processor.EventProcessor); ok {
			if err := ep.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for _, g := range e.groups.Groups() {
		if err := g.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.ownsStats {
		if err := e.stats.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	e.logger.Info().Msg("Engine closed")
	return result.ErrorOrNil()
}

func (e *Engine) WorkerID() string                { return e.cfg.WorkerID }
func (e *Engine) Manager() *querymanager.Manager  { return e.manager }
func (e *Engine) Recovery() *recovery.Scheduler   { return e.recovery }
func (e *Engine) Table() *allocation.Table        { return e.table }
func (e *Engine) Groups() *group.Map              { return e.groups }
func (e *Engine) Metrics() metrics.GlobalSnapshot { return e.global.Snapshot() }
func (e *Engine) Scaler() *scaling.Runner         { return e.scaler }
func (e *Engine) Routing() recovery.RoutingTable  { return e.routing }
func (e *Engine) StatsStore() *statsstore.Store   { return e.stats }

// Gatherer returns the registry the scheduler metrics live in, or nil
// when an external registerer was supplied.
func (e *Engine) Gatherer() prometheus.Gatherer {
	if e.registry == nil {
		return nil
	}
	return e.registry
}

// Processors describes every processor of the pool.
func (e *Engine) Processors() []processor.Stats {
	var out []processor.Stats
	for _, entry := range e.table.Entries() {
		if ep, ok := entry.Processor.(*processor.EventProcessor); ok {
			out = append(out, ep.Stats())
		}
	}
	return out
}
