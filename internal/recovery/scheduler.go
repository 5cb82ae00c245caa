// Package recovery re-admits the groups of a failed worker.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/balancer"
	"github.com/tarungka/wiregroup/internal/execution"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
	"github.com/tarungka/wiregroup/internal/statsstore"
)

var ErrNoStore = errors.New("no stats store configured")

// StatsStore is the persisted per-worker group statistics.
type StatsStore interface {
	Load(workerID string) (map[string]statsstore.GroupStats, error)
	Delete(workerID string) error
}

// PlanLoader rebuilds the execution DAGs of a recovered group.
type PlanLoader func(ctx context.Context, stats statsstore.GroupStats) ([]*execution.DAG, error)

type Options struct {
	// WorkerID is recorded as the new route of every recovered app.
	WorkerID  string
	Routing   RoutingTable
	Store     StatsStore
	Plans     PlanLoader
	Alpha     float64
	Collector *metrics.Collector
}

// Result lists what a recovery did per group id.
type Result struct {
	Recovered []string `json:"recovered"`
	Skipped   []string `json:"skipped"`
}

// Scheduler re-admits groups through the balancer, exactly like newly
// created groups. Recoveries are serialized.
type Scheduler struct {
	mu sync.Mutex

	groups   *group.Map
	table    *allocation.Table
	balancer balancer.GroupBalancer
	opts     Options
	logger   zerolog.Logger
}

func NewScheduler(groups *group.Map, table *allocation.Table, b balancer.GroupBalancer, opts Options) *Scheduler {
	if opts.Alpha <= 0 {
		opts.Alpha = metrics.DefaultAlpha
	}
	return &Scheduler{
		groups:   groups,
		table:    table,
		balancer: b,
		opts:     opts,
		logger:   log.With().Str("component", "recovery_scheduler").Logger(),
	}
}

// RecoverFromStore recovers workerID from the last stats it persisted.
func (s *Scheduler) RecoverFromStore(ctx context.Context, workerID string) (Result, error) {
	if s.opts.Store == nil {
		return Result{}, ErrNoStore
	}
	stats, err := s.opts.Store.Load(workerID)
	if err != nil {
		return Result{}, fmt.Errorf("loading stats of worker %s: %w", workerID, err)
	}
	return s.OnWorkerFailed(ctx, workerID, stats)
}

// OnWorkerFailed re-admits every group in snapshot. Groups that are
// already live here are skipped. An empty processor set aborts the
// recovery with allocation.ErrNoProcessors; other per-group failures are
// collected and the remaining groups still recovered.
func (s *Scheduler) OnWorkerFailed(ctx context.Context, workerID string, snapshot map[string]statsstore.GroupStats) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger.With().Str("worker_id", workerID).Logger()
	logger.Info().Int("groups", len(snapshot)).Msg("Recovering groups of failed worker")

	if s.opts.Routing != nil {
		s.opts.Routing.RemoveWorker(workerID)
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		res    Result
		result *multierror.Error
	)
	for _, id := range ids {
		stats := snapshot[id]
		if stats.GroupID == "" {
			stats.GroupID = id
		}
		recovered, err := s.readmit(ctx, stats)
		if errors.Is(err, allocation.ErrNoProcessors) {
			return res, err
		}
		if err != nil {
			logger.Error().Err(err).Str("group_id", id).Msg("Failed to recover group")
			result = multierror.Append(result, fmt.Errorf("group %s: %w", id, err))
		}
		if !recovered {
			if err == nil {
				res.Skipped = append(res.Skipped, id)
			}
			continue
		}
		res.Recovered = append(res.Recovered, id)
		if s.opts.Routing != nil && s.opts.WorkerID != "" {
			s.opts.Routing.Set(stats.AppID, s.opts.WorkerID)
		}
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.Delete(workerID); err != nil {
			result = multierror.Append(result, fmt.Errorf("forgetting stats of worker %s: %w", workerID, err))
		}
	}
	if s.opts.Collector != nil {
		s.opts.Collector.GroupsRecovered(len(res.Recovered))
	}
	logger.Info().
		Int("recovered", len(res.Recovered)).
		Int("skipped", len(res.Skipped)).
		Msg("Recovery finished")
	return res, result.ErrorOrNil()
}

func (s *Scheduler) readmit(ctx context.Context, stats statsstore.GroupStats) (bool, error) {
	if _, ok := s.groups.Get(stats.GroupID); ok {
		return false, nil
	}
	if _, ok := s.groups.ByApp(stats.AppID); ok {
		s.logger.Warn().Str("group_id", stats.GroupID).Str("app_id", stats.AppID).Msg("App already has a live group, skipping")
		return false, nil
	}

	g := group.NewWithID(stats.GroupID, stats.AppID, s.opts.Alpha)
	g.Metrics().Seed(stats.Load, stats.Weight)

	var dags []*execution.DAG
	if s.opts.Plans != nil {
		var err error
		if dags, err = s.opts.Plans(ctx, stats); err != nil {
			return false, fmt.Errorf("loading plans: %w", err)
		}
		for _, d := range dags {
			if err := g.AddDAG(d); err != nil {
				return false, err
			}
		}
	}

	if err := s.groups.Add(g); err != nil {
		return false, err
	}
	err := s.table.Exclusive(func() error {
		p, err := s.balancer.AssignGroup(g, s.table.Assignment())
		if err == nil {
			s.logger.Debug().Str("group_id", g.ID()).Str("processor_id", p.ID()).Msg("Re-admitted group")
		}
		return err
	})
	if err != nil {
		s.groups.Remove(g.ID())
		return false, err
	}

	for _, d := range dags {
		if err := d.Start(ctx); err != nil {
			return true, fmt.Errorf("starting query %s: %w", d.QueryID(), err)
		}
	}
	return true, nil
}
