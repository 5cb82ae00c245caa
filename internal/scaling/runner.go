package scaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/internal/allocation"
	"github.com/tarungka/wiregroup/internal/balancer"
	"github.com/tarungka/wiregroup/internal/group"
	"github.com/tarungka/wiregroup/internal/metrics"
)

var (
	ErrLastProcessor    = errors.New("cannot remove the last event processor")
	ErrIsolatedTarget   = errors.New("cannot scale in an isolated event processor")
	ErrUnknownProcessor = allocation.ErrUnknownProcessor
)

// Processor is an event processor the runner can start and stop.
type Processor interface {
	allocation.EventProcessor
	Start() error
	Close() error
}

// RunnerOptions are the optional collaborators of a Runner.
type RunnerOptions struct {
	Interval  time.Duration
	Clock     clock.Clock
	Collector *metrics.Collector
}

// Runner periodically applies the policy to the allocation table.
type Runner struct {
	policy       *Policy
	table        *allocation.Table
	balancer     balancer.GroupBalancer
	newProcessor func() Processor

	interval  time.Duration
	clock     clock.Clock
	collector *metrics.Collector
	logger    zerolog.Logger
}

func NewRunner(policy *Policy, table *allocation.Table, b balancer.GroupBalancer, newProcessor func() Processor, opts RunnerOptions) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Runner{
		policy:       policy,
		table:        table,
		balancer:     b,
		newProcessor: newProcessor,
		interval:     opts.Interval,
		clock:        opts.Clock,
		collector:    opts.Collector,
		logger:       log.With().Str("component", "scaling_runner").Logger(),
	}
}

// Run evaluates the policy every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("Scaling runner started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Scaling runner stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Evaluate(); err != nil {
				r.logger.Error().Err(err).Msg("Scaling action failed")
			}
		}
	}
}

// Evaluate runs the policy once and performs its decision.
func (r *Runner) Evaluate() (Decision, error) {
	d := r.policy.Decide(r.table.Assignment())
	r.logger.Debug().
		Str("action", d.Action.String()).
		Int("delta", d.Delta).
		Float64("utilization", d.Utilization).
		Int("processors", r.table.Len()).
		Msg("Evaluated scaling policy")

	switch d.Action {
	case ScaleOut:
		_, err := r.ScaleOut(d.Delta)
		return d, err
	case ScaleIn:
		return d, r.ScaleIn(d.Target)
	}
	return d, nil
}

// ScaleOut adds n processors. They start empty and are eligible for the
// next assignment right away.
func (r *Runner) ScaleOut(n int) ([]Processor, error) {
	var added []Processor
	for i := 0; i < n; i++ {
		p := r.newProcessor()
		r.table.Put(p)
		if err := p.Start(); err != nil {
			r.table.Remove(p)
			return added, fmt.Errorf("starting event processor %s: %w", p.ID(), err)
		}
		added = append(added, p)
		r.logger.Info().Str("processor_id", p.ID()).Int("processors", r.table.Len()).Msg("Scaled out")
	}
	r.observe("scale_out", len(added))
	return added, nil
}

// ScaleIn removes target after moving its groups to the remaining
// processors through the balancer, then closes it. The move runs under
// the table's exclusive lock, so no concurrent assignment can target the
// removed processor and no group is left unassigned.
func (r *Runner) ScaleIn(target allocation.EventProcessor) error {
	if target == nil {
		return ErrUnknownProcessor
	}
	if target.IsRunningIsolatedGroup() {
		return ErrIsolatedTarget
	}

	var moved []*group.Group
	err := r.table.Exclusive(func() error {
		if r.table.GetValue(target) == nil {
			return ErrUnknownProcessor
		}
		if len(r.table.Assignment()) <= 1 {
			return ErrLastProcessor
		}
		moved = r.table.Remove(target)
		for _, g := range moved {
			if _, err := r.balancer.AssignGroup(g, r.table.Assignment()); err != nil {
				return fmt.Errorf("reassigning group %s: %w", g.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p, ok := target.(Processor); ok {
		if err := p.Close(); err != nil {
			r.logger.Warn().Err(err).Str("processor_id", target.ID()).Msg("Failed to close event processor")
		}
	}
	r.logger.Info().
		Str("processor_id", target.ID()).
		Int("moved_groups", len(moved)).
		Int("processors", r.table.Len()).
		Msg("Scaled in")
	if r.collector != nil {
		r.collector.DeleteProcessor(target.ID())
	}
	r.observe("scale_in", 1)
	return nil
}

func (r *Runner) observe(action string, n int) {
	if r.collector == nil || n == 0 {
		return
	}
	r.collector.ScalingAction(action)
	r.collector.SetProcessors(r.table.Len())
}
