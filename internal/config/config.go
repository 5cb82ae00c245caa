// Package config loads the engine configuration from files and flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tarungka/wiregroup/sinks"
	"github.com/tarungka/wiregroup/sources"
)

type SchedulerConfig struct {
	DefaultNumEventProcessors int           `koanf:"default_num_event_processors" json:"default_num_event_processors"`
	BatchSize                 int           `koanf:"batch_size" json:"batch_size"`
	MinSchedulingPeriod       time.Duration `koanf:"min_scheduling_period" json:"min_scheduling_period"`
	MaxSchedulingPeriod       time.Duration `koanf:"max_scheduling_period" json:"max_scheduling_period"`
	IdleSleep                 time.Duration `koanf:"idle_sleep" json:"idle_sleep"`
	// Selector is "round-robin" or "weighted".
	Selector string `koanf:"selector" json:"selector"`
}

type BalancerConfig struct {
	// Type is "round-robin" or "min-load".
	Type        string        `koanf:"type" json:"type"`
	GracePeriod time.Duration `koanf:"grace_period" json:"grace_period"`
}

type MetricsConfig struct {
	Alpha        float64       `koanf:"alpha" json:"alpha"`
	TickInterval time.Duration `koanf:"tick_interval" json:"tick_interval"`
}

type ScalingConfig struct {
	Enabled           bool          `koanf:"enabled" json:"enabled"`
	Interval          time.Duration `koanf:"interval" json:"interval"`
	IdleLoadThreshold float64       `koanf:"idle_load_threshold" json:"idle_load_threshold"`
	OverloadThreshold float64       `koanf:"overload_threshold" json:"overload_threshold"`
	ProcessorCapacity float64       `koanf:"processor_capacity" json:"processor_capacity"`
	MinProcessors     int           `koanf:"min_processors" json:"min_processors"`
	MaxProcessors     int           `koanf:"max_processors" json:"max_processors"`
}

type StatsStoreConfig struct {
	// Dir is the badger directory; empty keeps the stats in memory.
	Dir string `koanf:"dir" json:"dir"`
	// SnapshotInterval is how often the local group stats are persisted.
	SnapshotInterval time.Duration `koanf:"snapshot_interval" json:"snapshot_interval"`
}

type ServerConfig struct {
	Port string `koanf:"port" json:"port"`
}

type WatermarkConfig struct {
	Period        time.Duration `koanf:"period" json:"period"`
	ExpectedDelay time.Duration `koanf:"expected_delay" json:"expected_delay"`
}

// QueryConfig declares a linear query: source, operators by name, sink.
type QueryConfig struct {
	AppID     string               `koanf:"app_id" json:"app_id"`
	QueryID   string               `koanf:"query_id" json:"query_id"`
	Source    sources.SourceConfig `koanf:"source" json:"source"`
	Operators []string             `koanf:"operators" json:"operators"`
	Sink      sinks.SinkConfig     `koanf:"sink" json:"sink"`
	Watermark WatermarkConfig      `koanf:"watermark" json:"watermark"`
	// RateLimit caps source ingestion in events per second; 0 disables it.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit"`
	// LatePolicy is "log", "process" or "drop".
	LatePolicy string `koanf:"late_policy" json:"late_policy"`
	Isolated   bool   `koanf:"isolated" json:"isolated"`
}

type Config struct {
	WorkerID string   `koanf:"worker_id" json:"worker_id"`
	Workers  []string `koanf:"workers" json:"workers"`
	Dev      bool     `koanf:"dev" json:"dev"`
	LogLevel string   `koanf:"log_level" json:"log_level"`
	Version  bool     `koanf:"version" json:"-"`

	Scheduler  SchedulerConfig  `koanf:"scheduler" json:"scheduler"`
	Balancer   BalancerConfig   `koanf:"balancer" json:"balancer"`
	Metrics    MetricsConfig    `koanf:"metrics" json:"metrics"`
	Scaling    ScalingConfig    `koanf:"scaling" json:"scaling"`
	StatsStore StatsStoreConfig `koanf:"stats_store" json:"stats_store"`
	Server     ServerConfig     `koanf:"server" json:"server"`
	Queries    []QueryConfig    `koanf:"queries" json:"queries"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	n := runtime.NumCPU()
	return Config{
		WorkerID: "worker-0",
		LogLevel: "info",
		Scheduler: SchedulerConfig{
			DefaultNumEventProcessors: n,
			BatchSize:                 100,
			MinSchedulingPeriod:       10 * time.Millisecond,
			MaxSchedulingPeriod:       100 * time.Millisecond,
			IdleSleep:                 5 * time.Millisecond,
			Selector:                  "round-robin",
		},
		Balancer: BalancerConfig{
			Type:        "min-load",
			GracePeriod: 100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Alpha:        0.7,
			TickInterval: time.Second,
		},
		Scaling: ScalingConfig{
			Interval:          5 * time.Second,
			IdleLoadThreshold: 0.3,
			OverloadThreshold: 0.9,
			ProcessorCapacity: 1000,
			MinProcessors:     1,
			MaxProcessors:     4 * n,
		},
		StatsStore: StatsStoreConfig{
			SnapshotInterval: 10 * time.Second,
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Scheduler.DefaultNumEventProcessors < 1 {
		result = multierror.Append(result, errors.New("scheduler.default_num_event_processors must be at least 1"))
	}
	if c.Scheduler.BatchSize < 1 {
		result = multierror.Append(result, errors.New("scheduler.batch_size must be at least 1"))
	}
	if c.Scheduler.MinSchedulingPeriod <= 0 || c.Scheduler.MaxSchedulingPeriod < c.Scheduler.MinSchedulingPeriod {
		result = multierror.Append(result, errors.New("scheduler scheduling periods must satisfy 0 < min <= max"))
	}
	switch c.Scheduler.Selector {
	case "round-robin", "weighted":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown scheduler.selector %q", c.Scheduler.Selector))
	}
	switch c.Balancer.Type {
	case "round-robin", "min-load":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown balancer.type %q", c.Balancer.Type))
	}
	if c.Balancer.GracePeriod < 0 {
		result = multierror.Append(result, errors.New("balancer.grace_period must not be negative"))
	}
	if c.Metrics.Alpha <= 0 || c.Metrics.Alpha > 1 {
		result = multierror.Append(result, errors.New("metrics.alpha must be in (0, 1]"))
	}
	if c.Metrics.TickInterval <= 0 {
		result = multierror.Append(result, errors.New("metrics.tick_interval must be positive"))
	}
	if c.Scaling.Enabled {
		s := c.Scaling
		if s.IdleLoadThreshold <= 0 || s.OverloadThreshold <= s.IdleLoadThreshold {
			result = multierror.Append(result, errors.New("scaling thresholds must satisfy 0 < idle < overload"))
		}
		if s.ProcessorCapacity <= 0 {
			result = multierror.Append(result, errors.New("scaling.processor_capacity must be positive"))
		}
		if s.MinProcessors < 1 || s.MaxProcessors < s.MinProcessors {
			result = multierror.Append(result, errors.New("scaling processor bounds must satisfy 1 <= min <= max"))
		}
		if s.Interval <= 0 {
			result = multierror.Append(result, errors.New("scaling.interval must be positive"))
		}
	}
	for i, q := range c.Queries {
		if q.AppID == "" {
			result = multierror.Append(result, fmt.Errorf("queries[%d].app_id is required", i))
		}
		switch q.LatePolicy {
		case "", "log", "process", "drop":
		default:
			result = multierror.Append(result, fmt.Errorf("queries[%d].late_policy %q is unknown", i, q.LatePolicy))
		}
	}
	return result.ErrorOrNil()
}
