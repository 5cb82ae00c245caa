package config

import (
	"fmt"
	"path/filepath"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"github.com/tarungka/wiregroup/internal/utils"
)

// NewFlagSet declares the command line flags. Flag names are koanf keys so
// that flags override the matching config file values.
func NewFlagSet() *flag.FlagSet {
	d := Default()
	f := flag.NewFlagSet("wiregroup", flag.ContinueOnError)

	f.StringSlice("config", nil, "path to one or more config files (will be merged in order)")
	f.Bool("version", false, "show current version of the build")
	f.Bool("dev", false, "human readable development logging")
	f.String("log_level", d.LogLevel, "log level")
	f.String("worker_id", d.WorkerID, "id of this worker")
	f.String("server.port", d.Server.Port, "port to host the web server on")
	f.Int("scheduler.default_num_event_processors", d.Scheduler.DefaultNumEventProcessors, "number of event processors started at boot")
	f.String("scheduler.selector", d.Scheduler.Selector, "next group selector: round-robin or weighted")
	f.String("balancer.type", d.Balancer.Type, "group balancer: round-robin or min-load")
	f.Duration("balancer.grace_period", d.Balancer.GracePeriod, "min-load rebalancing grace period")
	f.Bool("scaling.enabled", d.Scaling.Enabled, "enable dynamic scaling of the processor pool")
	f.String("stats_store.dir", d.StatsStore.Dir, "group stats directory, in memory when empty")
	return f
}

func parserFor(path string) (koanf.Parser, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", path)
	}
}

// Load builds the configuration from the defaults, the config files given
// with --config in order, and finally the flags in args.
func Load(args []string) (Config, error) {
	f := NewFlagSet()
	if err := f.Parse(args); err != nil {
		return Config{}, fmt.Errorf("error loading flags: %w", err)
	}

	ko := koanf.New(".")
	configs, _ := f.GetStringSlice("config")
	for _, path := range configs {
		if !utils.PathExists(path) {
			return Config{}, fmt.Errorf("config file %s does not exist", path)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		log.Debug().Msgf("Reading config from %s", path)
		if err := ko.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return Config{}, fmt.Errorf("error reading flag config: %w", err)
	}

	cfg := Default()
	if err := ko.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.Version {
		return cfg, nil
	}
	return cfg, cfg.Validate()
}
