// Package sources holds the external event sources a query can read from.
package sources

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tarungka/wiregroup/stream"
)

// New builds the source described by cfg.
func New(cfg SourceConfig) (stream.Source, error) {
	switch cfg.ConnectionType {
	case "kafka":
		return NewKafkaSource(cfg)
	case "mongodb":
		return NewMongoSource(cfg)
	case "numbers", "":
		return newNumberSource(cfg)
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.ConnectionType)
	}
}

func newNumberSource(cfg SourceConfig) (stream.Source, error) {
	count := 0
	if v := cfg.Config["count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid count %q: %w", v, err)
		}
		count = n
	}
	interval := 100 * time.Millisecond
	if v := cfg.Config["interval"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		interval = d
	}
	return stream.NewNumberSource(count, interval), nil
}
