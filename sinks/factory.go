// Package sinks holds the external systems query results are written to.
package sinks

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tarungka/wiregroup/stream"
)

// New builds the sink described by cfg.
func New(cfg SinkConfig) (stream.Sink, error) {
	switch cfg.ConnectionType {
	case "file":
		return NewFileSink(cfg)
	case "kafka":
		return NewKafkaSink(cfg)
	case "elasticsearch":
		return NewElasticSink(cfg)
	case "print", "":
		return stream.NewPrintSink(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.ConnectionType)
	}
}

// encode renders an event value as bytes. Raw bytes and strings are
// written as they are, everything else as JSON.
func encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return json.Marshal(t)
	}
}
