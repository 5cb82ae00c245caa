package processor

import (
	"fmt"
	"sync/atomic"

	"github.com/tarungka/wiregroup/internal/allocation"
)

// Factory creates processors with sequential ids sharing one configuration.
type Factory struct {
	table *allocation.Table
	cfg   Config
	seq   atomic.Uint64
}

func NewFactory(table *allocation.Table, cfg Config) *Factory {
	return &Factory{table: table, cfg: cfg}
}

func (f *Factory) New() *EventProcessor {
	return New(fmt.Sprintf("ep-%d", f.seq.Add(1)), f.table, f.cfg)
}

func (f *Factory) NewIsolated() *EventProcessor {
	return New(fmt.Sprintf("ep-iso-%d", f.seq.Add(1)), f.table, f.cfg, Isolated())
}
