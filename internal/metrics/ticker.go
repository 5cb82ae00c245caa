package metrics

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tick asks the metric handler to take a new sample.
type Tick struct {
	Seq uint64
	At  time.Time
}

// Ticker publishes a Tick on its channel every interval. A tick is dropped
// if the previous one has not been consumed yet.
type Ticker struct {
	clock    clock.Clock
	interval time.Duration
	ticks    chan Tick
	logger   zerolog.Logger
}

func NewTicker(interval time.Duration, clk clock.Clock) *Ticker {
	if clk == nil {
		clk = clock.New()
	}
	return &Ticker{
		clock:    clk,
		interval: interval,
		ticks:    make(chan Tick, 1),
		logger:   log.With().Str("component", "metric_ticker").Logger(),
	}
}

// C returns the channel ticks are published on.
func (t *Ticker) C() <-chan Tick {
	return t.ticks
}

// Run publishes ticks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	ticker := t.clock.Ticker(t.interval)
	defer ticker.Stop()

	t.logger.Debug().Dur("interval", t.interval).Msg("Metric ticker started")
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case at := <-ticker.C:
			seq++
			select {
			case t.ticks <- Tick{Seq: seq, At: at}:
			default:
				t.logger.Debug().Uint64("seq", seq).Msg("Metric handler busy, dropping tick")
			}
		}
	}
}
