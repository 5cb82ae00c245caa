package metrics

import "sync"

// DefaultAlpha is the smoothing factor used when none is configured.
const DefaultAlpha = 0.7

// EWMA is an exponentially weighted moving average. The first sample
// seeds the average.
type EWMA struct {
	mu          sync.RWMutex
	alpha       float64
	value       float64
	initialized bool
}

func NewEWMA(alpha float64) *EWMA {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &EWMA{alpha: alpha}
}

// Update folds sample into the average and returns the new value.
func (e *EWMA) Update(sample float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		e.value = sample
		e.initialized = true
		return e.value
	}
	e.value = e.alpha*sample + (1-e.alpha)*e.value
	return e.value
}

func (e *EWMA) Value() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// Set overwrites the average, as if v had been the only sample.
func (e *EWMA) Set(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
	e.initialized = true
}

func (e *EWMA) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = 0
	e.initialized = false
}

func (e *EWMA) Alpha() float64 { return e.alpha }
