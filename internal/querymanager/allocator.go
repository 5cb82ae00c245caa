package querymanager

import (
	"errors"
	"sync/atomic"
)

var ErrNoWorkers = errors.New("no workers registered")

// WorkerAllocator hands out worker addresses in round-robin order.
type WorkerAllocator struct {
	workers []string
	next    atomic.Uint64
}

func NewWorkerAllocator(workers ...string) *WorkerAllocator {
	return &WorkerAllocator{workers: append([]string(nil), workers...)}
}

func (a *WorkerAllocator) Next() (string, error) {
	if len(a.workers) == 0 {
		return "", ErrNoWorkers
	}
	i := a.next.Add(1) - 1
	return a.workers[i%uint64(len(a.workers))], nil
}

func (a *WorkerAllocator) Workers() []string {
	return append([]string(nil), a.workers...)
}
