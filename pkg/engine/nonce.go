package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// CounterRegistry holds each maker's monotone counter. Because the counter is
// mixed into every order's canonical hash at verification time, bumping it
// invalidates all previously signed orders in O(1), with no per-order
// revocation list.
type CounterRegistry struct {
	mu       sync.Mutex
	counters map[common.Address]uint64
}

func NewCounterRegistry() *CounterRegistry {
	return &CounterRegistry{counters: make(map[common.Address]uint64)}
}

func (r *CounterRegistry) Counter(maker common.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[maker]
}

// Increment bumps the maker's counter by exactly one and returns the new
// value. Wraparound is not a practical concern at uint64 width.
func (r *CounterRegistry) Increment(maker common.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[maker]++
	return r.counters[maker]
}

// Restore reinstates a persisted counter at startup.
func (r *CounterRegistry) Restore(maker common.Address, counter uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[maker] = counter
}
