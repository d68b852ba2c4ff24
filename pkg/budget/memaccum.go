package budget

import (
	"context"
	"sync"
)

// memoryAccumulator is the default single-process sessionAccumulator: an
// in-memory map guarded by a mutex, matching spec.md §4.4's
// "sessionCosts: map<sessionId, number>".
type memoryAccumulator struct {
	mu    sync.Mutex
	costs map[string]float64
}

func newMemoryAccumulator() *memoryAccumulator {
	return &memoryAccumulator{costs: make(map[string]float64)}
}

func (a *memoryAccumulator) Get(ctx context.Context, sessionID string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.costs[sessionID], nil
}

func (a *memoryAccumulator) Add(ctx context.Context, sessionID string, delta float64) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.costs[sessionID] += delta
	return a.costs[sessionID], nil
}

func (a *memoryAccumulator) Load(ctx context.Context) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.costs))
	for k, v := range a.costs {
		out[k] = v
	}
	return out, nil
}

// Seed primes the accumulator from a reconciled snapshot (OQ2: boot-time
// re-aggregation result), overwriting any existing value for each session.
func (a *memoryAccumulator) Seed(totals map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range totals {
		a.costs[k] = v
	}
}
