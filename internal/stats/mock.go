package stats

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// EngineStats mirrors the storage engine dashboard counters.
type EngineStats struct {
	CacheHitRate float64 `json:"cacheHitRate"`
	ActivePages  int     `json:"activePages"`
	MemoryUsage  int     `json:"memoryUsage"`
	TotalOps     int64   `json:"totalOps"`
}

// MockProvider generates plausible engine counters as a bounded random walk.
// TotalOps only grows.
type MockProvider struct {
	mu    sync.Mutex
	rng   *rand.Rand
	state EngineStats
}

// NewMockProvider creates a generator. A zero seed uses the current time.
func NewMockProvider(seed uint64) *MockProvider {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MockProvider{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		state: EngineStats{
			CacheHitRate: 85,
			ActivePages:  1234,
			MemoryUsage:  456,
			TotalOps:     789000,
		},
	}
}

func (p *MockProvider) Snapshot(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.state
	s.CacheHitRate = clampFloat(s.CacheHitRate+(p.rng.Float64()-0.5)*4, 50, 99.5)
	s.ActivePages = clampInt(s.ActivePages+p.rng.IntN(101)-50, 64, 8192)
	s.MemoryUsage = clampInt(s.MemoryUsage+p.rng.IntN(21)-10, 128, 2048)
	s.TotalOps += int64(500 + p.rng.IntN(1500))

	return *s, nil
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
