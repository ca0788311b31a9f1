package retry

import (
	"math"
	"math/rand/v2"
	"sync"
)

// RandSource supplies jitter. Float64 returns a value in [0.0, 1.0).
type RandSource interface {
	Float64() float64
}

type globalSource struct{}

// Float64 uses the runtime-seeded, concurrency-safe math/rand/v2 source.
func (globalSource) Float64() float64 { return rand.Float64() }

// SeededSource is a deterministic RandSource for tests and replays.
type SeededSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// FixedSource always returns the same value, clamped to [0, 1).
type FixedSource float64

func (f FixedSource) Float64() float64 {
	return math.Max(0, math.Min(float64(f), 0.9999999999))
}
