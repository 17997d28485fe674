package vector

import (
	"math"
	"math/rand"
	"time"
)

// Source produces random vectors. It is created once by the process (or by
// each scripting host) and is not safe for concurrent use.
type Source struct {
	rng *rand.Rand
}

// NewSource returns a Source seeded with seed; 0 seeds from the clock.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// Uniform returns n samples of U(0,1).
func (s *Source) Uniform(n int) (*Vector, error) {
	if n < 0 {
		return nil, fail("Uniform", ErrInvalidSize, "length %d", n)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = s.rng.Float64()
	}
	return &Vector{data: out}, nil
}

// Normal returns n samples of N(0,1) using the Box-Muller transform, two
// uniform draws per sample.
func (s *Source) Normal(n int) (*Vector, error) {
	if n < 0 {
		return nil, fail("Normal", ErrInvalidSize, "length %d", n)
	}
	out := make([]float64, n)
	for i := range out {
		u1 := 1 - s.rng.Float64() // (0, 1], keeps the log finite
		u2 := s.rng.Float64()
		out[i] = math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	}
	return &Vector{data: out}, nil
}
