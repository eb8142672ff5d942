// Package rng abstracts the randomness used for outcome draws and name
// picks, so tests can script exact sequences.
package rng

import "math/rand"

// Rand yields values in [0,1).
type Rand interface {
	Next() float64
}

type seeded struct {
	r *rand.Rand
}

func (s seeded) Next() float64 { return s.r.Float64() }

// NewSeeded returns a deterministic Rand for the given seed.
func NewSeeded(seed int64) Rand {
	return seeded{r: rand.New(rand.NewSource(seed))}
}
