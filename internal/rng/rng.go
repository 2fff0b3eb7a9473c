// Package rng provides domain.RandomSource implementations.
package rng

import (
	"math/rand/v2"
	"sync"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

type global struct{}

func (global) Float64() float64 { return rand.Float64() }

// Default returns a source backed by the runtime's global generator.
func Default() domain.RandomSource { return global{} }

// Seeded is a reproducible source safe for concurrent use.
type Seeded struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeeded creates a PCG-backed source from seed.
func NewSeeded(seed uint64) *Seeded {
	return &Seeded{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Seeded) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Sequence replays fixed values in order and then repeats the last one. It
// lets tests pin every draw of a code path.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequence creates a Sequence. With no values it always yields 0.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	if s.next >= len(s.values) {
		return s.values[len(s.values)-1]
	}
	v := s.values[s.next]
	s.next++
	return v
}

// Drawn reports how many scripted values have been consumed.
func (s *Sequence) Drawn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

var (
	_ domain.RandomSource = global{}
	_ domain.RandomSource = (*Seeded)(nil)
	_ domain.RandomSource = (*Sequence)(nil)
)
