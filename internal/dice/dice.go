// Package dice provides the random source behind market rolls.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

// Roller draws uniform integers in [0, n).
type Roller interface {
	Intn(n int) int
}

// Config for the random roller.
type Config struct {
	// Optional seed for reproducible games; zero draws a seed from crypto/rand.
	Seed int64
}

// Random is a Roller backed by math/rand. It is safe for concurrent use.
type Random struct {
	mu     sync.Mutex
	random *rand.Rand
}

// New creates a random roller.
func New(cfg *Config) *Random {
	var seed int64
	if cfg != nil && cfg.Seed != 0 {
		seed = cfg.Seed
	} else {
		seed = newSeed()
	}
	return &Random{random: rand.New(rand.NewSource(seed))}
}

func (r *Random) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.random.Intn(n)
}

func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is unusable.
		panic("dice: read random seed: " + err.Error())
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Scripted replays a fixed sequence of draws, wrapping each value into
// [0, n). Once the script is exhausted it returns 0. Useful to force a
// specific market outcome.
type Scripted struct {
	mu     sync.Mutex
	values []int
	next   int
}

func NewScripted(values ...int) *Scripted {
	return &Scripted{values: values}
}

// Push appends draws to the script.
func (s *Scripted) Push(values ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, values...)
}

func (s *Scripted) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || s.next >= len(s.values) {
		return 0
	}
	v := s.values[s.next] % n
	s.next++
	if v < 0 {
		v += n
	}
	return v
}
