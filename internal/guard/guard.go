// Package guard serializes work per key. Every mutation of a session runs
// while holding that session's slot, so concurrent requests against the
// same session observe each other's effects in a single total order.
package guard

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrContended = errors.New("guard: lock not acquired before context ended")

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed hands out one exclusive slot per key. Slots are created on first
// use and released once nobody holds or waits on them.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Lock blocks until the slot for key is free or ctx is done. The returned
// func releases the slot and must be called exactly once.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		k.release(key, s)
		return nil, errors.Join(ErrContended, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.sem.Release(1)
			k.release(key, s)
		})
	}, nil
}

// size reports how many keys currently have a live slot.
func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func (k *Keyed) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
