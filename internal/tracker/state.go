package tracker

import (
	"maps"
	"sync"
)

// State holds the last committed counter per entity. It is owned by one Loop;
// the mutex only lets observers read while the loop runs.
type State struct {
	mu     sync.RWMutex
	counts map[string]int64
}

func NewState() *State {
	return &State{counts: map[string]int64{}}
}

// Baseline records the initial counter for id.
func (s *State) Baseline(id string, n int64) {
	s.mu.Lock()
	s.counts[id] = n
	s.mu.Unlock()
}

func (s *State) Get(id string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.counts[id]
	return n, ok
}

// Commit stores the most recently read counter for id.
func (s *State) Commit(id string, n int64) {
	s.mu.Lock()
	s.counts[id] = n
	s.mu.Unlock()
}

// Rewind lowers the counter for id by delta, never below zero, and returns the
// new value. Unknown ids are left alone.
func (s *State) Rewind(id string, delta int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[id]
	if !ok {
		return 0, false
	}
	n = max(0, n-delta)
	s.counts[id] = n
	return n, true
}

func (s *State) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.counts)
}
