package cacheinfra

import (
	"strings"
	"sync"
	"time"
)

type staleKey struct {
	value string
	exact bool
}

type staleMark struct {
	pending int
	until   time.Time
}

// staleSet tracks distributed invalidations that are in flight or failed.
// While a mark covers a key, distributed hits for it are treated as misses.
type staleSet struct {
	mu    sync.Mutex
	marks map[staleKey]*staleMark
}

func newStaleSet() *staleSet {
	return &staleSet{marks: make(map[staleKey]*staleMark)}
}

// begin is called before the distributed delete is issued.
func (s *staleSet) begin(value string, exact bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := staleKey{value: value, exact: exact}
	m, ok := s.marks[k]
	if !ok {
		m = &staleMark{}
		s.marks[k] = m
	}
	m.pending++
}

// finish settles a begin. A failed delete keeps the mark until the last value
// the distributed tier could hold for it has expired.
func (s *staleSet) finish(value string, exact bool, failed bool, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := staleKey{value: value, exact: exact}
	m, ok := s.marks[k]
	if !ok {
		return
	}
	m.pending--
	if failed {
		if until.After(m.until) {
			m.until = until
		}
		return
	}
	if m.pending <= 0 {
		delete(s.marks, k)
	}
}

// covers reports whether key is under a live mark. Expired marks are dropped.
func (s *staleSet) covers(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) == 0 {
		return false
	}

	covered := false
	for k, m := range s.marks {
		if m.pending <= 0 && !now.Before(m.until) {
			delete(s.marks, k)
			continue
		}
		if (k.exact && k.value == key) || (!k.exact && strings.HasPrefix(key, k.value)) {
			covered = true
		}
	}
	return covered
}

func (s *staleSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}
