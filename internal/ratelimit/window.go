package ratelimit

import (
	"sync"
	"time"
)

// windowStore tracks request timestamps per identifier for sliding
// window rate limiting. Stale identifiers are swept by a background
// goroutine so idle clients do not accumulate.
type windowStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	window  time.Duration
	done    chan struct{}
	now     func() time.Time
}

func newWindowStore(window time.Duration) *windowStore {
	s := &windowStore{
		entries: make(map[string][]time.Time),
		window:  window,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go s.cleanupLoop()
	return s
}

// allow records a request for the identifier if it is under the limit.
// It returns whether the request was admitted, the remaining budget in
// the current window, and the Unix time at which the oldest recorded
// request leaves the window.
func (s *windowStore) allow(identifier string, limit int) (bool, int, int64) {
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	times := s.entries[identifier]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		s.entries[identifier] = kept
		return false, 0, kept[0].Add(s.window).Unix()
	}

	kept = append(kept, now)
	s.entries[identifier] = kept

	remaining := limit - len(kept)
	return true, remaining, kept[0].Add(s.window).Unix()
}

func (s *windowStore) cleanupLoop() {
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep drops identifiers whose every recorded request has left the window.
func (s *windowStore) sweep() {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, times := range s.entries {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(s.entries, id)
		}
	}
}

func (s *windowStore) close() {
	close(s.done)
}
