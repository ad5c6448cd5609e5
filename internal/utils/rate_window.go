package utils

import (
	"sync"
	"time"
)

// RateWindow counts hits per key over a sliding window. It backs the
// dashboard's per-client rate limit.
type RateWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   map[string][]time.Time
}

func NewRateWindow(window time.Duration) *RateWindow {
	return &RateWindow{
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Add records a hit for key and returns how many hits the key has inside
// the window, including this one.
func (w *RateWindow) Add(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	hits := w.trimLocked(key, now)
	hits = append(hits, now)
	w.hits[key] = hits
	return len(hits)
}

// Count reports the key's hits inside the window without recording one.
func (w *RateWindow) Count(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	hits := w.trimLocked(key, now)
	if len(hits) == 0 {
		delete(w.hits, key)
	} else {
		w.hits[key] = hits
	}
	return len(hits)
}

// Sweep drops keys whose every hit has aged out, so the map does not grow
// with one entry per client ever seen.
func (w *RateWindow) Sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	for key, hits := range w.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(w.hits, key)
		}
	}
}

func (w *RateWindow) trimLocked(key string, now time.Time) []time.Time {
	hits := w.hits[key]
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	return hits[idx:]
}
