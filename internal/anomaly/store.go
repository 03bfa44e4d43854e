package anomaly

import (
	"context"
	"sync"
)

// Vector is the feature vector of one snapshot:
// [error_rate, p95_latency_ms, tps].
type Vector [3]float64

// WindowStore keeps the bounded per-service history the detector scores
// against.
type WindowStore interface {
	// Append adds v to the service's window, evicts the oldest entries
	// beyond limit and returns the resulting window, oldest first.
	Append(ctx context.Context, service string, v Vector, limit int) ([]Vector, error)
}

// MemoryWindowStore keeps windows in process memory.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string][]Vector
}

// NewMemoryWindowStore creates an empty MemoryWindowStore.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string][]Vector)}
}

func (s *MemoryWindowStore) Append(ctx context.Context, service string, v Vector, limit int) ([]Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := append(s.windows[service], v)
	if limit > 0 && len(w) > limit {
		w = append([]Vector(nil), w[len(w)-limit:]...)
	}
	s.windows[service] = w

	out := make([]Vector, len(w))
	copy(out, w)
	return out, nil
}

// keyedMutex serialises work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
