package driver

import "sync"

// Sockets keeps persistent physical connections for the life of the process,
// independent of any pool. A pool created after a teardown finds the socket
// an earlier pool left open by looking it up under the same key.
type Sockets[T any] struct {
	mu sync.Mutex
	m  map[string]T
}

// NewSockets returns an empty store.
func NewSockets[T any]() *Sockets[T] {
	return &Sockets[T]{m: make(map[string]T)}
}

// Load returns the socket stored under key.
func (s *Sockets[T]) Load(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Store files v under key, replacing any previous entry.
func (s *Sockets[T]) Store(key string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = v
}

// Delete removes key and returns what was stored.
func (s *Sockets[T]) Delete(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	delete(s.m, key)
	return v, ok
}

// Drain empties the store and returns its contents.
func (s *Sockets[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.m))
	for k, v := range s.m {
		out = append(out, v)
		delete(s.m, k)
	}
	return out
}

// Len returns the number of stored sockets.
func (s *Sockets[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
