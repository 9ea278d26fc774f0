// Package userlock provides per-user read-write mutexes so writes to one
// user's state serialize without blocking other users.
package userlock

import "sync"

// Registry hands out one RWMutex per key. Locks are never released from the
// map; the key space is bounded by the active user population.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{locks: make(map[string]*sync.RWMutex)}
}

// Get returns the mutex for key, creating it on first use.
func (r *Registry) Get(key string) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[key] = l
	}
	return l
}
