package net

import "sync"

// Registry is a concurrency-safe map. Channels are accepted and closed on
// different goroutines, so every channel index in this module uses one.
type Registry[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewRegistry ...
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{m: make(map[K]V)}
}

func (r *Registry[K, V]) Get(k K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[k]
	return v, ok
}

// Set stores v and returns the value it replaced, if any.
func (r *Registry[K, V]) Set(k K, v V) (prev V, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced = r.m[k]
	r.m[k] = v
	return prev, replaced
}

// Delete removes k and returns the removed value.
func (r *Registry[K, V]) Delete(k K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.m[k]
	if ok {
		delete(r.m, k)
	}
	return v, ok
}

func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Values returns a snapshot.
func (r *Registry[K, V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.m))
	for _, v := range r.m {
		out = append(out, v)
	}
	return out
}

// Range calls f on a snapshot, so f may mutate the registry.
func (r *Registry[K, V]) Range(f func(K, V) bool) {
	r.mu.RLock()
	keys := make([]K, 0, len(r.m))
	vals := make([]V, 0, len(r.m))
	for k, v := range r.m {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	r.mu.RUnlock()
	for i := range keys {
		if !f(keys[i], vals[i]) {
			return
		}
	}
}
