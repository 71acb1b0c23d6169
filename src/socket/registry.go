package socket

import (
	"sort"
	"sync"

	"github.com/orchestra-mcp/replication/src/types"
)

// Registry owns the mapping from handles to live values.
// Handles are allocated sequentially and never reused.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[types.Handle]T
	next    types.Handle
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[types.Handle]T)}
}

// Register stores v under a fresh handle.
func (r *Registry[T]) Register(v T) types.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = v
	return r.next
}

// Resolve returns the value for h, or ErrHandleNotFound.
func (r *Registry[T]) Resolve(h types.Handle) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[h]
	if !ok {
		var zero T
		return zero, types.ErrHandleNotFound
	}
	return v, nil
}

// Release removes h. Releasing an unknown handle is a no-op.
func (r *Registry[T]) Release(h types.Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	return v, ok
}

// Len returns the number of live handles.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handles returns the live handles in allocation order.
func (r *Registry[T]) Handles() []types.Handle {
	r.mu.RLock()
	handles := make([]types.Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.RUnlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}
