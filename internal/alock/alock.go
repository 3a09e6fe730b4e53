// Package alock provides named mutual exclusion per assignment. At most one
// store-write or bundle-build runs for a given assignment at a time;
// different assignments proceed fully in parallel.
package alock

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

type Registry struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

func NewRegistry() *Registry {
	return &Registry{locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

// With runs fn while holding the lease for assignment. The lease is
// released on every exit path, including a panic inside fn.
func (r *Registry) With(assignment string, fn func() error) error {
	mu, _ := r.locks.LoadOrStore(assignment, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
