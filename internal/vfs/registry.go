package vfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Binder installs a backend into the SQL engine's own VFS lookup table.
type Binder interface {
	Bind(name string, backend Backend) error
}

type BinderFunc func(name string, backend Backend) error

func (f BinderFunc) Bind(name string, backend Backend) error { return f(name, backend) }

// Registry maps names to backends. Registration is idempotent: registering
// the same backend under the same name again only updates the default.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	def      string
	binder   Binder
}

// NewRegistry returns an empty registry. binder may be nil.
func NewRegistry(binder Binder) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		binder:   binder,
	}
}

func (r *Registry) Register(name string, backend Backend, makeDefault bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty vfs name", ErrCannotOpen)
	}
	if backend == nil {
		return fmt.Errorf("%w: nil backend for %q", ErrCannotOpen, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.backends[name]; ok {
		if existing != backend {
			return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
		}
	} else {
		if r.binder != nil {
			if err := r.binder.Bind(name, backend); err != nil {
				return fmt.Errorf("bind vfs %q: %w", name, err)
			}
		}
		r.backends[name] = backend
	}
	if makeDefault || r.def == "" {
		r.def = name
	}
	return nil
}

// Find returns the backend registered as name, or the default backend when
// name is empty.
func (r *Registry) Find(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.def
	}
	b, ok := r.backends[name]
	return b, ok
}

// Default returns the default backend and its name.
func (r *Registry) Default() (string, Backend) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def, r.backends[r.def]
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
