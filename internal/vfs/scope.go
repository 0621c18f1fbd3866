package vfs

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// ScopeParam is the connection-string parameter naming the Scope a
// connection's files read under.
const ScopeParam = "torrentsql_scope"

// Scope carries the context of the statement currently running on one
// connection down to the files that connection opened. The engine calls
// file methods without a context, so the connection owner enters the
// statement's context here and the backend reads it back.
type Scope struct {
	id string

	mu  sync.Mutex
	ctx context.Context
}

// ScopedBackend is implemented by backends whose blocking operations honor
// the context of a Scope.
type ScopedBackend interface {
	Backend
	OpenScoped(name string, flags OpenFlag, scope *Scope) (File, OpenFlag, error)
}

var (
	scopeSeq atomic.Uint64
	scopes   sync.Map
)

// NewScope registers a scope. Release must be called once no connection
// uses it any more.
func NewScope() *Scope {
	s := &Scope{id: strconv.FormatUint(scopeSeq.Add(1), 10)}
	scopes.Store(s.id, s)
	return s
}

// LookupScope finds a registered scope by ID.
func LookupScope(id string) (*Scope, bool) {
	v, ok := scopes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Scope), true
}

func (s *Scope) ID() string { return s.id }

// Context returns the context entered last, or context.Background when no
// statement is running. A nil scope has no context.
func (s *Scope) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Enter makes ctx the scope's context until the returned func is called.
// Entries do not nest: the caller serializes statements on the connection.
func (s *Scope) Enter(ctx context.Context) (leave func()) {
	s.mu.Lock()
	prev := s.ctx
	s.ctx = ctx
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.ctx = prev
		s.mu.Unlock()
	}
}

func (s *Scope) Release() {
	scopes.Delete(s.id)
}
