// Package sqlbind connects vfs backends to the SQLite engine and builds the
// connection strings that select them.
package sqlbind

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/psanford/sqlite3vfs"

	"torrentsqlite/internal/vfs"
)

// maxPathName leaves room for magnet links carrying tracker lists.
const maxPathName = 4096

// engine names are never reused: the engine keeps every VFS it was given
// for the life of the process.
var engineSeq atomic.Uint64

// Binder registers each backend's method table with the engine and
// remembers the engine-side name SQLite knows it by.
type Binder struct {
	mu      sync.Mutex
	engines map[string]*engineVFS
}

var _ vfs.Binder = (*Binder)(nil)

func NewBinder() *Binder {
	return &Binder{engines: make(map[string]*engineVFS)}
}

func (b *Binder) Bind(name string, backend vfs.Backend) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.engines[name]; ok {
		return fmt.Errorf("%w: %q", vfs.ErrAlreadyRegistered, name)
	}
	ev := &engineVFS{
		name:    fmt.Sprintf("torrentsql-%s-%d", name, engineSeq.Add(1)),
		backend: backend,
	}
	if err := sqlite3vfs.RegisterVFS(ev.name, ev, sqlite3vfs.WithMaxPathName(maxPathName)); err != nil {
		return fmt.Errorf("register engine vfs %q: %w", name, err)
	}
	b.engines[name] = ev
	return nil
}

// EngineName returns the name the engine resolves for the backend
// registered as name.
func (b *Binder) EngineName(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.engines[name]
	if !ok {
		return "", false
	}
	return ev.name, true
}

func (b *Binder) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.engines))
	for n := range b.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close detaches every backend from the engine. Later opens through a
// detached engine VFS fail with SQLITE_CANTOPEN; files already open keep
// working until closed.
func (b *Binder) Close() error {
	b.mu.Lock()
	engines := b.engines
	b.engines = make(map[string]*engineVFS)
	b.mu.Unlock()

	for _, ev := range engines {
		ev.closed.Store(true)
	}
	return nil
}
