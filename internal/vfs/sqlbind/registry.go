package sqlbind

import (
	"sync"

	"torrentsqlite/internal/vfs"
)

var (
	globalOnce   sync.Once
	globalReg    *vfs.Registry
	globalBinder *Binder
	globalMemory *vfs.Memory
	globalErr    error
)

func initGlobal() {
	globalBinder = NewBinder()
	globalReg = vfs.NewRegistry(globalBinder)
	globalMemory = vfs.NewMemory()
	if err := globalReg.Register(vfs.LocalName, vfs.NewLocal(""), true); err != nil {
		globalErr = err
		return
	}
	globalErr = globalReg.Register(vfs.MemoryName, globalMemory, false)
}

// Registry returns the process-wide registry. Every backend registered on it
// is bound to the engine. The local backend is the initial default and the
// memory backend is always present.
func Registry() (*vfs.Registry, error) {
	globalOnce.Do(initGlobal)
	return globalReg, globalErr
}

// Memory returns the buffer store behind the registry's memory backend.
func Memory() *vfs.Memory {
	globalOnce.Do(initGlobal)
	return globalMemory
}

// EngineName returns the engine-side VFS name of the backend registered on
// the process-wide registry as name.
func EngineName(name string) (string, bool) {
	globalOnce.Do(initGlobal)
	return globalBinder.EngineName(name)
}
