package torrentvfs

import (
	"fmt"
	"sync"

	"torrentsqlite/internal/vfs"
)

var installMu sync.Mutex

// Install registers a torrent backend under Name. The backend is built only
// by the first call for a registry; later calls return the same instance.
// It is never unregistered.
func Install(reg *vfs.Registry, build func() (*Backend, error), makeDefault bool) (*Backend, error) {
	installMu.Lock()
	defer installMu.Unlock()

	if existing, ok := reg.Find(Name); ok {
		b, ok := existing.(*Backend)
		if !ok {
			return nil, fmt.Errorf("%w: %q", vfs.ErrAlreadyRegistered, Name)
		}
		if makeDefault {
			if err := reg.Register(Name, b, true); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	b, err := build()
	if err != nil {
		return nil, err
	}
	if err := reg.Register(Name, b, makeDefault); err != nil {
		return nil, err
	}
	return b, nil
}
