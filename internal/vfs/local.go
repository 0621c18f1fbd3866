package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// LocalName is the name the local-disk backend is registered under.
const LocalName = "local"

// Local serves files from the host filesystem. Locks are tracked per handle
// only; the backend assumes a single process owns its files.
type Local struct {
	// Root, when set, anchors relative names.
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) path(name string) string {
	if l.Root == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(l.Root, name)
}

func (l *Local) Open(name string, flags OpenFlag) (File, OpenFlag, error) {
	if name == "" {
		f, err := os.CreateTemp(l.Root, "vfs-*.tmp")
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCannotOpen, err)
		}
		return &localFile{f: f, deleteOnClose: true}, flags | OpenReadWrite | OpenDeleteOnClose, nil
	}

	mode := os.O_RDONLY
	if flags&OpenReadWrite != 0 {
		mode = os.O_RDWR
	}
	if flags&OpenCreate != 0 {
		mode |= os.O_CREATE
		if flags&OpenExclusive != 0 {
			mode |= os.O_EXCL
		}
	}
	f, err := os.OpenFile(l.path(name), mode, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %w: %s", ErrCannotOpen, ErrNotFound, name)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrCannotOpen, err)
	}
	return &localFile{f: f, deleteOnClose: flags&OpenDeleteOnClose != 0}, flags, nil
}

func (l *Local) Delete(name string, dirSync bool) error {
	p := l.path(name)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	if dirSync {
		if d, err := os.Open(filepath.Dir(p)); err == nil {
			_ = d.Sync()
			d.Close()
		}
	}
	return nil
}

func (l *Local) Access(name string, flag AccessFlag) (bool, error) {
	info, err := os.Stat(l.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	perm := info.Mode().Perm()
	switch flag {
	case AccessReadWrite:
		return perm&0o200 != 0 && perm&0o400 != 0, nil
	case AccessRead:
		return perm&0o400 != 0, nil
	default:
		return true, nil
	}
}

func (l *Local) FullPathname(name string) string {
	abs, err := filepath.Abs(l.path(name))
	if err != nil {
		return name
	}
	return abs
}

type localFile struct {
	f             *os.File
	deleteOnClose bool

	mu   sync.Mutex
	lock LockType
}

func (lf *localFile) Close() error {
	err := lf.f.Close()
	if lf.deleteOnClose {
		_ = os.Remove(lf.f.Name())
	}
	return err
}

func (lf *localFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := lf.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		clear(p[n:])
		return n, io.EOF
	}
	return n, err
}

func (lf *localFile) WriteAt(p []byte, off int64) (int, error) { return lf.f.WriteAt(p, off) }
func (lf *localFile) Truncate(size int64) error                { return lf.f.Truncate(size) }
func (lf *localFile) Sync(SyncType) error                      { return lf.f.Sync() }

func (lf *localFile) FileSize() (int64, error) {
	info, err := lf.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (lf *localFile) Lock(lock LockType) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lock > lf.lock {
		lf.lock = lock
	}
	return nil
}

func (lf *localFile) Unlock(lock LockType) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lock < lf.lock {
		lf.lock = lock
	}
	return nil
}

func (lf *localFile) CheckReservedLock() (bool, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.lock >= LockReserved, nil
}

func (lf *localFile) FileControl(int) error { return ErrNotFound }
func (lf *localFile) SectorSize() int64     { return DefaultSectorSize }

func (lf *localFile) DeviceCharacteristics() DeviceCharacteristic { return 0 }
