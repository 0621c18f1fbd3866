package vfs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryName is the name the in-memory backend is registered under.
const MemoryName = "memory"

var errReadOnly = errors.New("in-memory database is read-only")

// Memory serves immutable databases from byte buffers held by the process.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put publishes data under name, replacing any previous buffer. The bytes
// are copied.
func (m *Memory) Put(name string, data []byte) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("buffer name is empty")
	}
	if len(data) == 0 {
		return errors.New("buffer is empty")
	}
	m.mu.Lock()
	m.blobs[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(name string) {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
}

func (m *Memory) get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[name]
	return b, ok
}

func (m *Memory) Open(name string, flags OpenFlag) (File, OpenFlag, error) {
	data, ok := m.get(name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %w: %s", ErrCannotOpen, ErrNotFound, name)
	}
	return &memFile{data: data}, OpenReadOnly | (flags & OpenMainDB), nil
}

func (m *Memory) Delete(name string, _ bool) error {
	if _, ok := m.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return errReadOnly
}

func (m *Memory) Access(name string, flag AccessFlag) (bool, error) {
	_, ok := m.get(name)
	return ok && flag != AccessReadWrite, nil
}

func (m *Memory) FullPathname(name string) string { return name }

type memFile struct {
	data []byte
}

func (f *memFile) Close() error { return nil }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(f.data)) {
		clear(p)
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		clear(p[n:])
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt([]byte, int64) (int, error) { return 0, errReadOnly }
func (f *memFile) Truncate(int64) error               { return errReadOnly }
func (f *memFile) Sync(SyncType) error                { return nil }
func (f *memFile) FileSize() (int64, error)           { return int64(len(f.data)), nil }
func (f *memFile) Lock(LockType) error                { return nil }
func (f *memFile) Unlock(LockType) error              { return nil }
func (f *memFile) CheckReservedLock() (bool, error)   { return false, nil }
func (f *memFile) FileControl(int) error              { return ErrNotFound }
func (f *memFile) SectorSize() int64                  { return DefaultSectorSize }

func (f *memFile) DeviceCharacteristics() DeviceCharacteristic { return IocapImmutable }
