package sqlbind

import (
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/psanford/sqlite3vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/vfs"
)

// countingBackend records every slot the engine drives.
type countingBackend struct {
	vfs.Backend

	mu    sync.Mutex
	calls map[string]int
}

func newCountingBackend(b vfs.Backend) *countingBackend {
	return &countingBackend{Backend: b, calls: make(map[string]int)}
}

func (c *countingBackend) hit(slot string) {
	c.mu.Lock()
	c.calls[slot]++
	c.mu.Unlock()
}

func (c *countingBackend) count(slot string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[slot]
}

func (c *countingBackend) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	c.hit("Open")
	f, out, err := c.Backend.Open(name, flags)
	if err != nil {
		return nil, 0, err
	}
	return &countingFile{File: f, owner: c}, out, nil
}

func (c *countingBackend) Delete(name string, dirSync bool) error {
	c.hit("Delete")
	return c.Backend.Delete(name, dirSync)
}

func (c *countingBackend) Access(name string, flag vfs.AccessFlag) (bool, error) {
	c.hit("Access")
	return c.Backend.Access(name, flag)
}

type countingFile struct {
	vfs.File
	owner *countingBackend
}

func (f *countingFile) Close() error {
	f.owner.hit("Close")
	return f.File.Close()
}

func (f *countingFile) ReadAt(p []byte, off int64) (int, error) {
	f.owner.hit("ReadAt")
	return f.File.ReadAt(p, off)
}

func (f *countingFile) WriteAt(p []byte, off int64) (int, error) {
	f.owner.hit("WriteAt")
	return f.File.WriteAt(p, off)
}

func (f *countingFile) Sync(flag vfs.SyncType) error {
	f.owner.hit("Sync")
	return f.File.Sync(flag)
}

func (f *countingFile) FileSize() (int64, error) {
	f.owner.hit("FileSize")
	return f.File.FileSize()
}

func (f *countingFile) Lock(lock vfs.LockType) error {
	f.owner.hit("Lock")
	return f.File.Lock(lock)
}

func (f *countingFile) Unlock(lock vfs.LockType) error {
	f.owner.hit("Unlock")
	return f.File.Unlock(lock)
}

func (f *countingFile) FileControl(op int) error {
	f.owner.hit("FileControl")
	return f.File.FileControl(op)
}

func (f *countingFile) SectorSize() int64 {
	f.owner.hit("SectorSize")
	return f.File.SectorSize()
}

func (f *countingFile) DeviceCharacteristics() vfs.DeviceCharacteristic {
	f.owner.hit("DeviceCharacteristics")
	return f.File.DeviceCharacteristics()
}

func TestEngineDrivesWritableFileSlots(t *testing.T) {
	dir := t.TempDir()
	counted := newCountingBackend(vfs.NewLocal(dir))
	b := NewBinder()
	require.NoError(t, b.Bind("counted-local", counted))
	t.Cleanup(func() { _ = b.Close() })
	engine, ok := b.EngineName("counted-local")
	require.True(t, ok)

	path := filepath.Join(dir, "rw.db")
	db, err := sql.Open(DriverVFS, "file:"+path+"?vfs="+engine)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO items (name) VALUES ('alpha'), ('beta')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.Close())

	for _, slot := range []string{
		"Open", "Access", "Delete", "Close", "ReadAt", "WriteAt", "Sync",
		"FileSize", "Lock", "Unlock", "FileControl", "SectorSize", "DeviceCharacteristics",
	} {
		assert.Positive(t, counted.count(slot), slot)
	}
}

func TestEngineReadsImmutableBufferWithoutLocking(t *testing.T) {
	_, data := writeFixture(t)
	mem := vfs.NewMemory()
	require.NoError(t, mem.Put("immutable.db", data))
	counted := newCountingBackend(mem)
	b := NewBinder()
	require.NoError(t, b.Bind("counted-memory", counted))
	t.Cleanup(func() { _ = b.Close() })
	engine, _ := b.EngineName("counted-memory")

	assert.Equal(t, 3, countItems(t, DriverVFS, DSN("immutable.db", engine, "")))

	for _, slot := range []string{"Open", "DeviceCharacteristics", "FileControl", "FileSize", "ReadAt", "Close"} {
		assert.Positive(t, counted.count(slot), slot)
	}
	// An immutable file is never locked or written.
	for _, slot := range []string{"Lock", "Unlock", "WriteAt"} {
		assert.Zero(t, counted.count(slot), slot)
	}
}

// stubFile fails every call with err.
type stubFile struct {
	vfs.File
	err error
}

func (f stubFile) ReadAt(p []byte, _ int64) (int, error) { return 0, f.err }
func (f stubFile) FileControl(int) error                 { return f.err }
func (f stubFile) Truncate(int64) error                  { return f.err }

func TestEngineFileErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"read only", domain.ErrReadOnly, sqlite3vfs.ReadOnlyError},
		{"not found", vfs.ErrNotFound, sqlite3vfs.NotFoundError},
		{"cannot open", vfs.ErrCannotOpen, sqlite3vfs.CantOpenError},
		{"other", errors.New("disk on fire"), sqlite3vfs.IOError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engineError(tt.err))
			f := &engineFile{file: stubFile{err: tt.err}}
			assert.Equal(t, tt.want, f.Truncate(0))
		})
	}
	assert.NoError(t, engineError(nil))

	f := &engineFile{file: stubFile{err: vfs.ErrNotFound}}
	res, err := f.FileControl(14, "busy_timeout", nil)
	assert.Nil(t, res)
	assert.Equal(t, sqlite3vfs.NotFoundError, err)

	_, err = f.ReadAt(make([]byte, 4), 0)
	assert.Equal(t, sqlite3vfs.IOErrorRead, err)

	f = &engineFile{file: stubFile{err: io.EOF}}
	_, err = f.ReadAt(make([]byte, 4), 0)
	assert.Equal(t, io.EOF, err)

	f = &engineFile{file: stubFile{err: domain.ErrClosed}}
	_, err = f.FileControl(14, "busy_timeout", nil)
	assert.Equal(t, sqlite3vfs.IOError, err)
}
