package vfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Local
// ---------------------------------------------------------------------------

func TestLocalReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)

	f, flags, err := l.Open("db.sqlite", OpenReadWrite|OpenCreate|OpenMainDB)
	require.NoError(t, err)
	assert.Equal(t, OpenReadWrite|OpenCreate|OpenMainDB, flags)

	n, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	size, err := f.FileSize()
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = 0xff
	}
	n, err = f.ReadAt(buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("world\x00\x00\x00"), buf, "tail past EOF is zero filled")

	require.NoError(t, f.Truncate(5))
	size, _ = f.FileSize()
	assert.Equal(t, int64(5), size)
	require.NoError(t, f.Sync(SyncFull))
	assert.Equal(t, int64(DefaultSectorSize), f.SectorSize())
	assert.ErrorIs(t, f.FileControl(1), ErrNotFound)
	require.NoError(t, f.Close())
}

func TestLocalLockTracking(t *testing.T) {
	l := NewLocal(t.TempDir())
	f, _, err := l.Open("locks", OpenReadWrite|OpenCreate)
	require.NoError(t, err)
	defer f.Close()

	reserved, _ := f.CheckReservedLock()
	assert.False(t, reserved)
	require.NoError(t, f.Lock(LockShared))
	require.NoError(t, f.Lock(LockReserved))
	reserved, _ = f.CheckReservedLock()
	assert.True(t, reserved)
	require.NoError(t, f.Unlock(LockShared))
	reserved, _ = f.CheckReservedLock()
	assert.False(t, reserved)
}

func TestLocalOpenMissing(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, _, err := l.Open("absent", OpenReadOnly)
	assert.ErrorIs(t, err, ErrCannotOpen)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalTempFileDeletedOnClose(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	f, flags, err := l.Open("", OpenReadWrite|OpenCreate)
	require.NoError(t, err)
	assert.NotZero(t, flags&OpenDeleteOnClose)
	require.NoError(t, f.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalAccessAndDelete(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rw"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ro"), []byte("x"), 0o444))

	ok, err := l.Access("rw", AccessReadWrite)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Access("ro", AccessReadWrite)
	assert.False(t, ok)
	ok, _ = l.Access("ro", AccessRead)
	assert.True(t, ok)
	ok, _ = l.Access("absent", AccessExists)
	assert.False(t, ok)

	assert.Equal(t, filepath.Join(dir, "rw"), l.FullPathname("rw"))
	require.NoError(t, l.Delete("rw", true))
	assert.ErrorIs(t, l.Delete("rw", false), ErrNotFound)
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func TestMemoryBackend(t *testing.T) {
	m := NewMemory()
	assert.Error(t, m.Put("", []byte("x")))
	assert.Error(t, m.Put("name", nil))
	require.NoError(t, m.Put("buf", []byte("abcdef")))

	f, flags, err := m.Open("buf", OpenReadWrite|OpenCreate|OpenMainDB)
	require.NoError(t, err)
	assert.Equal(t, OpenReadOnly|OpenMainDB, flags)

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("ef\x00\x00"), buf)

	_, err = f.WriteAt([]byte("z"), 0)
	assert.Error(t, err)
	assert.Error(t, f.Truncate(0))
	assert.Equal(t, IocapImmutable, f.DeviceCharacteristics())

	ok, _ := m.Access("buf", AccessReadWrite)
	assert.False(t, ok)
	ok, _ = m.Access("buf", AccessRead)
	assert.True(t, ok)
	assert.Error(t, m.Delete("buf", false))

	m.Remove("buf")
	_, _, err = m.Open("buf", OpenReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)
}
