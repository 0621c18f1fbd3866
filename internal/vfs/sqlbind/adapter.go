package sqlbind

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/psanford/sqlite3vfs"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/vfs"
)

// engineVFS is one backend as the engine sees it. Every engine slot is
// forwarded to the backend method of the same name.
type engineVFS struct {
	name    string
	backend vfs.Backend
	closed  atomic.Bool
}

var (
	_ sqlite3vfs.VFS       = (*engineVFS)(nil)
	_ sqlite3vfs.URIOpener = (*engineVFS)(nil)
)

func (v *engineVFS) Open(name string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	return v.OpenURI(name, nil, flags)
}

// OpenURI resolves the connection's scope from the URI parameters so a
// scoped backend can tie the file to the caller's statement context.
func (v *engineVFS) OpenURI(name string, params map[string]string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	if v.closed.Load() {
		return nil, 0, sqlite3vfs.CantOpenError
	}

	var (
		f   vfs.File
		out vfs.OpenFlag
		err error
	)
	scoped, ok := v.backend.(vfs.ScopedBackend)
	if id := params[vfs.ScopeParam]; ok && id != "" {
		scope, _ := vfs.LookupScope(id)
		f, out, err = scoped.OpenScoped(name, vfs.OpenFlag(flags), scope)
	} else {
		f, out, err = v.backend.Open(name, vfs.OpenFlag(flags))
	}
	if err != nil {
		return nil, 0, sqlite3vfs.CantOpenError
	}
	return &engineFile{file: f}, sqlite3vfs.OpenFlag(out), nil
}

func (v *engineVFS) Delete(name string, dirSync bool) error {
	return engineError(v.backend.Delete(name, dirSync))
}

func (v *engineVFS) Access(name string, flag sqlite3vfs.AccessFlag) (bool, error) {
	ok, err := v.backend.Access(name, vfs.AccessFlag(flag))
	return ok, engineError(err)
}

func (v *engineVFS) FullPathname(name string) string {
	return v.backend.FullPathname(name)
}

type engineFile struct {
	file vfs.File
}

var (
	_ sqlite3vfs.File           = (*engineFile)(nil)
	_ sqlite3vfs.FileController = (*engineFile)(nil)
)

func (f *engineFile) Close() error {
	return engineError(f.file.Close())
}

// ReadAt hands a short read to the engine as io.EOF, which it turns into
// SQLITE_IOERR_SHORT_READ over the zero filled tail.
func (f *engineFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.file.ReadAt(p, off)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		return n, io.EOF
	default:
		return n, sqlite3vfs.IOErrorRead
	}
}

func (f *engineFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.file.WriteAt(p, off)
	return n, engineError(err)
}

func (f *engineFile) Truncate(size int64) error {
	return engineError(f.file.Truncate(size))
}

func (f *engineFile) Sync(flag sqlite3vfs.SyncType) error {
	return engineError(f.file.Sync(vfs.SyncType(flag)))
}

func (f *engineFile) FileSize() (int64, error) {
	size, err := f.file.FileSize()
	return size, engineError(err)
}

func (f *engineFile) Lock(lock sqlite3vfs.LockType) error {
	return engineError(f.file.Lock(vfs.LockType(lock)))
}

func (f *engineFile) Unlock(lock sqlite3vfs.LockType) error {
	return engineError(f.file.Unlock(vfs.LockType(lock)))
}

func (f *engineFile) CheckReservedLock() (bool, error) {
	held, err := f.file.CheckReservedLock()
	return held, engineError(err)
}

func (f *engineFile) SectorSize() int64 {
	return f.file.SectorSize()
}

func (f *engineFile) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return sqlite3vfs.DeviceCharacteristic(f.file.DeviceCharacteristics())
}

// FileControl forwards the opcode. A file that does not handle it answers
// SQLITE_NOTFOUND and the engine falls back to its own handling.
func (f *engineFile) FileControl(op int, _ string, _ *string) (*string, error) {
	err := f.file.FileControl(op)
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, vfs.ErrNotFound) {
		return nil, sqlite3vfs.NotFoundError
	}
	return nil, engineError(err)
}

// engineError maps backend errors onto engine result codes.
func engineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrReadOnly):
		return sqlite3vfs.ReadOnlyError
	case errors.Is(err, vfs.ErrNotFound):
		return sqlite3vfs.NotFoundError
	case errors.Is(err, vfs.ErrCannotOpen):
		return sqlite3vfs.CantOpenError
	default:
		return sqlite3vfs.IOError
	}
}
