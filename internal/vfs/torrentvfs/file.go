package torrentvfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/metrics"
	"torrentsqlite/internal/usecase"
	"torrentsqlite/internal/vfs"
)

// File is an open database backed by one attachment.
type File struct {
	handle *usecase.PieceHandle
	logger *slog.Logger
	base   context.Context
	scope  *vfs.Scope

	mu    sync.Mutex
	state domain.HandleState
}

var _ vfs.File = (*File)(nil)

func (f *File) open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == domain.HandleOpen
}

// Close detaches the attachment. Closing a closed file is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	if !domain.CanTransition(f.state, domain.HandleClosed) {
		f.mu.Unlock()
		return nil
	}
	f.state = domain.HandleClosed
	f.mu.Unlock()

	metrics.OpenHandles.Dec()
	return f.handle.Detach()
}

// ReadAt copies len(p) bytes starting at off, fetching every piece the
// range touches. The fetch is abandoned once the backend's base context or
// the statement context entered on the file's scope is done. On a piece
// failure the bytes already copied stay in p and the rest are undefined.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	base := f.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := readContext(base, f.scope)
	defer cancel()
	return f.ReadAtContext(ctx, p, off)
}

func (f *File) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if !f.open() {
		return 0, domain.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", domain.ErrIO, off)
	}

	size := f.handle.TotalSize()
	if off >= size {
		clear(p)
		return 0, io.EOF
	}
	want := len(p)
	if avail := size - off; int64(want) > avail {
		want = int(avail)
	}

	index, intra := domain.PieceLocation(off, f.handle.PieceLength())
	n := 0
	for n < want {
		piece, err := f.handle.RequestPiece(ctx, index)
		if err != nil {
			return n, fmt.Errorf("%w: read at %d: %w", domain.ErrIO, off+int64(n), err)
		}
		if intra >= int64(len(piece)) {
			return n, fmt.Errorf("%w: piece %d shorter than offset %d", domain.ErrIO, index, intra)
		}
		n += copy(p[n:want], piece[intra:])
		index++
		intra = 0
	}
	metrics.BytesReadTotal.Add(float64(n))

	if want < len(p) {
		clear(p[want:])
		return n, io.EOF
	}
	return n, nil
}

func (f *File) WriteAt([]byte, int64) (int, error) {
	if !f.open() {
		return 0, domain.ErrClosed
	}
	return 0, domain.ErrReadOnly
}

func (f *File) Truncate(int64) error {
	if !f.open() {
		return domain.ErrClosed
	}
	return domain.ErrReadOnly
}

func (f *File) Sync(vfs.SyncType) error   { return f.noop() }
func (f *File) Lock(vfs.LockType) error   { return f.noop() }
func (f *File) Unlock(vfs.LockType) error { return f.noop() }

func (f *File) CheckReservedLock() (bool, error) {
	return false, f.noop()
}

func (f *File) FileControl(int) error {
	if !f.open() {
		return domain.ErrClosed
	}
	return vfs.ErrNotFound
}

func (f *File) FileSize() (int64, error) {
	if !f.open() {
		return 0, domain.ErrClosed
	}
	return f.handle.TotalSize(), nil
}

// SectorSize is the piece length, so aligned page reads touch one piece.
func (f *File) SectorSize() int64 {
	return f.handle.PieceLength()
}

func (f *File) DeviceCharacteristics() vfs.DeviceCharacteristic {
	return vfs.IocapImmutable
}

// Stats reports the attachment behind the file.
func (f *File) Stats() domain.AttachmentStats {
	return f.handle.Stats()
}

func (f *File) noop() error {
	if !f.open() {
		return domain.ErrClosed
	}
	return nil
}
