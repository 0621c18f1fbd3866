// Package torrentvfs implements the vfs contract on top of swarm-fetched
// pieces. Database files are named by content descriptor; everything else
// the engine opens goes to a local backend.
package torrentvfs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/metrics"
	"torrentsqlite/internal/usecase"
	"torrentsqlite/internal/vfs"
)

// Name is the name the backend is registered under.
const Name = "torrent"

const defaultOpenTimeout = 5 * time.Minute

type Options struct {
	// OpenTimeout bounds metadata resolution at open.
	OpenTimeout time.Duration
	// BaseContext bounds every open and read of the backend. Cancelling it
	// fails reads stalled on the swarm.
	BaseContext context.Context
	Logger      *slog.Logger
}

type Backend struct {
	fetcher     usecase.PieceFetcher
	local       vfs.Backend
	openTimeout time.Duration
	base        context.Context
	logger      *slog.Logger
}

var _ vfs.ScopedBackend = (*Backend)(nil)

func New(fetcher usecase.PieceFetcher, local vfs.Backend, opts Options) *Backend {
	if local == nil {
		local = vfs.NewLocal("")
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Backend{
		fetcher:     fetcher,
		local:       local,
		openTimeout: opts.OpenTimeout,
		base:        opts.BaseContext,
		logger:      opts.Logger,
	}
}

func (b *Backend) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	return b.OpenScoped(name, flags, nil)
}

// OpenScoped opens name with the attach and every later read of the file
// bounded by the backend's base context and the scope's statement context.
func (b *Backend) OpenScoped(name string, flags vfs.OpenFlag, scope *vfs.Scope) (vfs.File, vfs.OpenFlag, error) {
	if flags&vfs.OpenMainDB == 0 {
		return b.local.Open(name, flags)
	}
	ctx, cancel := readContext(b.base, scope)
	defer cancel()
	f, err := b.attach(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	f.base = b.base
	f.scope = scope
	return f, vfs.OpenReadOnly | vfs.OpenExclusive | vfs.OpenMainDB, nil
}

// OpenContext attaches the descriptor name and returns a read-only handle.
// Reads of the handle are bounded by the backend's base context only.
func (b *Backend) OpenContext(ctx context.Context, name string) (vfs.File, vfs.OpenFlag, error) {
	f, err := b.attach(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	f.base = b.base
	return f, vfs.OpenReadOnly | vfs.OpenExclusive | vfs.OpenMainDB, nil
}

func (b *Backend) attach(ctx context.Context, name string) (*File, error) {
	ctx, cancel := context.WithTimeout(ctx, b.openTimeout)
	defer cancel()

	handle, err := b.fetcher.Attach(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vfs.ErrCannotOpen, err)
	}
	b.logger.Info("database opened",
		slog.String("infoHash", string(handle.InfoHash())),
		slog.Int64("size", handle.TotalSize()),
		slog.Int64("pieceLength", handle.PieceLength()),
	)
	metrics.OpenHandles.Inc()
	return &File{handle: handle, state: domain.HandleOpen, logger: b.logger}, nil
}

// readContext is cancelled when either base or the scope's current context
// is done.
func readContext(base context.Context, scope *vfs.Scope) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(scope.Context())
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (b *Backend) Delete(name string, dirSync bool) error {
	if domain.IsDescriptor(name) {
		return domain.ErrReadOnly
	}
	return b.local.Delete(name, dirSync)
}

// Access reports magnet and info-hash descriptors as existing and
// readable. A .torrent descriptor exists only when its metadata file does.
// No path is ever reported writable.
func (b *Backend) Access(name string, flag vfs.AccessFlag) (bool, error) {
	if flag == vfs.AccessReadWrite {
		return false, nil
	}
	desc, err := domain.ParseDescriptor(name)
	if err != nil {
		return b.local.Access(name, flag)
	}
	if desc.Kind == domain.DescriptorTorrentFile {
		return b.local.Access(desc.Torrent, flag)
	}
	return true, nil
}

func (b *Backend) FullPathname(name string) string {
	if domain.IsDescriptor(name) {
		return name
	}
	return b.local.FullPathname(name)
}
