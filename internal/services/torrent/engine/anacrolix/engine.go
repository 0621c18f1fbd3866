package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/domain/ports"
	"torrentsqlite/internal/storage/memory"
)

// addTorrentTimeout caps the time we wait for the client to accept a magnet
// or metainfo. Adding can block on the client mutex while it is busy
// resolving metadata for another torrent.
const (
	addTorrentTimeout      = 10 * time.Second
	defaultMetadataTimeout = 2 * time.Minute
	minRateBurst           = 256 << 10
)

var errClientNotConfigured = errors.New("torrent client not configured")

type Config struct {
	Settings domain.SessionSettings
	Logger   *slog.Logger
}

// Engine is the download session. Attachments of the same info-hash share
// one torrent, which is dropped when the last of them detaches.
type Engine struct {
	client   *torrent.Client
	store    *memory.Store
	settings domain.SessionSettings
	logger   *slog.Logger

	mu     sync.Mutex
	shared map[domain.InfoHash]*sharedTorrent
	closed bool
}

type sharedTorrent struct {
	t    *torrent.Torrent
	refs int
}

var (
	_ ports.Swarm        = (*Engine)(nil)
	_ ports.SessionUsage = (*Engine)(nil)
)

func New(cfg Config) (*Engine, error) {
	s := cfg.Settings
	clientConfig := newClientConfig(s)

	var store *memory.Store
	if s.StorageMode == domain.StorageMemory {
		store = memory.NewStore(
			memory.WithLimit(s.MemoryLimitBytes),
			memory.WithSpillDir(s.MemorySpillDir),
		)
		clientConfig.DefaultStorage = storage.NewResourcePieces(store)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSession, err)
	}

	e := NewWithClient(client, cfg.Logger)
	e.store = store
	e.settings = s
	return e, nil
}

// requestChunkSize is the block size the client requests from peers.
const requestChunkSize = 16 << 10

func newClientConfig(s domain.SessionSettings) *torrent.ClientConfig {
	clientConfig := torrent.NewDefaultClientConfig()
	if s.DataDir != "" {
		clientConfig.DataDir = s.DataDir
	}
	clientConfig.ListenPort = s.ListenPort
	clientConfig.NoDHT = s.NoDHT
	clientConfig.NoUpload = s.NoUpload
	clientConfig.Seed = false
	clientConfig.DisableTCP = s.DisableTCP
	clientConfig.DisableUTP = s.DisableUTP
	clientConfig.DisableIPv6 = s.DisableIPv6
	clientConfig.NoDefaultPortForwarding = true
	if limiter := newRateLimiter(s.DownloadRateLimit); limiter != nil {
		clientConfig.DownloadRateLimiter = limiter
	}
	// The client has no per-peer queue depth setting. Capping unverified
	// bytes bounds how far requests run ahead; the most urgent piece is
	// always requested whatever the cap.
	if s.MaxOutstandingRequests > 0 {
		clientConfig.MaxUnverifiedBytes = int64(s.MaxOutstandingRequests) * requestChunkSize
	}
	return clientConfig
}

// NewWithClient wraps an already configured client.
func NewWithClient(client *torrent.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client: client,
		logger: logger,
		shared: make(map[domain.InfoHash]*sharedTorrent),
	}
}

// newRateLimiter returns nil for an unlimited session.
func newRateLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < minRateBurst {
		burst = minRateBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// HeldBytes is the piece data held by the in-memory store. It is zero for
// disk storage.
func (e *Engine) HeldBytes() int64 {
	if e.store == nil {
		return 0
	}
	return e.store.HeldBytes()
}

func (e *Engine) Attach(ctx context.Context, desc domain.Descriptor, settings domain.AttachSettings) (ports.Attachment, error) {
	if e.client == nil {
		return nil, errClientNotConfigured
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: session closed", domain.ErrSession)
	}

	t, err := e.addTorrent(ctx, desc, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCannotResolveContent, err)
	}
	infoHash := domain.InfoHash(t.InfoHash().HexString())
	e.retain(infoHash, t)

	if len(settings.Trackers) > 0 {
		t.AddTrackers([][]string{settings.Trackers})
	}
	if settings.MaxEstablishedConns > 0 {
		t.SetMaxEstablishedConns(settings.MaxEstablishedConns)
	}

	if err := e.waitForInfo(ctx, t); err != nil {
		e.release(infoHash)
		return nil, fmt.Errorf("%w: %v", domain.ErrCannotResolveContent, err)
	}

	e.logger.Info("attached",
		slog.String("infoHash", string(infoHash)),
		slog.String("name", t.Name()),
		slog.Int64("totalSize", t.Length()),
		slog.Int("pieces", t.NumPieces()),
	)
	return newAttachment(e, t, infoHash), nil
}

// addTorrent runs AddMagnet / AddTorrentFromFile with a timeout so a busy
// client cannot block the opener indefinitely.
func (e *Engine) addTorrent(ctx context.Context, desc domain.Descriptor, settings domain.AttachSettings) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		var t *torrent.Torrent
		var err error
		switch desc.Kind {
		case domain.DescriptorMagnet:
			t, err = e.client.AddMagnet(desc.Magnet)
		case domain.DescriptorInfoHash:
			t, err = e.client.AddMagnet(desc.MagnetURI(settings.Trackers))
		case domain.DescriptorTorrentFile:
			t, err = e.client.AddTorrentFromFile(desc.Torrent)
		default:
			err = fmt.Errorf("%w: descriptor kind %q", domain.ErrUnsupported, desc.Kind)
		}
		ch <- addResult{t, err}
	}()

	// The goroutine may still complete after we give up. The orphaned torrent
	// is dropped unless another attachment holds it.
	abandon := func() {
		go func() {
			if res := <-ch; res.t != nil {
				e.dropIfUnused(res.t)
			}
		}()
	}

	select {
	case res := <-ch:
		return res.t, res.err
	case <-time.After(addTorrentTimeout):
		abandon()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func (e *Engine) waitForInfo(ctx context.Context, t *torrent.Torrent) error {
	timeout := e.settings.MetadataTimeout
	if timeout <= 0 {
		timeout = defaultMetadataTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.GotInfo():
		return nil
	case <-t.Closed():
		return errors.New("torrent closed before metadata arrived")
	case <-timer.C:
		return fmt.Errorf("metadata not received within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) retain(infoHash domain.InfoHash, t *torrent.Torrent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.shared[infoHash]; ok {
		st.refs++
		return
	}
	e.shared[infoHash] = &sharedTorrent{t: t, refs: 1}
}

// release drops the torrent once no attachment references it.
func (e *Engine) release(infoHash domain.InfoHash) {
	e.mu.Lock()
	st, ok := e.shared[infoHash]
	if !ok {
		e.mu.Unlock()
		return
	}
	st.refs--
	if st.refs > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.shared, infoHash)
	e.mu.Unlock()

	st.t.Drop()
	e.logger.Debug("torrent dropped", slog.String("infoHash", string(infoHash)))
}

func (e *Engine) dropIfUnused(t *torrent.Torrent) {
	infoHash := domain.InfoHash(t.InfoHash().HexString())
	e.mu.Lock()
	_, used := e.shared[infoHash]
	e.mu.Unlock()
	if !used {
		t.Drop()
	}
}

// Attached returns the number of attachments currently holding infoHash.
func (e *Engine) Attached(infoHash domain.InfoHash) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.shared[infoHash]; ok {
		return st.refs
	}
	return 0
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.shared = make(map[domain.InfoHash]*sharedTorrent)
	e.mu.Unlock()

	if e.client == nil {
		return nil
	}
	var result *multierror.Error
	for _, err := range e.client.Close() {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
