package torrentvfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/testutil/swarmtest"
	"torrentsqlite/internal/usecase"
	"torrentsqlite/internal/vfs"
)

const testMagnet = "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fixture struct {
	swarm   *swarmtest.Swarm
	content *swarmtest.Content
	backend *Backend
	data    []byte
	dir     string
}

func newFixture(t *testing.T, size int, pieceLength int64) *fixture {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/13) % 256)
	}
	swarm := swarmtest.New()
	content := swarm.Publish(testMagnet, data, pieceLength)
	dir := t.TempDir()
	backend := New(
		usecase.PieceFetcher{Swarm: swarm, PieceTimeout: time.Second},
		vfs.NewLocal(dir),
		Options{OpenTimeout: time.Second},
	)
	return &fixture{swarm: swarm, content: content, backend: backend, data: data, dir: dir}
}

func (fx *fixture) open(t *testing.T) *File {
	t.Helper()
	f, flags, err := fx.backend.Open(testMagnet, vfs.OpenReadOnly|vfs.OpenMainDB)
	require.NoError(t, err)
	assert.Equal(t, vfs.OpenReadOnly|vfs.OpenExclusive|vfs.OpenMainDB, flags)
	return f.(*File)
}

// ---------------------------------------------------------------------------
// Open and geometry
// ---------------------------------------------------------------------------

func TestOpenReportsSizeAndSector(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	size, err := f.FileSize()
	require.NoError(t, err)
	assert.Equal(t, int64(3000), size)
	assert.Equal(t, int64(1024), f.SectorSize())
	assert.Equal(t, vfs.IocapImmutable, f.DeviceCharacteristics())
}

func TestOpenStripsWriteFlags(t *testing.T) {
	fx := newFixture(t, 100, 64)
	f, flags, err := fx.backend.Open(testMagnet, vfs.OpenReadWrite|vfs.OpenCreate|vfs.OpenMainDB)
	require.NoError(t, err)
	defer f.Close()
	assert.Zero(t, flags&(vfs.OpenReadWrite|vfs.OpenCreate))
	assert.NotZero(t, flags&vfs.OpenReadOnly)
}

func TestOpenUnresolvable(t *testing.T) {
	fx := newFixture(t, 100, 64)
	for _, name := range []string{"garbage", "magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"} {
		_, _, err := fx.backend.Open(name, vfs.OpenReadOnly|vfs.OpenMainDB)
		assert.ErrorIs(t, err, vfs.ErrCannotOpen, name)
		assert.ErrorIs(t, err, domain.ErrCannotResolveContent, name)
	}
}

func TestOpenEncodedDescriptor(t *testing.T) {
	fx := newFixture(t, 100, 64)
	desc, err := domain.ParseDescriptor(testMagnet)
	require.NoError(t, err)
	f, _, err := fx.backend.Open(desc.Encode(), vfs.OpenReadOnly|vfs.OpenMainDB)
	require.NoError(t, err)
	defer f.Close()
	size, _ := f.FileSize()
	assert.Equal(t, int64(100), size)
}

func TestNonMainOpenGoesToLocal(t *testing.T) {
	fx := newFixture(t, 100, 64)
	f, _, err := fx.backend.Open("journal", vfs.OpenReadWrite|vfs.OpenCreate|vfs.OpenMainJournal)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("j"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = os.Stat(filepath.Join(fx.dir, "journal"))
	assert.NoError(t, err)
	assert.Empty(t, fx.swarm.Attachments(), "local opens must not attach")
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestReadSpanningTwoPieces(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	buf := make([]byte, 100)
	n, err := f.ReadAt(buf, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, fx.data[1000:1100], buf)
	assert.Equal(t, []int{0, 1}, fx.swarm.Attachments()[0].Requested())
}

func TestReadMatchesReferenceEverywhere(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	for _, off := range []int{0, 1, 511, 1023, 1024, 1025, 2047, 2048, 2999} {
		for _, l := range []int{1, 24, 1024, 1500, 2048, 3000} {
			if off+l > len(fx.data) {
				continue
			}
			buf := make([]byte, l)
			n, err := f.ReadAt(buf, int64(off))
			require.NoError(t, err, "off=%d len=%d", off, l)
			require.Equal(t, l, n)
			require.Equal(t, fx.data[off:off+l], buf, "off=%d len=%d", off, l)
		}
	}
}

func TestReadLastByte(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	buf := make([]byte, 1)
	n, err := f.ReadAt(buf, 2999)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, fx.data[2999], buf[0])
}

func TestReadFirstPieceFetchesOnlyPieceZero(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	buf := make([]byte, 1024)
	_, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, fx.data[:1024], buf)
	assert.Equal(t, []int{0}, fx.swarm.Attachments()[0].Requested())
}

func TestReadPastEndZeroFills(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	buf := make([]byte, 100)
	for i := range buf {
		buf[i] = 0xee
	}
	n, err := f.ReadAt(buf, 2950)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 50, n)
	assert.Equal(t, fx.data[2950:], buf[:50])
	assert.Equal(t, make([]byte, 50), buf[50:])

	n, err = f.ReadAt(buf, 5000)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestReadStalledPieceTimesOut(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	fx.backend.fetcher.PieceTimeout = 30 * time.Millisecond
	fx.content.Stall(1)
	f := fx.open(t)
	defer f.Close()

	buf := make([]byte, 100)
	start := time.Now()
	n, err := f.ReadAt(buf, 1000)
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 24, n, "bytes from piece 0 were copied before the stall")
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadHonorsScopeContext(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	fx.backend.fetcher.PieceTimeout = 30 * time.Second
	fx.content.Stall(1)

	scope := vfs.NewScope()
	defer scope.Release()
	f, _, err := fx.backend.OpenScoped(testMagnet, vfs.OpenReadOnly|vfs.OpenMainDB, scope)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	leave := scope.Enter(ctx)
	start := time.Now()
	_, err = f.ReadAt(make([]byte, 100), 1000)
	leave()
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// Outside the statement the scope no longer bounds reads.
	fx.swarm.Attachments()[0].Release(1)
	buf := make([]byte, 100)
	_, err = f.ReadAt(buf, 1000)
	require.NoError(t, err)
	assert.Equal(t, fx.data[1000:1100], buf)
}

func TestScopedOpenHonorsScopeContext(t *testing.T) {
	fx := newFixture(t, 100, 64)
	scope := vfs.NewScope()
	defer scope.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	leave := scope.Enter(ctx)
	defer leave()
	_, _, err := fx.backend.OpenScoped(testMagnet, vfs.OpenReadOnly|vfs.OpenMainDB, scope)
	assert.ErrorIs(t, err, vfs.ErrCannotOpen)
	assert.Empty(t, fx.swarm.Attachments())
}

func TestBaseContextCancelUnblocksRead(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	fx.content.Stall(2)
	base, cancel := context.WithCancel(context.Background())
	backend := New(
		usecase.PieceFetcher{Swarm: fx.swarm, PieceTimeout: 30 * time.Second},
		vfs.NewLocal(fx.dir),
		Options{BaseContext: base},
	)
	f, _, err := backend.Open(testMagnet, vfs.OpenReadOnly|vfs.OpenMainDB)
	require.NoError(t, err)
	defer f.Close()

	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	_, err = f.ReadAt(make([]byte, 10), 2500)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReadSessionFailure(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	fx.content.Corrupt(2)
	f := fx.open(t)
	defer f.Close()

	_, err := f.ReadAt(make([]byte, 10), 2500)
	assert.ErrorIs(t, err, domain.ErrSession)
}

// ---------------------------------------------------------------------------
// Read-only contract
// ---------------------------------------------------------------------------

func TestWriteAndTruncateAlwaysFail(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	defer f.Close()

	for _, off := range []int64{0, 1, 2999, 5000} {
		_, err := f.WriteAt([]byte("x"), off)
		assert.ErrorIs(t, err, domain.ErrReadOnly)
	}
	for _, size := range []int64{0, 100, 3000, 10000} {
		assert.ErrorIs(t, f.Truncate(size), domain.ErrReadOnly)
	}
}

func TestNoopOperations(t *testing.T) {
	fx := newFixture(t, 100, 64)
	f := fx.open(t)
	defer f.Close()

	assert.NoError(t, f.Sync(vfs.SyncFull))
	assert.NoError(t, f.Lock(vfs.LockExclusive))
	assert.NoError(t, f.Unlock(vfs.LockNone))
	reserved, err := f.CheckReservedLock()
	assert.NoError(t, err)
	assert.False(t, reserved)
	assert.ErrorIs(t, f.FileControl(5), vfs.ErrNotFound)
}

func TestAccessNeverWritable(t *testing.T) {
	fx := newFixture(t, 100, 64)
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "plain"), []byte("x"), 0o644))

	ok, err := fx.backend.Access(testMagnet, vfs.AccessReadWrite)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = fx.backend.Access(testMagnet, vfs.AccessExists)
	assert.True(t, ok)
	ok, _ = fx.backend.Access(testMagnet, vfs.AccessRead)
	assert.True(t, ok)

	local := vfs.NewLocal(fx.dir)
	localRW, _ := local.Access("plain", vfs.AccessReadWrite)
	require.True(t, localRW, "the local backend reports the file writable")
	ok, _ = fx.backend.Access("plain", vfs.AccessReadWrite)
	assert.False(t, ok)
	ok, _ = fx.backend.Access("plain", vfs.AccessExists)
	assert.True(t, ok)
}

func TestAccessTorrentFileDescriptor(t *testing.T) {
	fx := newFixture(t, 100, 64)
	meta := filepath.Join(fx.dir, "content.torrent")

	ok, err := fx.backend.Access(meta, vfs.AccessExists)
	require.NoError(t, err)
	assert.False(t, ok, "a missing metadata file does not exist")

	require.NoError(t, os.WriteFile(meta, []byte("d4:infod"), 0o644))
	ok, _ = fx.backend.Access(meta, vfs.AccessExists)
	assert.True(t, ok)
	ok, _ = fx.backend.Access(meta, vfs.AccessRead)
	assert.True(t, ok)
	ok, _ = fx.backend.Access(meta, vfs.AccessReadWrite)
	assert.False(t, ok)

	desc, err := domain.ParseDescriptor(meta)
	require.NoError(t, err)
	ok, _ = fx.backend.Access(desc.Encode(), vfs.AccessExists)
	assert.True(t, ok, "the encoded form resolves to the same file")
}

func TestPathnameAndDelete(t *testing.T) {
	fx := newFixture(t, 100, 64)
	assert.Equal(t, testMagnet, fx.backend.FullPathname(testMagnet))
	assert.Equal(t, filepath.Join(fx.dir, "x.db"), fx.backend.FullPathname("x.db"))
	assert.ErrorIs(t, fx.backend.Delete(testMagnet, false), domain.ErrReadOnly)
	assert.ErrorIs(t, fx.backend.Delete("absent", false), vfs.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestCloseReleasesAndReopenIsIndependent(t *testing.T) {
	fx := newFixture(t, 3000, 1024)
	f := fx.open(t)
	_, err := f.ReadAt(make([]byte, 10), 0)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Zero(t, fx.swarm.Live())

	_, err = f.ReadAt(make([]byte, 10), 0)
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = f.FileSize()
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, f.Sync(vfs.SyncNormal), domain.ErrClosed)

	again := fx.open(t)
	defer again.Close()
	buf := make([]byte, 10)
	_, err = again.ReadAt(buf, 1500)
	require.NoError(t, err)
	assert.Equal(t, fx.data[1500:1510], buf)
	assert.Equal(t, 1, fx.swarm.Live())
	assert.Equal(t, 1, again.Stats().PiecesServed)
}

func TestInstallConstructsOnce(t *testing.T) {
	fx := newFixture(t, 100, 64)
	reg := vfs.NewRegistry(nil)
	require.NoError(t, reg.Register(vfs.LocalName, vfs.NewLocal(fx.dir), true))

	builds := 0
	build := func() (*Backend, error) {
		builds++
		return fx.backend, nil
	}
	first, err := Install(reg, build, false)
	require.NoError(t, err)
	second, err := Install(reg, build, true)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
	name, _ := reg.Default()
	assert.Equal(t, Name, name)
	_, ok := reg.Find(vfs.LocalName)
	assert.True(t, ok)

	_, err = Install(vfs.NewRegistry(nil), func() (*Backend, error) { return nil, errors.New("boom") }, false)
	assert.Error(t, err)
}
