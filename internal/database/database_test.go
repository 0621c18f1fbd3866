package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/testutil/swarmtest"
	"torrentsqlite/internal/usecase"
	"torrentsqlite/internal/vfs"
	"torrentsqlite/internal/vfs/sqlbind"
	"torrentsqlite/internal/vfs/torrentvfs"
)

func fixtureImage(t *testing.T) (string, []byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open(sqlbind.DriverPure, path)
	require.NoError(t, err)
	stmts := []string{
		`CREATE TABLE books (id INTEGER PRIMARY KEY, title TEXT NOT NULL, year INTEGER)`,
		`INSERT INTO books (title, year) VALUES ('Dune', 1965), ('Neuromancer', 1984), ('Hyperion', 1989)`,
		`CREATE TABLE padding (blob BLOB)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	// Spread the file over several pages so reads cross piece boundaries.
	for i := 0; i < 20; i++ {
		_, err := db.Exec(`INSERT INTO padding (blob) VALUES (randomblob(2000))`)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return path, data
}

func TestOpenRejectsBlankInput(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, sqlbind.DriverPure, "  ")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = OpenBuffered(ctx, "", []byte("x"))
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = OpenBuffered(ctx, "empty.db", nil)
	assert.ErrorIs(t, err, ErrEmptyData)
	_, err = OpenVFS(ctx, vfs.MemoryName, " ")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = OpenVFS(ctx, "nope", "x.db")
	assert.ErrorIs(t, err, ErrNoVFS)
}

func TestFetchModes(t *testing.T) {
	_, data := fixtureImage(t)
	ctx := context.Background()
	db, err := OpenBuffered(ctx, "modes.db", data)
	require.NoError(t, err)
	defer db.Close()

	const stmt = `SELECT title, year FROM books WHERE year > ? ORDER BY year`

	assoc, err := db.FetchRows(ctx, stmt, ResultAssoc, 1970)
	require.NoError(t, err)
	require.Len(t, assoc, 2)
	assert.Nil(t, assoc[0].Num)
	assert.Equal(t, "Neuromancer", assoc[0].Assoc["title"])
	assert.EqualValues(t, 1984, assoc[0].Assoc["year"])

	num, err := db.FetchRows(ctx, stmt, ResultNum, 1970)
	require.NoError(t, err)
	assert.Nil(t, num[1].Assoc)
	assert.Equal(t, "Hyperion", num[1].Num[0])

	both, err := db.FetchRows(ctx, stmt, ResultBoth, 1970)
	require.NoError(t, err)
	assert.Equal(t, both[0].Num[0], both[0].Assoc["title"])

	_, err = db.FetchRows(ctx, stmt, ResultMode(9), 1970)
	assert.Error(t, err)
}

func TestFetchArrayAndAssoc(t *testing.T) {
	_, data := fixtureImage(t)
	ctx := context.Background()
	db, err := OpenBuffered(ctx, "helpers.db", data)
	require.NoError(t, err)
	defer db.Close()

	arr, err := db.FetchArray(ctx, `SELECT COUNT(*) FROM books`)
	require.NoError(t, err)
	require.Len(t, arr, 1)
	assert.EqualValues(t, 3, arr[0][0])

	rows, err := db.FetchAssocWithArgs(ctx, `SELECT title FROM books WHERE id = ?`, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Dune", rows[0]["title"])

	arr, err = db.FetchArrayWithArgs(ctx, `SELECT id FROM books WHERE year < ?`, 1900)
	require.NoError(t, err)
	assert.Empty(t, arr)

	all, err := db.FetchAssoc(ctx, `SELECT id FROM books`)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBlankStatements(t *testing.T) {
	_, data := fixtureImage(t)
	ctx := context.Background()
	db, err := OpenBuffered(ctx, "blank.db", data)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Query(ctx, ""))
	assert.NoError(t, db.QueryWithArgs(ctx, "   ", 1))
	rows, err := db.FetchRows(ctx, "\n", ResultBoth)
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBufferedIsReadOnly(t *testing.T) {
	_, data := fixtureImage(t)
	ctx := context.Background()
	db, err := OpenBuffered(ctx, "readonly.db", data)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Query(ctx, `SELECT 1`))
	assert.Error(t, db.QueryWithArgs(ctx, `INSERT INTO books (title) VALUES (?)`, "Solaris"))
	_, err = db.FetchArray(ctx, `SELEC nonsense`)
	assert.Error(t, err)
}

func TestBufferReleasedOnClose(t *testing.T) {
	_, data := fixtureImage(t)
	ctx := context.Background()
	db, err := OpenBuffered(ctx, "released.db", data)
	require.NoError(t, err)

	ok, _ := sqlbind.Memory().Access("released.db", vfs.AccessExists)
	assert.True(t, ok)
	require.NoError(t, db.Close())
	ok, _ = sqlbind.Memory().Access("released.db", vfs.AccessExists)
	assert.False(t, ok)
}

func TestOpenLocalFileBothDrivers(t *testing.T) {
	path, _ := fixtureImage(t)
	ctx := context.Background()
	for _, tc := range []struct {
		driver string
		dsn    string
	}{
		{sqlbind.DriverNative, sqlbind.NativeDSN(path, true)},
		{sqlbind.DriverPure, sqlbind.PureDSN(path, true)},
	} {
		t.Run(tc.driver, func(t *testing.T) {
			db, err := Open(ctx, tc.driver, tc.dsn)
			require.NoError(t, err)
			defer db.Close()
			rows, err := db.FetchArray(ctx, `SELECT COUNT(*) FROM books`)
			require.NoError(t, err)
			assert.EqualValues(t, 3, rows[0][0])
		})
	}
}

// The torrent backend is installed once per process, so the tests reading
// through it share one swarm.
var (
	torrentOnce  sync.Once
	torrentSwarm *swarmtest.Swarm
	torrentErr   error
)

func installTorrent(t *testing.T) *swarmtest.Swarm {
	t.Helper()
	torrentOnce.Do(func() {
		dir, err := os.MkdirTemp("", "torrentsql-database")
		if err != nil {
			torrentErr = err
			return
		}
		reg, err := sqlbind.Registry()
		if err != nil {
			torrentErr = err
			return
		}
		torrentSwarm = swarmtest.New()
		_, torrentErr = torrentvfs.Install(reg, func() (*torrentvfs.Backend, error) {
			return torrentvfs.New(
				usecase.PieceFetcher{Swarm: torrentSwarm, PieceTimeout: 30 * time.Second},
				vfs.NewLocal(dir),
				torrentvfs.Options{},
			), nil
		}, false)
	})
	require.NoError(t, torrentErr)
	return torrentSwarm
}

func TestQueryThroughTorrentVFS(t *testing.T) {
	_, data := fixtureImage(t)
	const magnet = "magnet:?xt=urn:btih:cccccccccccccccccccccccccccccccccccccccc"

	swarm := installTorrent(t)
	swarm.Publish(magnet, data, 1024)

	desc, err := domain.ParseDescriptor(magnet)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := OpenVFS(ctx, torrentvfs.Name, desc.Encode())
	require.NoError(t, err)

	rows, err := db.FetchAssoc(ctx, `SELECT title FROM books ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Dune", rows[0]["title"])
	assert.Equal(t, "Hyperion", rows[2]["title"])

	count, err := db.FetchArray(ctx, `SELECT COUNT(*), SUM(length(blob)) FROM padding`)
	require.NoError(t, err)
	assert.EqualValues(t, 20, count[0][0])
	assert.EqualValues(t, 40000, count[0][1])

	assert.Error(t, db.Query(ctx, `DELETE FROM books`))

	require.NoError(t, db.Close())
	assert.Zero(t, swarm.Live())
	assert.NotEmpty(t, swarm.Attachments())
}

func TestCancelledStatementUnblocksStalledRead(t *testing.T) {
	_, data := fixtureImage(t)
	const magnet = "magnet:?xt=urn:btih:dddddddddddddddddddddddddddddddddddddddd"
	const scan = `SELECT COUNT(*), MAX(hex(blob)) FROM padding`

	swarm := installTorrent(t)
	content := swarm.Publish(magnet, data, 1024)
	last := domain.NumPieces(1024, int64(len(data))) - 1
	content.Stall(last)

	desc, err := domain.ParseDescriptor(magnet)
	require.NoError(t, err)
	db, err := OpenVFS(context.Background(), torrentvfs.Name, desc.Encode())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = db.FetchArray(ctx, scan)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "the read must not wait out the piece timeout")

	// The connection recovers once the piece arrives.
	for _, a := range swarm.Attachments() {
		if !a.Detached() {
			a.Release(last)
		}
	}
	rows, err := db.FetchArray(context.Background(), scan)
	require.NoError(t, err)
	assert.EqualValues(t, 20, rows[0][0])
}
