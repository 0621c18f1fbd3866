package sqlbind

import (
	"database/sql"
	"net/url"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"torrentsqlite/internal/vfs"
)

const (
	// DriverVFS is the engine every custom VFS is bound to. It is the
	// native driver with temp tables kept in memory, so a connection never
	// asks its VFS for scratch files.
	DriverVFS = "sqlite3_torrentsql"
	// DriverNative serves plain local database files.
	DriverNative = "sqlite3"
	// DriverPure serves plain local database files without cgo.
	DriverPure = "sqlite"
)

func init() {
	sql.Register(DriverVFS, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA temp_store = memory", nil)
			return err
		},
	})
}

// DSN opens name read-only through the engine VFS engineVFS. A non-empty
// scope names the vfs.Scope the connection's reads run under.
func DSN(name, engineVFS, scope string) string {
	q := url.Values{}
	q.Set("vfs", engineVFS)
	q.Set("mode", "ro")
	if scope != "" {
		q.Set(vfs.ScopeParam, scope)
	}
	return "file:" + url.PathEscape(name) + "?" + q.Encode()
}

// NativeDSN opens a local database file with the native driver.
func NativeDSN(path string, readOnly bool) string {
	dsn := "file:" + escapePath(path)
	if readOnly {
		dsn += "?mode=ro"
	}
	return dsn
}

// PureDSN opens a local database file with the pure driver on its default
// VFS.
func PureDSN(path string, readOnly bool) string {
	dsn := "file:" + escapePath(path)
	if readOnly {
		dsn += "?mode=ro&_pragma=temp_store(memory)"
	}
	return dsn
}

// escapePath keeps separators readable while escaping the characters SQLite
// would take as the start of URI parameters or a fragment.
func escapePath(path string) string {
	r := strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")
	return r.Replace(path)
}
