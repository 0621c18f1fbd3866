// Package database is a small query facade over database/sql for the
// databases served by the vfs backends.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"torrentsqlite/internal/telemetry"
	"torrentsqlite/internal/vfs"
	"torrentsqlite/internal/vfs/sqlbind"
)

// ResultMode selects how FetchRows keys the columns of a row.
type ResultMode int

const (
	// ResultAssoc keys columns by name.
	ResultAssoc ResultMode = iota + 1
	// ResultNum keys columns by position.
	ResultNum
	// ResultBoth fills both keyings.
	ResultBoth
)

var (
	ErrEmptyName = errors.New("database name is empty")
	ErrEmptyData = errors.New("database buffer is empty")
	ErrNoVFS     = errors.New("vfs not registered")
)

// Row is one result row. Num is set for ResultNum and ResultBoth, Assoc for
// ResultAssoc and ResultBoth. A column name repeated in the result keeps
// the last value in Assoc. Columns is shared by every row of a result.
type Row struct {
	Columns []string
	Num     []any
	Assoc   map[string]any
}

// DB is one open database. Statements on a DB opened through a vfs backend
// run one at a time so the backend can read under the running statement's
// context.
type DB struct {
	db      *sql.DB
	name    string
	release func()

	stmtMu sync.Mutex
	scope  *vfs.Scope
}

// Open opens dsn with driver and checks the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyName
	}
	return open(ctx, driver, dsn, dsn, nil, nil, 0)
}

// OpenVFS opens name read-only through the backend registered as vfsName
// on the process-wide registry.
func OpenVFS(ctx context.Context, vfsName, name string) (*DB, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if _, err := sqlbind.Registry(); err != nil {
		return nil, err
	}
	engine, ok := sqlbind.EngineName(vfsName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoVFS, vfsName)
	}
	return openVFS(ctx, engine, name, nil)
}

// OpenBuffered opens a database image held in data. The buffer is copied and
// released by Close.
func OpenBuffered(ctx context.Context, name string, data []byte) (*DB, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	if _, err := sqlbind.Registry(); err != nil {
		return nil, err
	}
	mem := sqlbind.Memory()
	if err := mem.Put(name, data); err != nil {
		return nil, err
	}
	engine, ok := sqlbind.EngineName(vfs.MemoryName)
	if !ok {
		mem.Remove(name)
		return nil, fmt.Errorf("%w: %q", ErrNoVFS, vfs.MemoryName)
	}
	return openVFS(ctx, engine, name, func() { mem.Remove(name) })
}

// openVFS keeps a single connection so one DB holds one open file on the
// backend. The connection reads under a scope of its own.
func openVFS(ctx context.Context, engine, name string, release func()) (*DB, error) {
	scope := vfs.NewScope()
	done := func() {
		scope.Release()
		if release != nil {
			release()
		}
	}
	return open(ctx, sqlbind.DriverVFS, sqlbind.DSN(name, engine, scope.ID()), name, scope, done, 1)
}

func open(ctx context.Context, driver, dsn, name string, scope *vfs.Scope, release func(), maxConns int) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	d := &DB{db: db, name: name, release: release, scope: scope}
	leave := d.enter(ctx)
	err = db.PingContext(ctx)
	leave()
	if err != nil {
		_ = db.Close()
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}
	return d, nil
}

// enter serializes statements on a scoped DB and makes ctx the context its
// backend reads under until the returned func is called.
func (d *DB) enter(ctx context.Context) (leave func()) {
	if d.scope == nil {
		return func() {}
	}
	d.stmtMu.Lock()
	exit := d.scope.Enter(ctx)
	return func() {
		exit()
		d.stmtMu.Unlock()
	}
}

func (d *DB) Name() string { return d.name }

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) Close() error {
	err := d.db.Close()
	if d.release != nil {
		d.release()
		d.release = nil
	}
	return err
}

// Query executes stmt, discarding any rows. A blank statement does nothing.
func (d *DB) Query(ctx context.Context, stmt string) error {
	return d.QueryWithArgs(ctx, stmt)
}

func (d *DB) QueryWithArgs(ctx context.Context, stmt string, args ...any) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	leave := d.enter(ctx)
	defer leave()
	_, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", d.name, err)
	}
	return nil
}

// FetchRows runs stmt and returns every row keyed as mode asks. A blank
// statement returns no rows.
func (d *DB) FetchRows(ctx context.Context, stmt string, mode ResultMode, args ...any) ([]Row, error) {
	if strings.TrimSpace(stmt) == "" {
		return nil, nil
	}
	if mode < ResultAssoc || mode > ResultBoth {
		return nil, fmt.Errorf("unknown result mode %d", mode)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "database.fetch_rows")
	defer span.End()
	span.SetAttributes(attribute.String("db.name", d.name))

	leave := d.enter(ctx)
	defer leave()
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query %s: %w", d.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan %s: %w", d.name, err)
		}
		out = append(out, makeRow(cols, values, mode))
	}
	if err := rows.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rows %s: %w", d.name, err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

func makeRow(cols []string, values []any, mode ResultMode) Row {
	row := Row{Columns: cols}
	if mode == ResultNum || mode == ResultBoth {
		row.Num = values
	}
	if mode == ResultAssoc || mode == ResultBoth {
		row.Assoc = make(map[string]any, len(cols))
		for i, c := range cols {
			row.Assoc[c] = values[i]
		}
	}
	return row
}

// FetchArray returns every row keyed by column position.
func (d *DB) FetchArray(ctx context.Context, stmt string) ([][]any, error) {
	return d.FetchArrayWithArgs(ctx, stmt)
}

func (d *DB) FetchArrayWithArgs(ctx context.Context, stmt string, args ...any) ([][]any, error) {
	rows, err := d.FetchRows(ctx, stmt, ResultNum, args...)
	if err != nil {
		return nil, err
	}
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Num)
	}
	return out, nil
}

// FetchAssoc returns every row keyed by column name.
func (d *DB) FetchAssoc(ctx context.Context, stmt string) ([]map[string]any, error) {
	return d.FetchAssocWithArgs(ctx, stmt)
}

func (d *DB) FetchAssocWithArgs(ctx context.Context, stmt string, args ...any) ([]map[string]any, error) {
	rows, err := d.FetchRows(ctx, stmt, ResultAssoc, args...)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Assoc)
	}
	return out, nil
}
