// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The back office is a single small server with a few hundred accounts and a
// trickle of contact messages. An embedded database means no separate server
// to run, and ":memory:" gives every test its own fresh store.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of SQLite, so there is no CGo
// and cross-compiling the server stays a plain `go build`.
//
// ATOMICITY:
// SQLite runs every statement under a database-wide write lock. The role
// mutations in user.go rely on that: "demote only if another admin remains"
// is expressed as a single UPDATE/DELETE whose WHERE clause does the count,
// so two concurrent demotions are serialized by the engine itself.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	// The blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB wraps a sql.DB connection pool and implements the user, session and
// contact repositories.
//
// WHY ONE STRUCT FOR THREE REPOSITORIES?
// They share one connection pool and one lifecycle (opened at process start,
// closed at shutdown). The composition root passes the same *DB to every
// service under a different interface, so each service only sees the
// methods it needs.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs all pending migrations.
//
// dbPath examples:
//   - "data/reviewly.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite allows a single writer at a time, and every new connection to
	// ":memory:" would open a different, empty database. One pooled
	// connection avoids both "database is locked" errors and split state.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight. busy_timeout makes
	// a second process (e.g. the migrate command) wait instead of failing.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Wrap adapts an existing connection without running migrations.
// Used by tests that drive the repository through go-sqlmock.
func Wrap(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. The health endpoint calls it.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate applies every embedded goose migration that has not run yet.
//
// MIGRATIONS:
// Schema changes live in migrations/NNNNN_name.sql with "-- +goose Up" and
// "-- +goose Down" sections. goose records applied versions in its own
// goose_db_version table, so calling Migrate on every start is safe.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.conn, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so one scan
// helper per model serves single lookups and list queries.
type rowScanner interface {
	Scan(dest ...any) error
}

// likePattern turns a user search term into a LIKE pattern that matches it
// as a literal, case-insensitive substring. Callers must add ESCAPE '\'.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

// orderBy resolves a client-supplied sort field against a whitelist of
// columns. Column names can't be bound as ? parameters, so anything not in
// the whitelist falls back to the default instead of reaching the SQL text.
func orderBy(columns map[string]string, field, defaultColumn string, desc bool) string {
	col, ok := columns[field]
	if !ok {
		col = defaultColumn
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	// id breaks ties so pages are stable when timestamps collide.
	return fmt.Sprintf("ORDER BY %s %s, id %s", col, dir, dir)
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// modernc.org/sqlite doesn't export typed constraint errors we can match
// across versions, so we match on the message SQLite itself produces.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
