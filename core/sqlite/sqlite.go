// Package sqlite wraps the pure-Go SQLite driver (modernc.org/sqlite) so
// callers open databases through one place. The driver name is "sqlite";
// use Open instead of sql.Open to pick up the standard pragmas.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// DriverName returns the SQL driver name.
func DriverName() string {
	return driverName
}

// Open opens a SQLite database at path with WAL journaling and a busy
// timeout, the settings every store in this module wants.
func Open(path string) (*sql.DB, error) {
	return sql.Open(driverName, path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// OpenReadOnly opens a SQLite database in read-only mode. The driver only
// honors mode=ro on file: URIs, and query_only guards connections that
// fall back to an existing writable handle.
func OpenReadOnly(path string) (*sql.DB, error) {
	return sql.Open(driverName, "file:"+path+"?mode=ro&_pragma=query_only(1)")
}

// MustOpen opens a SQLite database and panics on error. Intended for tests
// and initialization code where failure is unrecoverable.
func MustOpen(path string) *sql.DB {
	db, err := Open(path)
	if err != nil {
		panic(fmt.Sprintf("sqlite: failed to open %s: %v", path, err))
	}
	return db
}
