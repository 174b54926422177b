// Package store opens the client's local sqlite database. History and
// preferences share the one file; callers degrade to in-memory behavior when
// opening fails.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id         TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	bet_sats   INTEGER NOT NULL,
	outcome    TEXT NOT NULL,
	net_sats   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_ts ON history (ts DESC);

CREATE TABLE IF NOT EXISTS prefs (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	// The client is effectively single-writer; one connection avoids
	// SQLITE_BUSY on concurrent pref writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
