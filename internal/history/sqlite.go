package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache is the durable Cache used outside tests: one row per identity
// in a single local database file.
type SQLiteCache struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_history_cache (
	identity   TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// NewSQLiteCache opens (creating if needed) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring history cache: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing history cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Get returns the stored replica for identity.
func (c *SQLiteCache) Get(identity string) ([]byte, bool, error) {
	var payload []byte
	err := c.db.QueryRow(
		"SELECT payload FROM chat_history_cache WHERE identity = ?", identity,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading history cache: %w", err)
	}
	return payload, true, nil
}

// Set stores the replica for identity, replacing any previous row.
func (c *SQLiteCache) Set(identity string, data []byte) error {
	_, err := c.db.Exec(`
		INSERT INTO chat_history_cache (identity, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		identity, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing history cache: %w", err)
	}
	return nil
}

// Remove deletes the replica for identity.
func (c *SQLiteCache) Remove(identity string) error {
	if _, err := c.db.Exec("DELETE FROM chat_history_cache WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("deleting history cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
