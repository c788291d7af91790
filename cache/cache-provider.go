package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It keeps named stores of []byte values, which represent HTTP responses.
// Every operation names the store explicitly, so that several store
// generations (versions) can live side by side until the stale ones are dropped.
//
// Writes are last-write-wins per key.
// Implementations must be thread-safe!
type CacheProvider interface {
	// Open creates the named store if it does not exist yet.
	Open(store string) error
	// Stores returns the names of all existing stores.
	Stores() ([]string, error)
	// Drop deletes the named store together with all of its entries.
	// Dropping a store that does not exist is not an error.
	Drop(store string) error
	// Match returns the stored bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Match(store, key string) ([]byte, bool, error)
	// Put stores the entry under its key, replacing any previous entry.
	// The store is created if needed.
	Put(store string, entry CacheEntry) error
	// PutAll stores all of the entries, or none of them if there is an error.
	PutAll(store string, entries []CacheEntry) error
	// Keys calls the given callback for each key with the given prefix.
	// It calls the callback in order to enable very large lists of keys to be
	// processable (provider implementation might use paging, for instance).
	Keys(store, prefix string, cb func(string)) error
	// Delete removes the entry for the given key.
	Delete(store, key string) error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("open %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init schema: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

func (s SQLiteCache) Open(store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return openStore(s.db, store)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func openStore(db execer, store string) error {
	_, err := db.Exec("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", store, time.Now().Unix())
	return err
}

func (s SQLiteCache) Stores() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY created_at, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Drop(store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", store); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM stores WHERE name = ?", store); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Match(store, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM entries WHERE store = ? AND key = ?", store, key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(store string, entry CacheEntry) error {
	return s.PutAll(store, []CacheEntry{entry})
}

func (s SQLiteCache) PutAll(store string, entries []CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := openStore(tx, store); err != nil {
		return err
	}
	for _, ce := range entries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO entries
			(store, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
			store, ce.Key, ce.StoredAt.Unix(), ce.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteCache) Keys(store, prefix string, cb func(string)) error {
	// substr and length both count characters, so multi-byte prefixes match too
	rows, err := s.db.Query(
		"SELECT key FROM entries WHERE store = ? AND substr(key, 1, length(?)) = ? ORDER BY key",
		store, prefix, prefix,
	)
	if err != nil {
		return err
	}
	// read all keys before calling back, the callback may write to the db
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s SQLiteCache) Delete(store, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE store = ? AND key = ?", store, key)
	return err
}
