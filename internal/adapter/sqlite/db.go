// Package sqlite persists installed extension descriptors and extension
// state in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"sourcekit/internal/domain"
	"sourcekit/internal/security"
)

// DB wraps the shared connection pool.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath and runs the schema
// migration. ":memory:" opens a private in-memory database.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		// WAL mode for better concurrent reads.
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &DB{db: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS extensions (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		author         TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		version        TEXT NOT NULL DEFAULT '',
		icon           TEXT NOT NULL DEFAULT '',
		repository_url TEXT NOT NULL DEFAULT '',
		engine         TEXT NOT NULL DEFAULT 'js',
		content_rating TEXT NOT NULL DEFAULT '',
		language       TEXT NOT NULL DEFAULT '',
		source         BLOB,
		installed_at   TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS extension_state (
		extension_id TEXT NOT NULL,
		namespace    TEXT NOT NULL,
		key          TEXT NOT NULL,
		value        TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		PRIMARY KEY (extension_id, namespace, key)
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Extensions returns the descriptor store backed by this database.
func (d *DB) Extensions() *ExtensionStore {
	return &ExtensionStore{db: d.db}
}

// State returns the extension state store backed by this database.
func (d *DB) State() *StateStore {
	return &StateStore{db: d.db}
}

const keychainSaltKey = "keychain_salt"

// KeychainSalt returns the persisted keychain salt, creating it on first use.
func (d *DB) KeychainSalt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := d.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", keychainSaltKey).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("DB.KeychainSalt", domain.ErrStateStore, err.Error())
	}

	salt, err = security.NewSalt()
	if err != nil {
		return nil, err
	}
	// INSERT OR IGNORE keeps the first salt if two processes race.
	if _, err := d.db.ExecContext(ctx, "INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", keychainSaltKey, salt); err != nil {
		return nil, domain.NewDomainError("DB.KeychainSalt", domain.ErrStateStore, err.Error())
	}
	if err := d.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", keychainSaltKey).Scan(&salt); err != nil {
		return nil, domain.NewDomainError("DB.KeychainSalt", domain.ErrStateStore, err.Error())
	}
	return salt, nil
}
