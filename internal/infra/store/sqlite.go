// Package store persists per-renderer user settings in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "2"

	// DefaultDBPath is the default path for the settings database.
	DefaultDBPath = "data/castbridge.db"
)

// ErrClosed is returned when the database is used before Open or after Close.
var ErrClosed = errors.New("store is not open")

// Override is the user's configuration for one renderer.
type Override struct {
	RendererID string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Codec      string    `json:"codec,omitempty"`
	Rules      []string  `json:"rules,omitempty"` // rule names, validated by the caller
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DB is the SQLite settings database.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a database instance. Open must be called before use.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{path: path}
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open store database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)
	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Settings database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *DB) initSchema() error {
	if _, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT
	);`); err != nil {
		return err
	}

	current := d.getSchemaVersion()
	switch current {
	case CurrentSchemaVersion:
		return nil
	case "":
		if err := d.createSchema(); err != nil {
			return err
		}
	case "1":
		log.Info().Str("current", current).Str("target", CurrentSchemaVersion).Msg("Migrating settings schema")
		if _, err := d.db.Exec(`ALTER TABLE renderer_overrides ADD COLUMN rules TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	default:
		return fmt.Errorf("unsupported schema version %q", current)
	}
	return d.setMeta("schema_version", CurrentSchemaVersion)
}

func (d *DB) createSchema() error {
	_, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS renderer_overrides (
		renderer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		codec TEXT NOT NULL DEFAULT '',
		rules TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);`)
	return err
}

func (d *DB) getSchemaVersion() string {
	var version string
	err := d.db.QueryRow("SELECT value FROM store_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

func (d *DB) setMeta(key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO store_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

// Get returns the override for a renderer.
func (d *DB) Get(rendererID string) (Override, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return Override{}, false, ErrClosed
	}

	row := d.db.QueryRow(`SELECT renderer_id, name, codec, rules, updated_at
		FROM renderer_overrides WHERE renderer_id = ?`, rendererID)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, fmt.Errorf("get override %s: %w", rendererID, err)
	}
	return o, true, nil
}

// List returns every stored override ordered by renderer id.
func (d *DB) List() ([]Override, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrClosed
	}

	rows, err := d.db.Query(`SELECT renderer_id, name, codec, rules, updated_at
		FROM renderer_overrides ORDER BY renderer_id`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Save inserts or replaces an override.
func (d *DB) Save(o Override) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrClosed
	}
	if o.RendererID == "" {
		return errors.New("override without renderer id")
	}

	_, err := d.db.Exec(`
		INSERT INTO renderer_overrides (renderer_id, name, codec, rules, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(renderer_id) DO UPDATE SET
			name = excluded.name, codec = excluded.codec, rules = excluded.rules, updated_at = excluded.updated_at
	`, o.RendererID, o.Name, o.Codec, strings.Join(o.Rules, ","), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save override %s: %w", o.RendererID, err)
	}
	return nil
}

// Delete removes an override. Deleting a missing one is not an error.
func (d *DB) Delete(rendererID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrClosed
	}
	_, err := d.db.Exec(`DELETE FROM renderer_overrides WHERE renderer_id = ?`, rendererID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOverride(s scanner) (Override, error) {
	var o Override
	var rules, updated string
	if err := s.Scan(&o.RendererID, &o.Name, &o.Codec, &rules, &updated); err != nil {
		return Override{}, err
	}
	if rules != "" {
		o.Rules = strings.Split(rules, ",")
	}
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return o, nil
}
