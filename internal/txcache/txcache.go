// Package txcache is the local persistent cache for shared-group
// transactions. It mirrors a bounded subset of the remote source of
// truth in an embedded SQLite database, evicts oldest-cached records
// when a global ceiling is exceeded, and reports storage-quota
// pressure as data rather than as errors so callers can degrade
// gracefully. Everything in here can be reconstructed by re-fetching
// from the remote source.
package txcache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"divvy/internal/log"
)

const (
	// DefaultMaxRecords is the record ceiling across all groups.
	DefaultMaxRecords = 50_000
	// DefaultEvictBatch is how many oldest-cached records one eviction
	// pass removes.
	DefaultEvictBatch = 5_000
)

// Options tunes a Cache. The zero value selects the defaults.
type Options struct {
	// MaxRecords is the total record ceiling across all groups.
	MaxRecords int
	// EvictBatch is the number of records removed per eviction pass.
	EvictBatch int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxRecords <= 0 {
		o.MaxRecords = DefaultMaxRecords
	}
	if o.EvictBatch <= 0 {
		o.EvictBatch = DefaultEvictBatch
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Cache is an open handle to the on-disk cache. Callers own its
// lifecycle: construct with Open, release with Close. A single handle
// is meant to be shared within one process; SQLite serializes
// transactions against the same file, so no additional locking is
// layered on top.
type Cache struct {
	db   *sql.DB
	path string
	opts Options

	// set by tests to inject failures into the write loop
	hookBeforeUpsert func(groupID, txID string) error
}

// Open opens (creating on first use) the cache database at path and
// brings its schema up to date.
func Open(path string, opts Options) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Cache{db: db, path: path, opts: opts.withDefaults()}, nil
}

// enablePragmas sets SQLite pragmas for concurrent read/write access.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close releases the handle. Best-effort: safe on nil and after a
// previous Close or Destroy.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Path returns the database file path the handle was opened with.
func (c *Cache) Path() string {
	return c.path
}

// Available reports whether persistent storage is usable at path. It
// probes by creating the parent directory and a throwaway file; any
// failure means no, never an error. Some environments (read-only
// mounts, exhausted devices) refuse local storage entirely and callers
// are expected to fall back to network-only operation.
func Available(path string) bool {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".txcache-probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}

// Destroy closes the handle and deletes the database files outright.
// This is the fastest correct way to discard everything, used when the
// whole local state must go (logout, corrupted cache). Removal of a
// busy file can fail transiently, so it retries briefly and then
// resolves anyway; a later Open starts from a fresh database.
func (c *Cache) Destroy() error {
	if err := c.Close(); err != nil {
		slog.Warn("Closing cache before destroy failed", log.FieldError, err)
	}

	files := []string{c.path, c.path + "-wal", c.path + "-shm"}
	for attempt := 0; attempt < 3; attempt++ {
		ok := true
		for _, f := range files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				ok = false
			}
		}
		if ok {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Warn("Cache files still present after destroy grace period", log.FieldDBPath, c.path)
	return nil
}

func (c *Cache) now() time.Time {
	return c.opts.Now()
}

// ready guards operations on a closed handle.
func (c *Cache) ready() error {
	if c == nil || c.db == nil {
		return fmt.Errorf("cache is closed")
	}
	return nil
}
