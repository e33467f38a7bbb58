// Package store is the spatial store adapter of spec.md §4.1: connection
// lifecycle, spatial-extension load, schema bootstrap, and the
// single-writer/parallel-reader discipline every other component relies
// on. Grounded in the teacher's internal/db/duckdb.go (singleton *sql.DB,
// INSTALL/LOAD calls) and original_source/backend/src/db.rs's
// ensure_spatial_extension (manifest pin, retry+backoff, mutex-guarded
// network install).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

// Store wraps a single DuckDB connection pool plus the write-serialization
// lock required because the engine is effectively single-writer.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	log     zerolog.Logger
}

// extensionInstallMu guards the network install-then-load fallback so two
// Stores opened in the same process (as happens under test) never race a
// concurrent `INSTALL spatial` against the shared extension cache.
var extensionInstallMu sync.Mutex

// manifest describes the pinned spatial extension build, read from
// <SPATIAL_EXTENSION_DIR>/manifest.json per spec.md §6.3.
type manifest struct {
	Version  string `json:"version"`
	Filename string `json:"filename"`
}

// Config is the subset of process configuration the adapter needs.
type Config struct {
	DBPath               string
	SpatialExtensionPath string
	SpatialExtensionDir  string
}

// Open creates the DuckDB file (and parent directory) if needed, loads the
// spatial extension, and bootstraps the catalog schema.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine-unavailable: %w", err)
	}

	s := &Store{db: db, log: log}

	if err := s.ensureSpatialExtension(cfg); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.bootstrapSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithoutSpatialExtension bootstraps the catalog schema on a fresh
// DuckDB file without loading the spatial extension, for tests of
// packages (catalog, auth) that only touch the relational tables and
// would otherwise pay for a network extension install in environments
// with no bundled artifact.
func OpenWithoutSpatialExtension(dbPath string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine-unavailable: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.bootstrapSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB for read-only query helpers. Mutating
// statements must instead go through WithWrite.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// WithWrite serializes a mutating operation (a single statement or a
// multi-statement transaction) behind the adapter's writer lock, per
// spec.md §4.1's concurrency bullet and §5's single-writer-discipline
// resource note.
func (s *Store) WithWrite(fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("io: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("io: commit transaction: %w", err)
	}
	return nil
}

// ensureSpatialExtension loads the spatial extension, preferring a bundled
// local artifact (manifest-pinned) and falling back to the network
// install-then-load flow with retry and backoff.
func (s *Store) ensureSpatialExtension(cfg Config) error {
	path, ok, err := s.bundledExtensionPath(cfg)
	if err != nil {
		return err
	}
	if ok {
		if err := s.loadFromPath(path); err == nil {
			return nil
		}
		s.log.Warn().Str("path", path).Msg("bundled spatial extension load failed, falling back to network install")
	}

	// Fast path: the extension may already be installed/loadable without
	// a network round trip.
	if _, err := s.db.Exec("LOAD spatial;"); err == nil {
		return nil
	}

	extensionInstallMu.Lock()
	defer extensionInstallMu.Unlock()

	var lastErr error
	delay := 200 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		_, err := s.db.Exec("INSTALL spatial; LOAD spatial;")
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("spatial extension install failed, retrying")
		if attempt < 5 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("engine-unavailable: install spatial extension: %w", lastErr)
}

// bundledExtensionPath resolves the local extension file and, when a
// manifest is present, enforces the version pin from spec.md §4.1/§6.3. A
// manifest version mismatch is a fatal startup error, not a fallback
// trigger, so it is returned rather than swallowed.
func (s *Store) bundledExtensionPath(cfg Config) (string, bool, error) {
	path := cfg.SpatialExtensionPath
	if path == "" && cfg.SpatialExtensionDir != "" {
		path = filepath.Join(cfg.SpatialExtensionDir, "spatial.duckdb_extension")
	}
	if path == "" {
		return "", false, nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", false, nil
	}

	if cfg.SpatialExtensionDir != "" {
		if err := s.verifyManifestVersion(cfg.SpatialExtensionDir); err != nil {
			return "", false, err
		}
	}
	return path, true, nil
}

func (s *Store) verifyManifestVersion(dir string) error {
	manifestPath := filepath.Join(dir, "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		// No manifest shipped alongside the bundled artifact: skip the
		// pin check, matching single-host deployments without one.
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	var engineVersion string
	row := s.db.QueryRow("SELECT library_version FROM pragma_version()")
	if err := row.Scan(&engineVersion); err != nil {
		return fmt.Errorf("read engine version: %w", err)
	}
	if m.Version != "" && m.Version != engineVersion {
		return fmt.Errorf("extension-version-mismatch: manifest pins %q, engine reports %q", m.Version, engineVersion)
	}
	return nil
}

func (s *Store) loadFromPath(path string) error {
	_, err := s.db.Exec(fmt.Sprintf("LOAD '%s';", path))
	return err
}
