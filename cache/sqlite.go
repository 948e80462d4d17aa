package cache

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/optimize"
	"github.com/rs/zerolog"
)

// SQLiteStoreName is the registry name of SQLiteStore.
const SQLiteStoreName = "sqlite"

// SQLiteFile is the database file created in the cache directory.
const SQLiteFile = "footprints.db"

//go:embed schema.sql
var schemaSQL string

// SQLiteStore records footprints in a SQLite database. Every lifecycle runs
// in one transaction that is committed or rolled back by Stop, so processes
// sharing the database never interleave partial updates.
type SQLiteStore struct {
	logger zerolog.Logger

	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	server string
}

// NewSQLiteStore returns a store that must be started before use.
func NewSQLiteStore(logger zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		logger: logger.With().Str("store", SQLiteStoreName).Logger(),
	}
}

// RegisterSQLite adds the SQLite store to a registry.
func RegisterSQLite(r *optimize.Registry) {
	r.Register(SQLiteStoreName, func(logger zerolog.Logger) (optimize.Store, error) {
		return NewSQLiteStore(logger), nil
	})
}

func (s *SQLiteStore) Start(cfg optimize.StoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return nil
	}
	if cfg.CacheDir == "" {
		return ErrNoCacheDir
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := openDB(filepath.Join(cfg.CacheDir, SQLiteFile))
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	s.db = db
	s.tx = tx
	s.server = footprint.Footprint(cfg.ServerURL)
	return nil
}

func openDB(path string) (*sql.DB, error) {
	// Begin takes the write lock so concurrent lifecycles wait on each other
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection, the lifecycle transaction owns it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) Stop(persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return
	}

	if persist {
		if err := s.tx.Commit(); err != nil {
			s.logger.Warn().Err(err).Msg("Unable to commit footprints")
		}
	} else if err := s.tx.Rollback(); err != nil {
		s.logger.Warn().Err(err).Msg("Unable to discard footprints")
	}

	if err := s.db.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to close database")
	}
	s.tx = nil
	s.db = nil
}

func (s *SQLiteStore) TestHasChanged(project, version, key, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return true, optimize.ErrStoreNotStarted
	}
	if fp == "" {
		return true, nil
	}

	var recorded string
	err := s.tx.QueryRow(
		`SELECT footprint FROM footprints WHERE server = ? AND project = ? AND version = ? AND test_key = ?`,
		s.server, project, version, key,
	).Scan(&recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read footprint: %w", err)
	}
	return recorded != fp, nil
}

func (s *SQLiteStore) StoreTestFootprint(project, version, key, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return optimize.ErrStoreNotStarted
	}

	_, err := s.tx.Exec(
		`INSERT INTO footprints (server, project, version, test_key, footprint) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (server, project, version, test_key) DO UPDATE SET footprint = excluded.footprint`,
		s.server, project, version, key, fp,
	)
	if err != nil {
		return fmt.Errorf("failed to write footprint: %w", err)
	}
	return nil
}
