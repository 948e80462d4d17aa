// Package cache contains the persistent optimizer stores.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/optimize"
	"github.com/rs/zerolog"
)

// StoreName is the registry name of FileStore.
const StoreName = "file"

var ErrNoCacheDir = errors.New("no cache directory configured")

// FileStore keeps one file per project and version under
// <cacheDir>/<server footprint>/<project>/<version>. Files are loaded the
// first time a project version is accessed and written back as a whole
// when the store is stopped with persist set.
//
// Concurrent processes sharing a cache directory overwrite each other's
// files, the last writer wins.
type FileStore struct {
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	rootDir string
	dir     string
	caches  map[optimize.ProjectVersion]map[string]string
}

// NewFileStore returns a store that must be started before use.
func NewFileStore(logger zerolog.Logger) *FileStore {
	return &FileStore{
		logger: logger.With().Str("store", StoreName).Logger(),
	}
}

// Register adds the file store to a registry.
func Register(r *optimize.Registry) {
	r.Register(StoreName, func(logger zerolog.Logger) (optimize.Store, error) {
		return NewFileStore(logger), nil
	})
}

func (s *FileStore) Start(cfg optimize.StoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if cfg.CacheDir == "" {
		return ErrNoCacheDir
	}

	s.rootDir = cfg.CacheDir
	s.dir = filepath.Join(cfg.CacheDir, footprint.Footprint(cfg.ServerURL))
	s.caches = map[optimize.ProjectVersion]map[string]string{}
	s.started = true

	s.logger.Debug().Str("path", s.dir).Msg("Optimizer cache started")
	return nil
}

func (s *FileStore) Stop(persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if persist {
		for pv, entries := range s.caches {
			if err := s.save(pv, entries); err != nil {
				s.logger.Warn().Err(err).
					Str("project", pv.Project).
					Str("version", pv.Version).
					Msg("Unable to write the cache file")
			}
		}
	}

	s.caches = nil
	s.started = false
}

func (s *FileStore) TestHasChanged(project, version, key, footprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return true, optimize.ErrStoreNotStarted
	}
	if footprint == "" {
		return true, nil
	}

	recorded, ok := s.cache(project, version)[key]
	return !ok || recorded != footprint, nil
}

func (s *FileStore) StoreTestFootprint(project, version, key, footprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return optimize.ErrStoreNotStarted
	}
	s.cache(project, version)[key] = footprint
	return nil
}

// CleanCaches removes the whole cache root and forgets what was loaded.
func (s *FileStore) CleanCaches() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return optimize.ErrStoreNotStarted
	}
	s.caches = map[optimize.ProjectVersion]map[string]string{}
	return Clean(s.rootDir)
}

func (s *FileStore) cache(project, version string) map[string]string {
	pv := optimize.ProjectVersion{Project: project, Version: version}
	if entries, ok := s.caches[pv]; ok {
		return entries
	}

	entries := s.load(pv)
	s.caches[pv] = entries
	return entries
}

// load never fails: a missing or unreadable file is an empty cache.
func (s *FileStore) load(pv optimize.ProjectVersion) map[string]string {
	path := s.path(pv)
	logger := s.logger.With().
		Str("project", pv.Project).
		Str("version", pv.Version).
		Str("path", path).
		Logger()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug().Msg("No cache found")
		return map[string]string{}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Unable to read the cache")
		return map[string]string{}
	}

	entries, err := decode(data)
	if err != nil {
		logger.Warn().Err(err).Msg("The cache is corrupted and is ignored")
		return map[string]string{}
	}
	return entries
}

func (s *FileStore) save(pv optimize.ProjectVersion, entries map[string]string) error {
	path := s.path(pv)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := encode(entries)
	if err != nil {
		return err
	}

	// Write to a sibling file first so readers never see a partial cache
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (s *FileStore) path(pv optimize.ProjectVersion) string {
	return filepath.Join(s.dir, segment(pv.Project), segment(pv.Version))
}

// segment turns an arbitrary project or version into a single path element.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	escaped := url.PathEscape(s)
	if strings.Trim(escaped, ".") == "" {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

// Clean removes a cache root with everything below it.
func Clean(dir string) error {
	if dir == "" {
		return ErrNoCacheDir
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clean cache directory %s: %w", dir, err)
	}
	return nil
}

// Entry describes one cache file.
type Entry struct {
	Server  string
	Project string
	Version string
	Tests   int
	Path    string
	Err     error
}

// List walks a cache root and describes every cache file found. Files that
// cannot be decoded are listed with Err set.
func List(logger zerolog.Logger, dir string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			logger.Debug().Str("path", path).Msg("Skipping unexpected file in cache directory")
			return nil
		}

		entry := Entry{
			Server:  parts[0],
			Project: unescape(parts[1]),
			Version: unescape(parts[2]),
			Path:    path,
		}

		data, err := os.ReadFile(path)
		if err == nil {
			var cache map[string]string
			cache, err = decode(data)
			entry.Tests = len(cache)
		}
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to read cache file")
			entry.Err = err
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk cache directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
