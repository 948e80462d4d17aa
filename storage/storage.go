// Package storage keeps payloads in the workspace so they can be published
// later, for example from another machine or after a network failure.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/probedock/probedock-go/model"
	"github.com/probedock/probedock-go/serializer"
	"github.com/rs/zerolog"
)

const fileExt = ".json"

// Entry is one saved payload.
type Entry struct {
	Name    string
	Path    string
	SavedAt time.Time
	Run     *model.TestRun
}

type FileStore struct {
	logger     zerolog.Logger
	dir        string
	serializer serializer.Serializer
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithSerializer replaces the JSON serializer.
func WithSerializer(s serializer.Serializer) Option {
	return func(st *FileStore) {
		st.serializer = s
	}
}

// New returns a store saving payloads under <workspace>/tmp/<api version>.
func New(logger zerolog.Logger, workspace string, opts ...Option) *FileStore {
	s := &FileStore{
		logger:     logger,
		dir:        filepath.Join(workspace, "tmp", model.APIVersion),
		serializer: serializer.JSON{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory payloads are saved in.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes payload to a new file and returns its name. Names sort in
// the order payloads were saved.
func (s *FileStore) Save(payload model.Payload) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create payload directory: %w", err)
	}

	name := strings.ToLower(ulid.Make().String()) + fileExt
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create payload file: %w", err)
	}
	if err := s.serializer.Serialize(f, payload, true); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write payload file: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("Payload saved")
	return name, nil
}

// Load reads one saved payload. The extension may be omitted.
func (s *FileStore) Load(name string) (*model.TestRun, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid payload name %q", name)
	}
	return s.load(s.Path(name))
}

// Path returns where the payload called name is saved.
func (s *FileStore) Path(name string) string {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, fileExt) {
		name += fileExt
	}
	return filepath.Join(s.dir, name)
}

func (s *FileStore) load(path string) (*model.TestRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	run, err := s.serializer.Deserialize(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}
	return run, nil
}

// LoadAll reads every saved payload, oldest first. Files that cannot be
// parsed are logged and skipped.
func (s *FileStore) LoadAll() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload directory: %w", err)
	}

	var entries []Entry
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), fileExt) {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		run, err := s.load(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to parse saved payload")
			continue
		}

		entries = append(entries, Entry{
			Name:    file.Name(),
			Path:    path,
			SavedAt: savedAt(file),
			Run:     run,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// savedAt reads the time from the file name, falling back to the
// modification time for files not written by Save.
func savedAt(file fs.DirEntry) time.Time {
	id, err := ulid.ParseStrict(strings.ToUpper(strings.TrimSuffix(file.Name(), fileExt)))
	if err == nil {
		return ulid.Time(id.Time())
	}
	if info, err := file.Info(); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// Remove deletes one saved payload.
func (s *FileStore) Remove(name string) error {
	if err := os.Remove(filepath.Join(s.dir, filepath.Base(name))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove payload: %w", err)
	}
	return nil
}

// Clear deletes every saved payload.
func (s *FileStore) Clear() error {
	files, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read payload directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), fileExt) {
			continue
		}
		if err := s.Remove(file.Name()); err != nil {
			return err
		}
	}
	return nil
}
