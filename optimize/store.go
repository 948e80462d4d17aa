// Package optimize reduces payloads by pruning the descriptive fields of
// test results the server already knows about.
//
// A Store remembers the last footprint seen for each test. Its lifecycle is
// Start, any number of TestHasChanged / StoreTestFootprint pairs, then Stop.
// Implementations must fail safe: when a store cannot answer TestHasChanged
// it returns an error and the optimizer treats the test as changed.
package optimize

import (
	"errors"
)

var (
	ErrStoreNotStarted   = errors.New("optimizer store is not started")
	ErrUnknownStore      = errors.New("unknown optimizer store")
	ErrUnexpectedPayload = errors.New("the payload given is not the one that is expected")
	ErrNilStore          = errors.New("the optimizer store cannot be nil")
)

// StoreConfig carries what a store needs to prepare its storage.
type StoreConfig struct {
	// Root directory for persisted caches
	CacheDir string
	// API URL of the selected server, isolates caches between servers
	ServerURL string
}

// Store records test footprints per project and version.
type Store interface {
	// Start prepares the underlying storage. Calling it twice without Stop
	// in between is a no-op.
	Start(cfg StoreConfig) error

	// Stop ends the store lifecycle. State is written to durable storage
	// only when persist is true, otherwise it is discarded. Persistence
	// failures are logged, never returned.
	Stop(persist bool)

	// TestHasChanged reports whether footprint differs from the recorded
	// one. It is true when nothing is recorded or footprint is empty.
	TestHasChanged(project, version, key, footprint string) (bool, error)

	// StoreTestFootprint overwrites the recorded footprint.
	StoreTestFootprint(project, version, key, footprint string) error
}

// Coordinate addresses one recorded footprint.
type Coordinate struct {
	Project string
	Version string
	Key     string
}

// ProjectVersion identifies one cache partition.
type ProjectVersion struct {
	Project string
	Version string
}
