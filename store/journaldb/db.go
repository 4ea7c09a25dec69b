// Package journaldb persists the package cache journal in bbolt.
//
// The journal owns every CacheAge value: the counter lives in the database and
// advances once per mutating call, so recency survives restarts and never
// depends on wall-clock time.
package journaldb

import (
	"context"
	"errors"

	packagecache "github.com/wolfeidau/package-cache"
	"github.com/wolfeidau/package-cache/journal"
)

var (
	// ErrNotFound is returned when a package has no journal entry.
	ErrNotFound = errors.New("journaldb: not found")

	// ErrEntryLocked is returned when removing a package that a deployment holds.
	ErrEntryLocked = errors.New("journaldb: entry locked")
)

// Journal is the journal store used by the package store and sweeps.
type Journal interface {
	Open(path string) error
	Close() error

	RecordUsage(ctx context.Context, id journal.PackageIdentity, sizeBytes uint64, hash packagecache.Hash) (*journal.Entry, error)
	PutEntry(ctx context.Context, entry journal.Entry) error
	Get(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error)
	Snapshot(ctx context.Context) ([]journal.Entry, error)

	AcquireLock(ctx context.Context, id journal.PackageIdentity) (journal.LockHandle, error)
	ReleaseLock(ctx context.Context, id journal.PackageIdentity, handle journal.LockHandle) error
	ClearLocks(ctx context.Context) (int, error)

	RemoveUnlocked(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error)

	CacheAge(ctx context.Context) (journal.CacheAge, error)
	TotalSize(ctx context.Context) (uint64, error)
}

// New creates a Journal backed by bbolt.
func New(opts ...Option) Journal {
	return NewBoltDB(opts...)
}
