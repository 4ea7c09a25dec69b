// Package store keeps deployment package files on a backend and records their
// use in the journal.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	packagecache "github.com/wolfeidau/package-cache"
	"github.com/wolfeidau/package-cache/journal"
)

// Prefix is the backend key prefix under which package files live.
const Prefix = "packages"

// ErrNotFound is returned when a package is not in the cache.
var ErrNotFound = errors.New("package not found")

// Journal is the part of the journal store the package store needs.
type Journal interface {
	RecordUsage(ctx context.Context, id journal.PackageIdentity, sizeBytes uint64, hash packagecache.Hash) (*journal.Entry, error)
	Get(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error)
	AcquireLock(ctx context.Context, id journal.PackageIdentity) (journal.LockHandle, error)
	ReleaseLock(ctx context.Context, id journal.PackageIdentity, handle journal.LockHandle) error
	RemoveUnlocked(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error)
}

// Key returns the backend key for id: packages/<lower id>/<version>.pkg.
func Key(id journal.PackageIdentity) (string, error) {
	pid := strings.ToLower(id.PackageID)
	if pid == "" || pid == "." || pid == ".." || strings.ContainsAny(pid, `/\`) || id.Version == nil {
		return "", fmt.Errorf("%w: cannot store %q", journal.ErrInvalidIdentity, id.PackageID)
	}
	return Prefix + "/" + pid + "/" + id.Version.String() + ".pkg", nil
}

// Keys returns the backend keys referenced by entries. Entries whose identity
// cannot be stored are skipped.
func Keys(entries []journal.Entry) map[string]struct{} {
	keys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if k, err := Key(e.Package); err == nil {
			keys[k] = struct{}{}
		}
	}
	return keys
}
