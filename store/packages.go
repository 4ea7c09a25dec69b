package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	packagecache "github.com/wolfeidau/package-cache"
	"github.com/wolfeidau/package-cache/backend"
	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/store/journaldb"
	"github.com/wolfeidau/package-cache/telemetry"
)

// PackageStore admits, serves and deletes cached package files.
type PackageStore struct {
	backend backend.Backend
	journal Journal
	logger  *slog.Logger
}

// Option configures a PackageStore.
type Option func(*PackageStore)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *PackageStore) {
		s.logger = logger
	}
}

// NewPackageStore creates a package store over b, recording use in j.
func NewPackageStore(b backend.Backend, j Journal, opts ...Option) *PackageStore {
	s := &PackageStore{backend: b, journal: j, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "package_store")
	return s
}

// Backend returns the underlying backend.
func (s *PackageStore) Backend() backend.Backend {
	return s.backend
}

// Put writes the package file read from r and records a usage of it.
func (s *PackageStore) Put(ctx context.Context, id journal.PackageIdentity, r io.Reader) (*journal.Entry, error) {
	key, err := Key(id)
	if err != nil {
		return nil, err
	}

	_, statErr := s.backend.Stat(ctx, key)
	isNew := errors.Is(statErr, backend.ErrNotFound)

	hr := packagecache.NewHashingReader(r)
	n, err := s.backend.Write(ctx, key, hr)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", id, err)
	}

	entry, err := s.journal.RecordUsage(ctx, id, uint64(n), hr.Sum()) //nolint:gosec // byte counts are never negative
	if err != nil {
		return nil, err
	}
	telemetry.RecordPackageAdmission(ctx, n, isNew)

	s.logger.InfoContext(ctx, "stored package",
		"package", id.String(),
		"size_bytes", n,
		"hash", entry.Hash.ShortString(),
		"new", isNew,
	)
	return entry, nil
}

// Use records a deployment reusing a package that is already cached.
func (s *PackageStore) Use(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error) {
	existing, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := s.journal.RecordUsage(ctx, id, existing.FileSizeBytes, existing.Hash)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "package reused", "package", id.String(), "hits", entry.HitCount())
	return entry, nil
}

// Open locks id in the journal and opens its file. The lock is released when
// the returned reader is closed; until then sweeps will not delete the file.
func (s *PackageStore) Open(ctx context.Context, id journal.PackageIdentity) (io.ReadCloser, error) {
	key, err := Key(id)
	if err != nil {
		return nil, err
	}

	handle, err := s.journal.AcquireLock(ctx, id)
	if err != nil {
		telemetry.RecordPackageLock(ctx, "acquire", "error")
		if errors.Is(err, journaldb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("locking %s: %w", id, err)
	}
	telemetry.RecordPackageLock(ctx, "acquire", "success")

	rc, err := s.backend.Read(ctx, key)
	if err != nil {
		s.release(ctx, id, handle)
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s file missing", ErrNotFound, id)
		}
		return nil, fmt.Errorf("opening %s: %w", id, err)
	}

	return &lockedReader{ReadCloser: rc, release: func() {
		s.release(context.WithoutCancel(ctx), id, handle)
	}}, nil
}

// Delete removes id from the journal and then deletes its file, returning
// the bytes reclaimed. The journal removal re-checks locks, so a package
// locked since it was selected is left alone and journaldb.ErrEntryLocked
// is returned.
func (s *PackageStore) Delete(ctx context.Context, id journal.PackageIdentity) (uint64, error) {
	key, err := Key(id)
	if err != nil {
		return 0, err
	}

	removed, err := s.journal.RemoveUnlocked(ctx, id)
	switch {
	case errors.Is(err, journaldb.ErrNotFound):
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return 0, err
	}

	if err := s.backend.Delete(ctx, key); err != nil {
		return 0, fmt.Errorf("deleting %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "deleted package", "package", id.String(), "size_bytes", removed.FileSizeBytes)
	return removed.FileSizeBytes, nil
}

func (s *PackageStore) get(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error) {
	e, err := s.journal.Get(ctx, id)
	if errors.Is(err, journaldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

func (s *PackageStore) release(ctx context.Context, id journal.PackageIdentity, handle journal.LockHandle) {
	if err := s.journal.ReleaseLock(ctx, id, handle); err != nil {
		telemetry.RecordPackageLock(ctx, "release", "error")
		s.logger.WarnContext(ctx, "releasing package lock failed", "package", id.String(), "error", err)
		return
	}
	telemetry.RecordPackageLock(ctx, "release", "success")
}

// lockedReader releases its journal lock once, on the first Close.
type lockedReader struct {
	io.ReadCloser
	release func()
}

func (r *lockedReader) Close() error {
	err := r.ReadCloser.Close()
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return err
}
