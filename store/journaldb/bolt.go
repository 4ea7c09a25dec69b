package journaldb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	packagecache "github.com/wolfeidau/package-cache"
	"github.com/wolfeidau/package-cache/journal"
)

// BoltDB implements Journal using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	codec  *Codec
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// Option configures a BoltDB instance.
type Option func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the clock used for UsageDetail.DateTime.
func WithNow(now func() time.Time) Option {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: risks data loss on crash. Use only for tests.
func WithNoSync(noSync bool) Option {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...Option) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the journal at path, creating it if needed.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	codec, err := NewCodec()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating journal codec: %w", err)
	}
	b.codec = codec

	b.logger.Debug("opened journal", "path", path, "no_sync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.codec != nil {
		b.codec.Close()
		b.codec = nil
	}
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing journal")
	err := b.db.Close()
	b.db = nil
	return err
}

// RecordUsage advances the cache age and appends a usage to the entry for id,
// creating the entry if it does not exist. sizeBytes and a non-zero hash
// replace the stored values.
func (b *BoltDB) RecordUsage(_ context.Context, id journal.PackageIdentity, sizeBytes uint64, hash packagecache.Hash) (*journal.Entry, error) {
	var out *journal.Entry
	err := b.db.Update(func(tx *bbolt.Tx) error {
		age, err := b.advanceCacheAge(tx)
		if err != nil {
			return err
		}

		bucket := tx.Bucket(bucketEntries)
		e, err := b.getEntry(bucket, id)
		switch {
		case errors.Is(err, ErrNotFound):
			e = &journal.Entry{Package: id}
		case err != nil:
			return err
		}

		e.FileSizeBytes = sizeBytes
		if !hash.IsZero() {
			e.Hash = hash
		}
		e.UsageDetails = append(e.UsageDetails, journal.UsageDetail{
			DateTime:        b.now().UTC(),
			CacheAgeAtUsage: age,
		})

		if err := b.putEntry(bucket, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording usage of %s: %w", id, err)
	}
	return out, nil
}

// PutEntry stores entry as given. The cache age is raised to at least the
// entry's latest usage so later usages still sort after it.
func (b *BoltDB) PutEntry(_ context.Context, entry journal.Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		state := tx.Bucket(bucketState)
		if last := entry.LastUsage(); last > decodeCacheAge(state.Get(keyCacheAge)) {
			if err := state.Put(keyCacheAge, encodeCacheAge(last)); err != nil {
				return fmt.Errorf("putting cache age: %w", err)
			}
		}
		return b.putEntry(tx.Bucket(bucketEntries), &entry)
	})
}

// Get returns the entry for id.
func (b *BoltDB) Get(_ context.Context, id journal.PackageIdentity) (*journal.Entry, error) {
	var out *journal.Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		e, err := b.getEntry(tx.Bucket(bucketEntries), id)
		out = e
		return err
	})
	return out, err
}

// Snapshot returns every entry ordered by key. The result is a copy and does
// not change when the journal does.
func (b *BoltDB) Snapshot(_ context.Context) ([]journal.Entry, error) {
	var entries []journal.Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			e, err := b.codec.Decode(v)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			entries = append(entries, *e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AcquireLock marks id as in use by a deployment and returns the handle that
// releases it.
func (b *BoltDB) AcquireLock(ctx context.Context, id journal.PackageIdentity) (journal.LockHandle, error) {
	handle := journal.NewLockHandle()
	err := b.update(id, func(e *journal.Entry) error {
		e.Locks = append(e.Locks, handle)
		return nil
	})
	if err != nil {
		return "", err
	}
	b.logger.DebugContext(ctx, "acquired package lock", "package", id.String(), "lock", handle)
	return handle, nil
}

// ReleaseLock removes handle from id. Releasing an unknown handle, or a lock
// on a package that no longer exists, is not an error.
func (b *BoltDB) ReleaseLock(ctx context.Context, id journal.PackageIdentity, handle journal.LockHandle) error {
	err := b.update(id, func(e *journal.Entry) error {
		e.Locks = slices.DeleteFunc(e.Locks, func(l journal.LockHandle) bool { return l == handle })
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b.logger.DebugContext(ctx, "released package lock", "package", id.String(), "lock", handle)
	return nil
}

// ClearLocks drops every lock. Call it at startup, before any deployment can
// hold a lock, to discard locks left by a process that exited uncleanly.
func (b *BoltDB) ClearLocks(ctx context.Context) (int, error) {
	cleared := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		var stale []*journal.Entry
		err := bucket.ForEach(func(k, v []byte) error {
			e, err := b.codec.Decode(v)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			if e.HasLock() {
				stale = append(stale, e)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids writes during ForEach
		for _, e := range stale {
			cleared += len(e.Locks)
			e.Locks = nil
			if err := b.putEntry(bucket, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		b.logger.InfoContext(ctx, "cleared stale package locks", "locks", cleared)
	}
	return cleared, nil
}

// RemoveUnlocked deletes the entry for id if no deployment holds it. The lock
// check and delete happen in one transaction, so a package selected for
// eviction that has since been locked is never removed.
func (b *BoltDB) RemoveUnlocked(ctx context.Context, id journal.PackageIdentity) (*journal.Entry, error) {
	var removed *journal.Entry
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		e, err := b.getEntry(bucket, id)
		if err != nil {
			return err
		}
		if e.HasLock() {
			return ErrEntryLocked
		}
		if err := bucket.Delete(entryKey(id)); err != nil {
			return fmt.Errorf("deleting entry: %w", err)
		}
		if _, err := b.advanceCacheAge(tx); err != nil {
			return err
		}
		removed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "removed journal entry", "package", id.String(), "size_bytes", removed.FileSizeBytes)
	return removed, nil
}

// CacheAge returns the current value of the cache age counter.
func (b *BoltDB) CacheAge(_ context.Context) (journal.CacheAge, error) {
	var age journal.CacheAge
	err := b.db.View(func(tx *bbolt.Tx) error {
		age = decodeCacheAge(tx.Bucket(bucketState).Get(keyCacheAge))
		return nil
	})
	return age, err
}

// TotalSize returns the sum of FileSizeBytes over every entry.
func (b *BoltDB) TotalSize(ctx context.Context) (uint64, error) {
	entries, err := b.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return journal.TotalSize(entries), nil
}

// update applies fn to the stored entry for id.
func (b *BoltDB) update(id journal.PackageIdentity, fn func(*journal.Entry) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		e, err := b.getEntry(bucket, id)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		return b.putEntry(bucket, e)
	})
}

func (b *BoltDB) advanceCacheAge(tx *bbolt.Tx) (journal.CacheAge, error) {
	state := tx.Bucket(bucketState)
	age := decodeCacheAge(state.Get(keyCacheAge)) + 1
	if err := state.Put(keyCacheAge, encodeCacheAge(age)); err != nil {
		return 0, fmt.Errorf("putting cache age: %w", err)
	}
	return age, nil
}

func (b *BoltDB) getEntry(bucket *bbolt.Bucket, id journal.PackageIdentity) (*journal.Entry, error) {
	v := bucket.Get(entryKey(id))
	if v == nil {
		return nil, ErrNotFound
	}
	e, err := b.codec.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id.Key(), err)
	}
	return e, nil
}

func (b *BoltDB) putEntry(bucket *bbolt.Bucket, e *journal.Entry) error {
	data, err := b.codec.Encode(e)
	if err != nil {
		return err
	}
	if err := bucket.Put(entryKey(e.Package), data); err != nil {
		return fmt.Errorf("putting entry: %w", err)
	}
	return nil
}

var _ Journal = (*BoltDB)(nil)
