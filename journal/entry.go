package journal

import (
	"time"

	"github.com/google/uuid"

	packagecache "github.com/wolfeidau/package-cache"
)

// CacheAge is a logical clock incremented once per cache-mutating operation.
// Ages are compared by value only; they carry no wall-clock meaning.
type CacheAge int64

// NeverUsed is the age reported for entries without usage records. It orders
// before every real usage, so unused entries are the first to be evicted.
const NeverUsed CacheAge = 0

// UsageDetail records one deployment consuming a cached package.
type UsageDetail struct {
	// DateTime is informational only; ordering uses CacheAgeAtUsage.
	DateTime        time.Time `json:"date_time"`
	CacheAgeAtUsage CacheAge  `json:"cache_age_at_usage"`
}

// LockHandle marks an in-flight deployment reading a package from disk.
type LockHandle string

// NewLockHandle returns a unique lock handle.
func NewLockHandle() LockHandle {
	return LockHandle(uuid.NewString())
}

// Entry is one cached package with its size, locks and usage history.
type Entry struct {
	Package       PackageIdentity   `json:"package"`
	FileSizeBytes uint64            `json:"file_size_bytes"`
	Hash          packagecache.Hash `json:"hash,omitzero"`
	Locks         []LockHandle      `json:"locks,omitempty"`
	UsageDetails  []UsageDetail     `json:"usage_details"`
}

// HasLock reports whether any deployment currently holds the package.
// Locked entries are never eviction candidates.
func (e Entry) HasLock() bool {
	return len(e.Locks) > 0
}

// HitCount is the number of recorded usages.
func (e Entry) HitCount() int {
	return len(e.UsageDetails)
}

// FirstUsage returns the smallest CacheAgeAtUsage, or NeverUsed.
func (e Entry) FirstUsage() CacheAge {
	if len(e.UsageDetails) == 0 {
		return NeverUsed
	}
	first := e.UsageDetails[0].CacheAgeAtUsage
	for _, u := range e.UsageDetails[1:] {
		if u.CacheAgeAtUsage < first {
			first = u.CacheAgeAtUsage
		}
	}
	return first
}

// LastUsage returns the largest CacheAgeAtUsage, or NeverUsed.
func (e Entry) LastUsage() CacheAge {
	var last CacheAge
	for _, u := range e.UsageDetails {
		if u.CacheAgeAtUsage > last {
			last = u.CacheAgeAtUsage
		}
	}
	return last
}

// HoldsLock reports whether handle is among the entry's locks.
func (e Entry) HoldsLock(handle LockHandle) bool {
	for _, l := range e.Locks {
		if l == handle {
			return true
		}
	}
	return false
}

// Unlocked returns the entries without locks, preserving order.
func Unlocked(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.HasLock() {
			out = append(out, e)
		}
	}
	return out
}

// Identities returns the package identities of entries in order.
func Identities(entries []Entry) []PackageIdentity {
	ids := make([]PackageIdentity, len(entries))
	for i, e := range entries {
		ids[i] = e.Package
	}
	return ids
}

// TotalSize sums FileSizeBytes over entries.
func TotalSize(entries []Entry) uint64 {
	var total uint64
	for _, e := range entries {
		total += e.FileSizeBytes
	}
	return total
}
