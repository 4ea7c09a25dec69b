package journaldb

import (
	"encoding/binary"

	"github.com/wolfeidau/package-cache/journal"
)

// Bucket names for bbolt storage.
var (
	bucketEntries = []byte("entries") // lower(id)@version -> encoded journal.Entry
	bucketState   = []byte("state")   // named counters

	keyCacheAge = []byte("cache_age") // 8-byte big-endian journal.CacheAge
)

func entryKey(id journal.PackageIdentity) []byte {
	return []byte(id.Key())
}

func encodeCacheAge(age journal.CacheAge) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(age)) //nolint:gosec // ages are never negative
	return buf
}

func decodeCacheAge(b []byte) journal.CacheAge {
	if len(b) < 8 {
		return journal.NeverUsed
	}
	return journal.CacheAge(binary.BigEndian.Uint64(b[:8])) //nolint:gosec // written by encodeCacheAge
}
