package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/journal"
)

type fakeDisk struct {
	free, total uint64
	ok          bool
	paths       []string
}

func (f *fakeDisk) GetFreeBytes(path string) (uint64, bool) {
	f.paths = append(f.paths, path)
	return f.free, f.ok
}

func (f *fakeDisk) GetTotalBytes(path string) (uint64, bool) {
	f.paths = append(f.paths, path)
	return f.total, f.ok
}

func entry(t *testing.T, id, version string, size uint64, ages ...journal.CacheAge) journal.Entry {
	t.Helper()
	p, err := journal.NewPackageIdentity(id, version)
	require.NoError(t, err)
	e := journal.Entry{Package: p, FileSizeBytes: size}
	for _, a := range ages {
		e.UsageDetails = append(e.UsageDetails, journal.UsageDetail{
			DateTime:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			CacheAgeAtUsage: a,
		})
	}
	return e
}

func locked(e journal.Entry) journal.Entry {
	e.Locks = append(e.Locks, journal.NewLockHandle())
	return e
}

func keys(ids []journal.PackageIdentity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Key()
	}
	return out
}

func fiveSized(t *testing.T) []journal.Entry {
	return []journal.Entry{
		entry(t, "Pkg", "1.0.0", 10, 1),
		entry(t, "Pkg", "2.0.0", 20, 2),
		entry(t, "Pkg", "3.0.0", 30, 3),
		entry(t, "Pkg", "4.0.0", 40, 4),
		entry(t, "Pkg", "5.0.0", 50, 5),
	}
}

func TestNew_SelectsActiveFamily(t *testing.T) {
	s := config.DefaultSettings()
	assert.IsType(t, &PercentFreeDiskSpace{}, New(s, "/cache", &fakeDisk{}, nil))

	s.Strategy = config.StrategyQuantities
	assert.IsType(t, &Quantity{}, New(s, "/cache", &fakeDisk{}, nil))
}

func TestAccumulate(t *testing.T) {
	entries := fiveSized(t)

	chosen, total := accumulate(entries, 45)
	assert.Len(t, chosen, 3)
	assert.Equal(t, uint64(60), total)

	chosen, total = accumulate(entries, 10)
	assert.Len(t, chosen, 1)
	assert.Equal(t, uint64(10), total)

	chosen, total = accumulate(entries, 1000)
	assert.Len(t, chosen, 5)
	assert.Equal(t, uint64(150), total)

	chosen, _ = accumulate(entries, 0)
	assert.Empty(t, chosen)
}

func TestInsufficientCacheSpaceError(t *testing.T) {
	var err error = &InsufficientCacheSpaceError{SpaceFound: 5, SpaceRequired: 10}
	assert.ErrorIs(t, err, ErrInsufficientCacheSpace)
	assert.Contains(t, err.Error(), "required 10 bytes, found 5")

	err = &InsufficientCacheSpaceError{SpaceRequired: 10}
	assert.Contains(t, err.Error(), "locked")
}

func TestCleanersNeverSelectLockedEntries(t *testing.T) {
	entries := []journal.Entry{
		locked(entry(t, "A", "1.0.0", 100, 1)),
		entry(t, "A", "2.0.0", 100, 2),
		locked(entry(t, "B", "1.0.0", 100, 3)),
		entry(t, "C", "1.0.0", 100, 4),
		locked(entry(t, "C", "2.0.0", 100)),
		entry(t, "D", "1.0.0", 100),
	}
	lockedKeys := map[string]bool{}
	for _, e := range entries {
		if e.HasLock() {
			lockedKeys[e.Package.Key()] = true
		}
	}

	freeSpace := config.DefaultSettings()
	freeSpace.Ordering = config.OrderingLeastFrequentlyUsed
	quantities := config.DefaultSettings()
	quantities.Strategy = config.StrategyQuantities
	quantities.QuantityOfPackagesToKeep = 1
	quantities.QuantityOfVersionsToKeep = 1

	cleaners := map[string]Cleaner{
		"free space": New(freeSpace, "/cache", &fakeDisk{free: 0, total: 10_000, ok: true}, nil),
		"quantities": New(quantities, "/cache", nil, nil),
	}
	for name, c := range cleaners {
		t.Run(name, func(t *testing.T) {
			got, err := c.GetPackagesToRemove(entries)
			require.NoError(t, err)
			require.NotEmpty(t, got)
			for _, k := range keys(got) {
				assert.False(t, lockedKeys[k], "locked entry %s selected", k)
			}
		})
	}

	for name, c := range map[string]*RequiredSpace{"fifo": NewFirstInFirstOut(), "lfu": NewLeastFrequentlyUsed(freeSpace.Factors())} {
		t.Run(name, func(t *testing.T) {
			got, err := c.GetPackagesToRemove(entries, 300)
			require.NoError(t, err)
			assert.Len(t, got, 3)
			for _, k := range keys(got) {
				assert.False(t, lockedKeys[k], "locked entry %s selected", k)
			}
		})
	}
}
