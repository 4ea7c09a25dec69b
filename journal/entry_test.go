package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	packagecache "github.com/wolfeidau/package-cache"
)

func mustIdentity(t *testing.T, id, version string) PackageIdentity {
	t.Helper()
	p, err := NewPackageIdentity(id, version)
	require.NoError(t, err)
	return p
}

func usages(ages ...CacheAge) []UsageDetail {
	out := make([]UsageDetail, len(ages))
	for i, a := range ages {
		out[i] = UsageDetail{DateTime: time.Unix(int64(a), 0).UTC(), CacheAgeAtUsage: a}
	}
	return out
}

func TestPackageIdentity(t *testing.T) {
	t.Run("versions are normalised", func(t *testing.T) {
		a := mustIdentity(t, "Acme.Web", "1.0")
		b := mustIdentity(t, "acme.web", "1.0.0")
		assert.True(t, a.Equal(b))
		assert.Equal(t, "acme.web@1.0.0", a.Key())
	})

	t.Run("different versions differ", func(t *testing.T) {
		a := mustIdentity(t, "Acme.Web", "1.0.0")
		b := mustIdentity(t, "Acme.Web", "1.0.1")
		assert.False(t, a.Equal(b))
		assert.True(t, a.SamePackage(b))
		assert.True(t, b.NewerThan(a))
		assert.False(t, a.NewerThan(b))
	})

	t.Run("other packages are never newer", func(t *testing.T) {
		a := mustIdentity(t, "Acme.Web", "1.0.0")
		b := mustIdentity(t, "Acme.Api", "9.0.0")
		assert.False(t, b.NewerThan(a))
	})

	t.Run("prerelease orders before release", func(t *testing.T) {
		pre := mustIdentity(t, "Acme.Web", "2.0.0-beta.1")
		rel := mustIdentity(t, "Acme.Web", "2.0.0")
		assert.True(t, rel.NewerThan(pre))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := NewPackageIdentity("", "1.0.0")
		require.ErrorIs(t, err, ErrInvalidIdentity)

		_, err = NewPackageIdentity("Acme.Web", "not-a-version")
		require.ErrorIs(t, err, ErrInvalidIdentity)
	})

	t.Run("ParseKey round-trips Key", func(t *testing.T) {
		a := mustIdentity(t, "Acme.Web", "3.2.1-rc.1")
		b, err := ParseKey(a.Key())
		require.NoError(t, err)
		assert.True(t, a.Equal(b))

		_, err = ParseKey("missing-separator")
		require.ErrorIs(t, err, ErrInvalidIdentity)
	})
}

func TestEntryAccessors(t *testing.T) {
	e := Entry{
		Package:      mustIdentity(t, "Acme.Web", "1.0.0"),
		UsageDetails: usages(7, 3, 12, 5),
	}

	assert.Equal(t, 4, e.HitCount())
	assert.Equal(t, CacheAge(3), e.FirstUsage())
	assert.Equal(t, CacheAge(12), e.LastUsage())
	assert.False(t, e.HasLock())

	handle := NewLockHandle()
	e.Locks = append(e.Locks, handle)
	assert.True(t, e.HasLock())
	assert.True(t, e.HoldsLock(handle))
	assert.False(t, e.HoldsLock(NewLockHandle()))
}

func TestEntryWithoutUsage(t *testing.T) {
	e := Entry{Package: mustIdentity(t, "Acme.Web", "1.0.0")}

	assert.Equal(t, 0, e.HitCount())
	assert.Equal(t, NeverUsed, e.FirstUsage())
	assert.Equal(t, NeverUsed, e.LastUsage())
}

func TestUnlocked(t *testing.T) {
	entries := []Entry{
		{Package: mustIdentity(t, "A", "1.0.0"), FileSizeBytes: 10},
		{Package: mustIdentity(t, "B", "1.0.0"), FileSizeBytes: 20, Locks: []LockHandle{NewLockHandle()}},
		{Package: mustIdentity(t, "C", "1.0.0"), FileSizeBytes: 30},
	}

	unlocked := Unlocked(entries)
	require.Len(t, unlocked, 2)
	assert.Equal(t, "A", unlocked[0].Package.PackageID)
	assert.Equal(t, "C", unlocked[1].Package.PackageID)
	assert.Equal(t, uint64(40), TotalSize(unlocked))
	assert.Len(t, Identities(entries), 3)
}

func TestEntryJSON(t *testing.T) {
	in := Entry{
		Package:       mustIdentity(t, "Acme.Web", "1.2.3"),
		FileSizeBytes: 4096,
		Hash:          packagecache.HashBytes([]byte("acme")),
		Locks:         []LockHandle{NewLockHandle()},
		UsageDetails:  usages(1, 2),
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Entry
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Package.Equal(out.Package))
	assert.Equal(t, in.FileSizeBytes, out.FileSizeBytes)
	assert.Equal(t, in.Hash, out.Hash)
	assert.Equal(t, in.Locks, out.Locks)
	assert.Equal(t, in.UsageDetails, out.UsageDetails)
}
