package journaldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/package-cache/journal"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCodec_SmallEntryUncompressed(t *testing.T) {
	c := newTestCodec(t)
	e := &journal.Entry{Package: mustIdentity(t, "Small", "1.0.0"), FileSizeBytes: 3}

	b, err := c.Encode(e)
	require.NoError(t, err)
	assert.Equal(t, encodingIdentity, b[0])

	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.True(t, got.Package.Equal(e.Package))
	assert.Equal(t, e.FileSizeBytes, got.FileSizeBytes)
}

func TestCodec_LargeEntryCompressed(t *testing.T) {
	c := newTestCodec(t)
	e := &journal.Entry{Package: mustIdentity(t, "Large", "1.0.0"), FileSizeBytes: 1 << 30}
	for i := range 200 {
		e.UsageDetails = append(e.UsageDetails, journal.UsageDetail{
			DateTime:        time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
			CacheAgeAtUsage: journal.CacheAge(i + 1),
		})
	}

	b, err := c.Encode(e)
	require.NoError(t, err)
	assert.Equal(t, encodingZstd, b[0])

	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.Len(t, got.UsageDetails, 200)
	assert.Equal(t, journal.CacheAge(200), got.LastUsage())
}

func TestCodec_Corrupted(t *testing.T) {
	c := newTestCodec(t)

	tests := map[string][]byte{
		"empty":            nil,
		"unknown encoding": {9, '{', '}'},
		"bad json":         append([]byte{encodingIdentity}, "not json"...),
		"bad zstd":         append([]byte{encodingZstd}, "not zstd"...),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(b)
			require.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestCacheAgeEncoding(t *testing.T) {
	assert.Equal(t, journal.CacheAge(0), decodeCacheAge(nil))
	assert.Equal(t, journal.CacheAge(987654321), decodeCacheAge(encodeCacheAge(987654321)))
}
