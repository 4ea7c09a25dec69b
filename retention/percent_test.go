package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/journal"
)

func TestSpaceToFree(t *testing.T) {
	tests := []struct {
		name         string
		total, free  uint64
		percent, buf int
		want         uint64
	}{
		{name: "target met", total: 1000, free: 200, percent: 20, buf: 30, want: 0},
		{name: "above target", total: 1000, free: 900, percent: 20, buf: 30, want: 0},
		{name: "short with buffer", total: 1000, free: 100, percent: 20, buf: 30, want: 130},
		{name: "short without buffer", total: 1000, free: 150, percent: 20, buf: 0, want: 50},
		{name: "zero percent", total: 1000, free: 0, percent: 0, buf: 30, want: 0},
		{name: "disk full", total: 1000, free: 0, percent: 100, buf: 100, want: 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spaceToFree(tt.total, tt.free, tt.percent, tt.buf))
		})
	}
}

func TestPercentFreeDiskSpace_NoPressure(t *testing.T) {
	stats := &fakeDisk{free: 300, total: 1000, ok: true}
	c := NewPercentFreeDiskSpace(config.DefaultSettings(), "/var/cache/packages", stats, nil)

	got, err := c.GetPackagesToRemove(fiveSized(t))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Contains(t, stats.paths, "/var/cache/packages")
}

func TestPercentFreeDiskSpace_UnknownDiskSkips(t *testing.T) {
	c := NewPercentFreeDiskSpace(config.DefaultSettings(), "/cache", &fakeDisk{ok: false}, nil)

	got, err := c.GetPackagesToRemove(fiveSized(t))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok := c.SpaceToFree()
	assert.False(t, ok)
}

func TestPercentFreeDiskSpace_EvictsOldestFirst(t *testing.T) {
	// desired 200, free 165, short 35, plus 30% buffer = 45
	stats := &fakeDisk{free: 165, total: 1000, ok: true}
	c := NewPercentFreeDiskSpace(config.DefaultSettings(), "/cache", stats, nil)

	need, ok := c.SpaceToFree()
	require.True(t, ok)
	assert.Equal(t, uint64(45), need)

	got, err := c.GetPackagesToRemove(fiveSized(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg@1.0.0", "pkg@2.0.0", "pkg@3.0.0"}, keys(got))
}

func TestPercentFreeDiskSpace_ReturnsPartialSet(t *testing.T) {
	stats := &fakeDisk{free: 0, total: 100_000, ok: true}
	c := NewPercentFreeDiskSpace(config.DefaultSettings(), "/cache", stats, nil)

	entries := append(fiveSized(t), locked(entry(t, "Busy", "1.0.0", 10_000, 1)))
	got, err := c.GetPackagesToRemove(entries)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.NotContains(t, keys(got), "busy@1.0.0")
}

func TestPercentFreeDiskSpace_LeastFrequentlyUsedOrdering(t *testing.T) {
	s := config.DefaultSettings()
	s.Ordering = config.OrderingLeastFrequentlyUsed
	stats := &fakeDisk{free: 190, total: 1000, ok: true}

	entries := []journal.Entry{
		entry(t, "Busy", "1.0.0", 50, 1, 2, 3, 4, 5, 6, 7, 8),
		entry(t, "Idle", "1.0.0", 50, 2),
	}
	got, err := NewPercentFreeDiskSpace(s, "/cache", stats, nil).GetPackagesToRemove(entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"idle@1.0.0"}, keys(got))
}

func TestPercentFreeDiskSpace_InactiveStrategy(t *testing.T) {
	s := config.DefaultSettings()
	s.Strategy = config.StrategyQuantities
	stats := &fakeDisk{free: 0, total: 1000, ok: true}

	got, err := NewPercentFreeDiskSpace(s, "/cache", stats, nil).GetPackagesToRemove(fiveSized(t))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, stats.paths, "disk must not be queried for an inactive strategy")
}

func TestPercentFreeDiskSpace_Idempotent(t *testing.T) {
	stats := &fakeDisk{free: 100, total: 1000, ok: true}
	c := NewPercentFreeDiskSpace(config.DefaultSettings(), "/cache", stats, nil)
	entries := fiveSized(t)

	first, err := c.GetPackagesToRemove(entries)
	require.NoError(t, err)
	second, err := c.GetPackagesToRemove(entries)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
