package retention

import (
	"log/slog"

	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/disk"
	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/ordering"
)

// PercentFreeDiskSpace keeps a percentage of the cache filesystem free.
// When the filesystem runs short it evicts enough packages to restore the
// target plus a buffer. If every unlocked package together is not enough it
// returns all of them; the next pass sees whatever pressure remains.
type PercentFreeDiskSpace struct {
	settings  config.Settings
	cacheRoot string
	stats     disk.StatProvider
	sorter    ordering.Sorter
	logger    *slog.Logger
}

// NewPercentFreeDiskSpace returns a free-space cleaner that queries stats for
// cacheRoot.
func NewPercentFreeDiskSpace(settings config.Settings, cacheRoot string, stats disk.StatProvider, logger *slog.Logger) *PercentFreeDiskSpace {
	return &PercentFreeDiskSpace{
		settings:  settings,
		cacheRoot: cacheRoot,
		stats:     stats,
		sorter:    settings.Sorter(),
		logger:    loggerOrDefault(logger).With("strategy", string(config.StrategyFreeSpace)),
	}
}

// SpaceToFree returns how many bytes must be reclaimed to restore the free
// space target including the buffer. ok is false when disk statistics are
// unavailable.
func (c *PercentFreeDiskSpace) SpaceToFree() (bytes uint64, ok bool) {
	total, ok := c.stats.GetTotalBytes(c.cacheRoot)
	if !ok {
		return 0, false
	}
	free, ok := c.stats.GetFreeBytes(c.cacheRoot)
	if !ok {
		return 0, false
	}
	return spaceToFree(total, free, c.settings.PercentFreeDiskSpace, c.settings.BufferPercent), true
}

// GetPackagesToRemove implements Cleaner.
func (c *PercentFreeDiskSpace) GetPackagesToRemove(entries []journal.Entry) ([]journal.PackageIdentity, error) {
	if c.settings.Strategy != config.StrategyFreeSpace {
		return nil, nil
	}

	need, ok := c.SpaceToFree()
	if !ok {
		c.logger.Warn("disk statistics unavailable, skipping retention", "cache_root", c.cacheRoot)
		return nil, nil
	}
	if need == 0 {
		c.logger.Debug("free space target met", "cache_root", c.cacheRoot)
		return nil, nil
	}

	chosen, found := accumulate(c.sorter.Order(entries), need)
	if found < need {
		c.logger.Warn("not enough unlocked packages to reach free space target",
			"bytes_to_free", need,
			"bytes_found", found,
			"packages", len(chosen),
		)
	} else {
		c.logger.Info("selected packages to restore free space",
			"bytes_to_free", need,
			"bytes_found", found,
			"packages", len(chosen),
		)
	}
	return journal.Identities(chosen), nil
}

// spaceToFree is zero when free already meets the target.
func spaceToFree(total, free uint64, percent, buffer int) uint64 {
	desired := total * uint64(percent) / 100 //nolint:gosec // validated by config.Load
	if free >= desired {
		return 0
	}
	return (desired - free) * uint64(100+buffer) / 100 //nolint:gosec // validated by config.Load
}
