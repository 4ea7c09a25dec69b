// Package retention selects which cached packages to evict.
//
// Every algorithm works on an in-memory journal snapshot supplied by the
// caller, never returns a locked entry, and returns the same result for the
// same snapshot and settings. Deleting the selected packages, and re-checking
// their locks right before doing so, is the caller's job.
package retention

import (
	"log/slog"

	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/disk"
	"github.com/wolfeidau/package-cache/journal"
)

// Cleaner selects the packages a periodic retention pass should remove.
type Cleaner interface {
	GetPackagesToRemove(entries []journal.Entry) ([]journal.PackageIdentity, error)
}

// New returns the cleaner for the active strategy in settings. The inactive
// family is never constructed.
func New(settings config.Settings, cacheRoot string, stats disk.StatProvider, logger *slog.Logger) Cleaner {
	if settings.Strategy == config.StrategyQuantities {
		return NewQuantity(settings, logger)
	}
	return NewPercentFreeDiskSpace(settings, cacheRoot, stats, logger)
}

// accumulate takes ranked entries from the front until their total size
// reaches target. It returns the chosen entries and their total size.
func accumulate(ranked []journal.Entry, target uint64) ([]journal.Entry, uint64) {
	var total uint64
	for i, e := range ranked {
		if total >= target {
			return ranked[:i], total
		}
		total += e.FileSizeBytes
	}
	return ranked, total
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "retention")
}

var (
	_ Cleaner = (*PercentFreeDiskSpace)(nil)
	_ Cleaner = (*Quantity)(nil)
)
