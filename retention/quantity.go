package retention

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/ordering"
)

// Quantity keeps a fixed number of package ids, and a fixed number of
// versions of each kept id, choosing the most recently used ones.
//
// A package threshold of config.KeepAll or 0 keeps every package id; a
// version threshold of 0 keeps every version. With both levels disabled the
// cleaner selects nothing.
type Quantity struct {
	settings config.Settings
	logger   *slog.Logger
}

// NewQuantity returns a quantity cleaner.
func NewQuantity(settings config.Settings, logger *slog.Logger) *Quantity {
	return &Quantity{
		settings: settings,
		logger:   loggerOrDefault(logger).With("strategy", string(config.StrategyQuantities)),
	}
}

type packageGroup struct {
	versions []journal.Entry
	last     journal.CacheAge
}

// GetPackagesToRemove implements Cleaner.
func (c *Quantity) GetPackagesToRemove(entries []journal.Entry) ([]journal.PackageIdentity, error) {
	if c.settings.Strategy != config.StrategyQuantities {
		return nil, nil
	}

	keepPackages := c.settings.QuantityOfPackagesToKeep
	keepVersions := c.settings.QuantityOfVersionsToKeep
	if keepPackages <= 0 && keepVersions <= 0 {
		c.logger.Info("no package or version quantity configured, retention disabled")
		return nil, nil
	}

	groups := groupByPackage(journal.Unlocked(entries))
	// stable, so groups with equal recency keep encounter order
	slices.SortStableFunc(groups, func(a, b *packageGroup) int {
		switch {
		case a.last > b.last:
			return -1
		case a.last < b.last:
			return 1
		default:
			return 0
		}
	})

	var remove []journal.PackageIdentity
	seen := make(map[string]struct{})
	add := func(e journal.Entry) {
		k := e.Package.Key()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		remove = append(remove, e.Package)
	}

	for i, g := range groups {
		if keepPackages > 0 && i >= keepPackages {
			for _, e := range g.versions {
				add(e)
			}
			continue
		}
		if keepVersions <= 0 || len(g.versions) <= keepVersions {
			continue
		}
		ordering.SortByRecency(g.versions)
		for _, e := range g.versions[keepVersions:] {
			add(e)
		}
	}

	if len(remove) > 0 {
		c.logger.Info("selected packages beyond configured quantities",
			"packages_to_keep", keepPackages,
			"versions_to_keep", keepVersions,
			"package_ids", len(groups),
			"packages", len(remove),
		)
	}
	return remove, nil
}

// groupByPackage groups entries by case-insensitive package id in encounter
// order.
func groupByPackage(entries []journal.Entry) []*packageGroup {
	index := make(map[string]*packageGroup)
	var groups []*packageGroup
	for _, e := range entries {
		id := strings.ToLower(e.Package.PackageID)
		g, ok := index[id]
		if !ok {
			g = &packageGroup{}
			index[id] = g
			groups = append(groups, g)
		}
		g.versions = append(g.versions, e)
		if last := e.LastUsage(); last > g.last {
			g.last = last
		}
	}
	return groups
}
