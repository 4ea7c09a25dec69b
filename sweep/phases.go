package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/package-cache/backend"
	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/retention"
	"github.com/wolfeidau/package-cache/store"
	"github.com/wolfeidau/package-cache/store/journaldb"
	"github.com/wolfeidau/package-cache/telemetry"
)

// phaseRetention deletes the packages selected by the active strategy.
func (m *Manager) phaseRetention(ctx context.Context, result *Result) {
	m.logger.DebugContext(ctx, "phase: retention")

	settings, err := config.Load(m.vars)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load settings: %v", err))
		m.logger.ErrorContext(ctx, "invalid retention settings, skipping retention", "error", err)
		return
	}
	result.Strategy = settings.Strategy

	entries, err := m.journal.Snapshot(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("snapshot journal: %v", err))
		m.logger.ErrorContext(ctx, "failed to snapshot journal", "error", err)
		return
	}

	cleaner := retention.New(settings, m.config.CacheRoot, m.stats, m.logger)
	ids, err := cleaner.GetPackagesToRemove(entries)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("select packages: %v", err))
		m.logger.ErrorContext(ctx, "failed to select packages", "error", err)
		return
	}

	m.evict(ctx, ids, result)
}

// evict deletes ids, counting packages locked since selection as skipped.
func (m *Manager) evict(ctx context.Context, ids []journal.PackageIdentity, result *Result) {
	result.Candidates = len(ids)
	for _, id := range ids {
		result.Selected = append(result.Selected, id.Key())
	}

	if m.config.DryRun {
		m.logger.InfoContext(ctx, "dry run, not deleting packages", "candidates", len(ids))
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		freed, err := m.packages.Delete(ctx, id)
		switch {
		case errors.Is(err, journaldb.ErrEntryLocked):
			result.LockedSkipped++
			m.logger.InfoContext(ctx, "package locked since selection, keeping it", "package", id.String())
			continue
		case errors.Is(err, store.ErrNotFound):
			m.logger.DebugContext(ctx, "package already removed", "package", id.String())
			continue
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", id.Key(), err))
			m.logger.ErrorContext(ctx, "failed to delete package", "package", id.String(), "error", err)
			continue
		}

		result.PackagesEvicted++
		result.BytesReclaimed += freed
	}
}

// phaseOrphans deletes package files that have no journal entry, and temp
// files abandoned by writes that never completed. Files newer than the grace
// period are kept, since a package is written before its usage is recorded.
func (m *Manager) phaseOrphans(ctx context.Context, result *Result) {
	if m.config.DryRun {
		return
	}
	m.logger.DebugContext(ctx, "phase: delete orphan package files")

	b := m.packages.Backend()
	cutoff := time.Now().Add(-m.config.OrphanGracePeriod)

	infos, err := b.List(ctx, store.Prefix)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list package files: %v", err))
		m.logger.ErrorContext(ctx, "failed to list package files", "error", err)
	} else if len(infos) > 0 {
		entries, err := m.journal.Snapshot(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("snapshot journal: %v", err))
			m.logger.ErrorContext(ctx, "failed to snapshot journal", "error", err)
			return
		}
		referenced := store.Keys(entries)
		for _, info := range infos {
			if _, ok := referenced[info.Key]; ok {
				continue
			}
			m.deleteStale(ctx, b, info, cutoff, result)
		}
	}

	incomplete, err := b.ListIncomplete(ctx, store.Prefix)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list incomplete files: %v", err))
		m.logger.ErrorContext(ctx, "failed to list incomplete package files", "error", err)
		return
	}
	for _, info := range incomplete {
		m.deleteStale(ctx, b, info, cutoff, result)
	}
}

// deleteStale deletes info when it was last modified before cutoff.
func (m *Manager) deleteStale(ctx context.Context, b backend.Backend, info backend.Info, cutoff time.Time, result *Result) {
	if ctx.Err() != nil || info.ModTime.After(cutoff) {
		return
	}

	if err := b.Delete(ctx, info.Key); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delete orphan %s: %v", info.Key, err))
		m.logger.ErrorContext(ctx, "failed to delete orphan package file", "key", info.Key, "error", err)
		return
	}

	result.OrphansDeleted++
	result.BytesReclaimed += uint64(info.Size) //nolint:gosec // file sizes are never negative
	m.logger.DebugContext(ctx, "deleted orphan package file", "key", info.Key, "size_bytes", info.Size)
}

// MakeSpace evicts unlocked packages until at least required bytes have been
// reclaimed, using the configured ordering. It returns a
// *retention.InsufficientCacheSpaceError when that is impossible, either up
// front or because packages were locked while it ran.
func (m *Manager) MakeSpace(ctx context.Context, required uint64) (*Result, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	ctx = telemetry.WithTrigger(ctx, telemetry.TriggerMakeSpace)
	result := &Result{StartedAt: time.Now(), Trigger: telemetry.TriggerMakeSpace, DryRun: m.config.DryRun}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		m.recordMetrics(ctx, result)
	}()

	settings, err := config.Load(m.vars)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, fmt.Errorf("loading settings: %w", err)
	}

	entries, err := m.journal.Snapshot(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, fmt.Errorf("snapshotting journal: %w", err)
	}

	var cleaner *retention.RequiredSpace
	if settings.Ordering == config.OrderingLeastFrequentlyUsed {
		cleaner = retention.NewLeastFrequentlyUsed(settings.Factors())
	} else {
		cleaner = retention.NewFirstInFirstOut()
	}

	ids, err := cleaner.GetPackagesToRemove(entries, required)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		m.recordInsufficient(ctx, err)
		m.logger.WarnContext(ctx, "cannot make space", "bytes_required", required, "error", err)
		return result, err
	}

	m.evict(ctx, ids, result)
	if m.config.DryRun {
		return result, nil
	}

	if result.BytesReclaimed < required {
		err := &retention.InsufficientCacheSpaceError{SpaceFound: result.BytesReclaimed, SpaceRequired: required}
		result.Errors = append(result.Errors, err.Error())
		m.recordInsufficient(ctx, err)
		return result, err
	}

	m.logger.InfoContext(ctx, "made space",
		"bytes_required", required,
		"bytes_reclaimed", result.BytesReclaimed,
		"packages_evicted", result.PackagesEvicted,
	)
	return result, nil
}
