// Package sweep runs retention passes over the package cache.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/package-cache/backend"
	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/disk"
	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/telemetry"
)

// Config configures the sweep manager.
type Config struct {
	Interval          time.Duration // How often to run (default: 1h)
	StartupDelay      time.Duration // Delay before first run (default: 1m)
	CacheRoot         string        // Directory whose filesystem is checked for free space
	DryRun            bool          // Report the selection without deleting anything
	OrphanGracePeriod time.Duration // Untracked files younger than this are kept (default: 1h)
}

// DefaultConfig returns the default sweep configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          1 * time.Hour,
		StartupDelay:      1 * time.Minute,
		OrphanGracePeriod: 1 * time.Hour,
	}
}

// Result contains the results of a sweep.
type Result struct {
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
	Trigger         telemetry.Trigger `json:"trigger"`
	DryRun          bool              `json:"dry_run,omitempty"`
	Strategy        config.Strategy   `json:"strategy,omitempty"`
	Candidates      int               `json:"candidates"`
	Selected        []string          `json:"selected,omitempty"`
	PackagesEvicted int               `json:"packages_evicted"`
	LockedSkipped   int               `json:"locked_skipped"`
	OrphansDeleted  int               `json:"orphans_deleted"`
	BytesReclaimed  uint64            `json:"bytes_reclaimed"`
	Errors          []string          `json:"errors,omitempty"`
}

// Journal is the part of the journal store a sweep reads.
type Journal interface {
	Snapshot(ctx context.Context) ([]journal.Entry, error)
	CacheAge(ctx context.Context) (journal.CacheAge, error)
}

// Packages deletes package files after re-checking their journal locks.
type Packages interface {
	Delete(ctx context.Context, id journal.PackageIdentity) (uint64, error)
	Backend() backend.Backend
}

// Manager runs retention sweeps on a schedule and on demand. Sweeps and
// MakeSpace calls never overlap.
type Manager struct {
	journal  Journal
	packages Packages
	vars     config.Variables
	stats    disk.StatProvider
	config   Config
	metrics  *Metrics
	logger   *slog.Logger

	passMu sync.Mutex // serialises passes
	manual singleflight.Group

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	lastRun *Result
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records sweep metrics with meter.
func WithMetrics(meter metric.Meter) Option {
	return func(m *Manager) {
		metrics, err := NewMetrics(meter)
		if err != nil {
			m.logger.Error("failed to create sweep metrics", "error", err)
			return
		}
		m.metrics = metrics
	}
}

// New creates a sweep manager. Retention settings are re-read from vars at
// the start of every pass. A non-positive Interval falls back to the default.
func New(j Journal, packages Packages, vars config.Variables, stats disk.StatProvider, cfg Config, opts ...Option) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}

	m := &Manager{
		journal:  j,
		packages: packages,
		vars:     vars,
		stats:    stats,
		config:   cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "sweep")
	return m
}

// Start starts the background sweep goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop gracefully stops the background goroutine. It is safe to call more
// than once.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a sweep immediately, waiting for any pass in progress.
// Concurrent callers share one pass. If ctx ends first RunNow returns
// ctx.Err() and the pass still completes.
func (m *Manager) RunNow(ctx context.Context) (*Result, error) {
	trigger := telemetry.TriggerFromContext(ctx)
	ch := m.manual.DoChan("sweep", func() (any, error) {
		return m.runSweep(context.WithoutCancel(ctx), trigger), nil
	})

	select {
	case res := <-ch:
		return res.Val.(*Result), res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the last sweep result, or nil before the first sweep.
func (m *Manager) Status() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	m.logger.Info("sweep manager starting",
		"interval", m.config.Interval,
		"startup_delay", m.config.StartupDelay,
		"cache_root", m.config.CacheRoot,
		"dry_run", m.config.DryRun,
	)

	select {
	case <-time.After(m.config.StartupDelay):
	case <-m.stopCh:
		m.logger.Info("sweep manager stopped during startup delay")
		return
	case <-ctx.Done():
		m.logger.Info("sweep manager context cancelled during startup delay")
		m.setRunning(false)
		return
	}

	m.runSweep(ctx, telemetry.TriggerScheduled)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runSweep(ctx, telemetry.TriggerScheduled)
		case <-m.stopCh:
			m.logger.Info("sweep manager stopped")
			return
		case <-ctx.Done():
			m.logger.Info("sweep manager context cancelled")
			m.setRunning(false)
			return
		}
	}
}

func (m *Manager) setRunning(running bool) {
	m.mu.Lock()
	m.running = running
	m.mu.Unlock()
}

func (m *Manager) runSweep(ctx context.Context, trigger telemetry.Trigger) *Result {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	ctx = telemetry.WithTrigger(ctx, trigger)
	result := &Result{
		StartedAt: time.Now(),
		Trigger:   trigger,
		DryRun:    m.config.DryRun,
	}

	m.logger.InfoContext(ctx, "starting sweep", "trigger", trigger)

	// Phase 1: evict packages chosen by the active retention strategy
	m.phaseRetention(ctx, result)

	// Phase 2: delete package files the journal does not know about
	m.phaseOrphans(ctx, result)

	result.Duration = time.Since(result.StartedAt)

	m.mu.Lock()
	m.lastRun = result
	m.mu.Unlock()

	m.recordMetrics(ctx, result)
	m.recordCacheState(ctx)

	m.logger.InfoContext(ctx, "sweep completed",
		"trigger", trigger,
		"duration", result.Duration,
		"strategy", result.Strategy,
		"candidates", result.Candidates,
		"packages_evicted", result.PackagesEvicted,
		"locked_skipped", result.LockedSkipped,
		"orphans_deleted", result.OrphansDeleted,
		"bytes_reclaimed", result.BytesReclaimed,
		"errors", len(result.Errors),
	)

	return result
}

func (m *Manager) recordCacheState(ctx context.Context) {
	entries, err := m.journal.Snapshot(ctx)
	if err != nil {
		return
	}
	age, err := m.journal.CacheAge(ctx)
	if err != nil {
		return
	}
	telemetry.UpdateCacheState(ctx, len(entries), journal.TotalSize(entries), int64(age))
	if m.stats != nil {
		if free, ok := m.stats.GetFreeBytes(m.config.CacheRoot); ok {
			telemetry.UpdateDiskFree(ctx, free)
		}
	}
}
