package sweep

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/package-cache/retention"
)

// Metrics holds sweep OpenTelemetry metric instruments.
type Metrics struct {
	runsTotal              metric.Int64Counter
	runDuration            metric.Float64Histogram
	packagesEvicted        metric.Int64Counter
	lockedSkipped          metric.Int64Counter
	orphansDeleted         metric.Int64Counter
	bytesReclaimed         metric.Int64Counter
	errorsTotal            metric.Int64Counter
	insufficientSpaceTotal metric.Int64Counter
	lastRunTimestamp       metric.Float64Gauge
	lastRunSuccess         metric.Float64Gauge
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	runsTotal, err := meter.Int64Counter(
		"package_cache_sweep_runs_total",
		metric.WithDescription("Total number of retention sweeps"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"package_cache_sweep_run_duration_seconds",
		metric.WithDescription("Retention sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	packagesEvicted, err := meter.Int64Counter(
		"package_cache_sweep_packages_evicted_total",
		metric.WithDescription("Total number of packages evicted by retention"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, err
	}

	lockedSkipped, err := meter.Int64Counter(
		"package_cache_sweep_locked_skipped_total",
		metric.WithDescription("Total number of selected packages kept because a deployment locked them"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, err
	}

	orphansDeleted, err := meter.Int64Counter(
		"package_cache_sweep_orphans_deleted_total",
		metric.WithDescription("Total number of package files deleted because the journal had no entry for them"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	bytesReclaimed, err := meter.Int64Counter(
		"package_cache_sweep_bytes_reclaimed_total",
		metric.WithDescription("Total bytes reclaimed by retention sweeps"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"package_cache_sweep_errors_total",
		metric.WithDescription("Total number of sweep errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	insufficientSpaceTotal, err := meter.Int64Counter(
		"package_cache_sweep_insufficient_space_total",
		metric.WithDescription("Total number of make-space requests that could not free enough bytes"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	lastRunTimestamp, err := meter.Float64Gauge(
		"package_cache_sweep_last_run_timestamp_seconds",
		metric.WithDescription("Unix timestamp of last sweep"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lastRunSuccess, err := meter.Float64Gauge(
		"package_cache_sweep_last_run_success",
		metric.WithDescription("Whether last sweep was successful (1=success, 0=failure)"),
		metric.WithUnit("{status}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runsTotal:              runsTotal,
		runDuration:            runDuration,
		packagesEvicted:        packagesEvicted,
		lockedSkipped:          lockedSkipped,
		orphansDeleted:         orphansDeleted,
		bytesReclaimed:         bytesReclaimed,
		errorsTotal:            errorsTotal,
		insufficientSpaceTotal: insufficientSpaceTotal,
		lastRunTimestamp:       lastRunTimestamp,
		lastRunSuccess:         lastRunSuccess,
	}, nil
}

func (m *Manager) recordMetrics(ctx context.Context, result *Result) {
	if m.metrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("trigger", string(result.Trigger)))
	m.metrics.runsTotal.Add(ctx, 1, attrs)
	m.metrics.runDuration.Record(ctx, result.Duration.Seconds(), attrs)
	m.metrics.packagesEvicted.Add(ctx, int64(result.PackagesEvicted), attrs)
	m.metrics.lockedSkipped.Add(ctx, int64(result.LockedSkipped), attrs)
	m.metrics.orphansDeleted.Add(ctx, int64(result.OrphansDeleted), attrs)
	m.metrics.bytesReclaimed.Add(ctx, int64(result.BytesReclaimed), attrs) //nolint:gosec // reclaimed bytes fit in int64
	m.metrics.errorsTotal.Add(ctx, int64(len(result.Errors)), attrs)
	m.metrics.lastRunTimestamp.Record(ctx, float64(result.StartedAt.Unix()), attrs)

	if len(result.Errors) == 0 {
		m.metrics.lastRunSuccess.Record(ctx, 1, attrs)
	} else {
		m.metrics.lastRunSuccess.Record(ctx, 0, attrs)
	}
}

func (m *Manager) recordInsufficient(ctx context.Context, err error) {
	if m.metrics == nil || !errors.Is(err, retention.ErrInsufficientCacheSpace) {
		return
	}
	m.metrics.insufficientSpaceTotal.Add(ctx, 1)
}
