package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	meterName = "github.com/wolfeidau/package-cache"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	packageAdmissionsTotal metric.Int64Counter
	packageSize            metric.Float64Histogram
	packageLocksTotal      metric.Int64Counter

	journalEntries metric.Int64Gauge
	journalBytes   metric.Int64Gauge
	cacheAge       metric.Int64Gauge
	diskFreeBytes  metric.Int64Gauge

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

// Meter returns the meter used for package cache instruments. Before
// InitMetrics it is backed by the global no-op provider.
func Meter() metric.Meter {
	return otel.Meter(meterName)
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "package-cache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"package_cache_http_requests_total",
		metric.WithDescription("Total number of admin HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"package_cache_http_request_duration_seconds",
		metric.WithDescription("Admin HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	if m.backendRequestDuration, err = meter.Float64Histogram(
		"package_cache_backend_request_duration_seconds",
		metric.WithDescription("Storage backend operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}

	if m.backendRequestsTotal, err = meter.Int64Counter(
		"package_cache_backend_requests_total",
		metric.WithDescription("Total number of storage backend operations"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.backendBytesTotal, err = meter.Int64Counter(
		"package_cache_backend_bytes_total",
		metric.WithDescription("Total bytes moved by storage backend operations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.packageAdmissionsTotal, err = meter.Int64Counter(
		"package_cache_package_admissions_total",
		metric.WithDescription("Total number of package files written to the cache"),
		metric.WithUnit("{package}"),
	); err != nil {
		return nil, err
	}

	if m.packageSize, err = meter.Float64Histogram(
		"package_cache_package_size_bytes",
		metric.WithDescription("Size of package files written to the cache"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(65536, 262144, 1048576, 4194304, 16777216, 67108864, 268435456, 1073741824, 4294967296),
	); err != nil {
		return nil, err
	}

	if m.packageLocksTotal, err = meter.Int64Counter(
		"package_cache_package_locks_total",
		metric.WithDescription("Total number of package lock operations"),
		metric.WithUnit("{lock}"),
	); err != nil {
		return nil, err
	}

	if m.journalEntries, err = meter.Int64Gauge(
		"package_cache_journal_entries",
		metric.WithDescription("Number of packages recorded in the journal"),
		metric.WithUnit("{package}"),
	); err != nil {
		return nil, err
	}

	if m.journalBytes, err = meter.Int64Gauge(
		"package_cache_journal_bytes",
		metric.WithDescription("Total size of packages recorded in the journal"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.cacheAge, err = meter.Int64Gauge(
		"package_cache_cache_age",
		metric.WithDescription("Current value of the journal cache age counter"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}

	if m.diskFreeBytes, err = meter.Int64Gauge(
		"package_cache_disk_free_bytes",
		metric.WithDescription("Free bytes on the cache filesystem"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records admin HTTP request metrics.
// Call this from the logging middleware after the request completes.
// The route is read from request tags set by handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	route := "unknown"
	if tags := GetTags(r); tags != nil && tags.Route != "" {
		route = tags.Route
	}

	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", r.Method),
		attribute.String("status_class", StatusClass(status)),
	)
	globalMetrics.requestsTotal.Add(ctx, 1, attrs)
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordPackageAdmission records a package file written to the cache.
// isNew is false when the file replaced an existing copy.
func RecordPackageAdmission(ctx context.Context, size int64, isNew bool) {
	if globalMetrics == nil {
		return
	}

	result := "replaced"
	if isNew {
		result = "new"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	globalMetrics.packageAdmissionsTotal.Add(ctx, 1, attrs)
	globalMetrics.packageSize.Record(ctx, float64(size), attrs)
}

// RecordPackageLock records a lock operation; op is "acquire" or "release".
func RecordPackageLock(ctx context.Context, op, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.packageLocksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// UpdateCacheState records the journal size and cache age after a sweep.
func UpdateCacheState(ctx context.Context, entries int, bytes uint64, cacheAge int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.journalEntries.Record(ctx, int64(entries))
	globalMetrics.journalBytes.Record(ctx, int64(bytes)) //nolint:gosec // cache sizes fit in int64
	globalMetrics.cacheAge.Record(ctx, cacheAge)
}

// UpdateDiskFree records free bytes on the cache filesystem.
func UpdateDiskFree(ctx context.Context, bytes uint64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.diskFreeBytes.Record(ctx, int64(bytes)) //nolint:gosec // filesystem sizes fit in int64
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
