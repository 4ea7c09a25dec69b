package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/retention"
	"github.com/wolfeidau/package-cache/server"
	"github.com/wolfeidau/package-cache/sweep"
	"github.com/wolfeidau/package-cache/telemetry"
)

// ServeCmd runs the admin server with scheduled sweeps.
type ServeCmd struct {
	Address       string        `help:"Admin listen address." default:":8080" env:"PACKAGE_CACHE_ADDRESS"`
	AuthToken     string        `help:"Bearer token required by admin routes." env:"PACKAGE_CACHE_AUTH_TOKEN"`
	Interval      time.Duration `help:"Time between retention sweeps." default:"1h" env:"PACKAGE_CACHE_SWEEP_INTERVAL"`
	StartupDelay  time.Duration `help:"Delay before the first sweep." default:"1m" env:"PACKAGE_CACHE_SWEEP_STARTUP_DELAY"`
	OrphanGrace   time.Duration `help:"Untracked package files younger than this are kept." default:"1h" env:"PACKAGE_CACHE_ORPHAN_GRACE"`
	DryRun        bool          `help:"Report sweep selections without deleting." env:"PACKAGE_CACHE_DRY_RUN"`
	Prometheus    bool          `help:"Expose Prometheus metrics on /metrics." default:"true" env:"PACKAGE_CACHE_PROMETHEUS" negatable:""`
	OTLPEndpoint  string        `help:"OTLP gRPC endpoint for metrics export." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	FlushInterval time.Duration `help:"OTLP export interval." default:"10s"`
}

func (c *ServeCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "package-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
		FlushInterval:    c.FlushInterval,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Error("shutting down metrics", "error", err)
		}
	}()

	rt, err := g.open(logger)
	if err != nil {
		return err
	}
	defer rt.close()

	// locks held by a previous process can never be released by it
	cleared, err := rt.journal.ClearLocks(ctx)
	if err != nil {
		return fmt.Errorf("clearing stale locks: %w", err)
	}
	if cleared > 0 {
		logger.Warn("cleared stale package locks", "entries", cleared)
	}

	mgr := rt.sweeper(sweep.Config{
		Interval:          c.Interval,
		StartupDelay:      c.StartupDelay,
		DryRun:            c.DryRun,
		OrphanGracePeriod: c.OrphanGrace,
	})
	mgr.Start(ctx)

	srv := server.New(server.Config{
		Address:   c.Address,
		AuthToken: c.AuthToken,
		Logger:    logger,
	}, mgr, rt.journal)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down server", "error", err)
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("stopping sweep manager", "error", err)
	}

	if errors.Is(runErr, http.ErrServerClosed) {
		return nil
	}
	return runErr
}

// SweepCmd runs one retention sweep.
type SweepCmd struct {
	DryRun bool `help:"Report the selection without deleting."`
}

func (c *SweepCmd) Run(g *Globals, logger *slog.Logger) error {
	rt, err := g.open(logger)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := sweep.DefaultConfig()
	cfg.DryRun = c.DryRun
	result, err := rt.sweeper(cfg).RunNow(context.Background())
	if err != nil {
		return err
	}
	return printJSON(result)
}

// AddCmd admits a package file.
type AddCmd struct {
	ID      string `arg:"" help:"Package id."`
	Version string `arg:"" help:"Semantic version."`
	File    string `arg:"" help:"Package file." type:"existingfile"`
}

func (c *AddCmd) Run(g *Globals, logger *slog.Logger) error {
	id, err := journal.NewPackageIdentity(c.ID, c.Version)
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("opening package file: %w", err)
	}
	defer f.Close()

	rt, err := g.open(logger)
	if err != nil {
		return err
	}
	defer rt.close()

	entry, err := rt.packages.Put(context.Background(), id, f)
	if err != nil {
		return err
	}
	logger.Info("package added",
		"package", id.String(),
		"size_bytes", entry.FileSizeBytes,
		"hash", entry.Hash.ShortString(),
		"cache_age", entry.LastUsage(),
	)
	return nil
}

// UseCmd records a hit on a cached package.
type UseCmd struct {
	ID      string `arg:"" help:"Package id."`
	Version string `arg:"" help:"Semantic version."`
}

func (c *UseCmd) Run(g *Globals, logger *slog.Logger) error {
	id, err := journal.NewPackageIdentity(c.ID, c.Version)
	if err != nil {
		return err
	}

	rt, err := g.open(logger)
	if err != nil {
		return err
	}
	defer rt.close()

	entry, err := rt.packages.Use(context.Background(), id)
	if err != nil {
		return err
	}
	logger.Info("package used", "package", id.String(), "hits", entry.HitCount(), "cache_age", entry.LastUsage())
	return nil
}

// ListCmd prints the journal.
type ListCmd struct {
	JSON bool `help:"Print entries as JSON."`
}

func (c *ListCmd) Run(g *Globals, logger *slog.Logger) error {
	rt, err := g.open(logger)
	if err != nil {
		return err
	}
	defer rt.close()

	entries, err := rt.journal.Snapshot(context.Background())
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tVERSION\tSIZE\tHITS\tFIRST\tLAST\tLOCKED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%t\n",
			e.Package.PackageID, e.Package.Version, e.FileSizeBytes,
			e.HitCount(), e.FirstUsage(), e.LastUsage(), e.HasLock())
	}
	return tw.Flush()
}

// MakeSpaceCmd guarantees headroom before a large download.
type MakeSpaceCmd struct {
	Bytes uint64 `arg:"" help:"Bytes to reclaim."`
}

func (c *MakeSpaceCmd) Run(g *Globals, logger *slog.Logger) error {
	rt, err := g.open(logger)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.sweeper(sweep.DefaultConfig()).MakeSpace(context.Background(), c.Bytes)

	var space *retention.InsufficientCacheSpaceError
	if errors.As(err, &space) {
		logger.Error("not enough evictable packages",
			"space_found", space.SpaceFound,
			"space_required", space.SpaceRequired,
		)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
