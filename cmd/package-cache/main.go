// Command package-cache manages a local deployment-package cache and keeps it
// within its disk and quantity retention limits.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/package-cache/backend"
	"github.com/wolfeidau/package-cache/config"
	"github.com/wolfeidau/package-cache/disk"
	"github.com/wolfeidau/package-cache/store"
	"github.com/wolfeidau/package-cache/store/journaldb"
	"github.com/wolfeidau/package-cache/sweep"
	"github.com/wolfeidau/package-cache/telemetry"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Storage   string `help:"Cache storage directory." default:"./cache" env:"PACKAGE_CACHE_STORAGE" type:"path"`
	Config    string `help:"Retention settings file (yaml, json or toml)." env:"PACKAGE_CACHE_CONFIG" type:"path"`
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"PACKAGE_CACHE_LOG_LEVEL"`
	LogFormat string `help:"Log format." default:"text" enum:"text,json" env:"PACKAGE_CACHE_LOG_FORMAT"`
}

// CLI is the package-cache command line.
type CLI struct {
	Globals

	Version   kong.VersionFlag `help:"Print version and exit."`
	Serve     ServeCmd         `cmd:"" help:"Run the admin server and scheduled retention sweeps."`
	Sweep     SweepCmd         `cmd:"" help:"Run one retention sweep and print the result."`
	Add       AddCmd           `cmd:"" help:"Add a package file to the cache."`
	Use       UseCmd           `cmd:"" help:"Record a use of a cached package."`
	List      ListCmd          `cmd:"" help:"List journal entries."`
	MakeSpace MakeSpaceCmd     `cmd:"" name:"make-space" help:"Evict unlocked packages until the given number of bytes is reclaimed."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("package-cache"),
		kong.Description("Deployment package cache with journal-driven retention."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	ctx.FatalIfErrorf(err)

	ctx.FatalIfErrorf(ctx.Run(&cli.Globals, logger))
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// runtime holds the opened cache components for one command.
type runtime struct {
	logger   *slog.Logger
	journal  *journaldb.BoltDB
	packages *store.PackageStore
	vars     *config.ViperVariables
	stats    *disk.Statfs
	root     string
}

func (g *Globals) open(logger *slog.Logger) (*runtime, error) {
	if err := os.MkdirAll(g.Storage, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	vars, err := config.LoadFile(g.Config)
	if err != nil {
		return nil, err
	}

	db := journaldb.NewBoltDB(journaldb.WithLogger(logger))
	if err := db.Open(filepath.Join(g.Storage, "journal.db")); err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	fsBackend, err := backend.NewFilesystem(g.Storage)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating filesystem backend: %w", err)
	}
	instrumented := backend.NewInstrumentedBackend(fsBackend, "filesystem")

	return &runtime{
		logger:   logger,
		journal:  db,
		packages: store.NewPackageStore(instrumented, db, store.WithLogger(logger)),
		vars:     vars,
		stats:    disk.NewStatfs(logger),
		root:     g.Storage,
	}, nil
}

func (rt *runtime) close() {
	if err := rt.journal.Close(); err != nil {
		rt.logger.Error("closing journal", "error", err)
	}
}

func (rt *runtime) sweeper(cfg sweep.Config) *sweep.Manager {
	cfg.CacheRoot = rt.root
	return sweep.New(rt.journal, rt.packages, rt.vars, rt.stats, cfg,
		sweep.WithLogger(rt.logger),
		sweep.WithMetrics(telemetry.Meter()),
	)
}
