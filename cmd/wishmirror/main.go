package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-wishlist-mirror/api"
	"github.com/aluiziolira/go-wishlist-mirror/config"
	"github.com/aluiziolira/go-wishlist-mirror/enrich"
	"github.com/aluiziolira/go-wishlist-mirror/pipeline"
	"github.com/aluiziolira/go-wishlist-mirror/scraper"
	"github.com/aluiziolira/go-wishlist-mirror/staleness"
	"github.com/aluiziolira/go-wishlist-mirror/store"
)

const envPrefix = "WISHMIRROR_"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  wishmirror [serve] [flags]    run the HTTP service
  wishmirror export [flags]     enrich, order and write a wishlist to CSV/JSONL

Run "wishmirror <command> -h" for the flags of a command.
`)
}

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "export":
		err = runExport(args)
	case "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// commonFlags are shared by every command. Values start at the defaults;
// loadConfig layers the YAML file, the environment and explicitly set flags
// on top, in that order.
type commonFlags struct {
	configFile  string
	backendURL  string
	originMode  string
	timeout     time.Duration
	maxRetries  int
	rateLimit   float64
	storeDriver string
	dbPath      string
	dbURL       string
	verbose     bool
}

func registerCommon(fs *flag.FlagSet, cf *commonFlags) {
	def := config.DefaultConfig()
	fs.StringVar(&cf.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&cf.backendURL, "backend-url", def.BackendURL, "Origin metadata service (or catalog) base URL")
	fs.StringVar(&cf.originMode, "origin", def.OriginMode, "Origin mode: service or page")
	fs.DurationVar(&cf.timeout, "timeout", def.Timeout, "Per-attempt origin timeout")
	fs.IntVar(&cf.maxRetries, "max-retries", def.MaxRetries, "Retries per origin fetch")
	fs.Float64Var(&cf.rateLimit, "rate", def.RateLimit, "Origin requests per second (0 disables)")
	fs.StringVar(&cf.storeDriver, "store", def.StoreDriver, "Store driver: sqlite, postgres or memory")
	fs.StringVar(&cf.dbPath, "db", def.DatabasePath, "SQLite database file")
	fs.StringVar(&cf.dbURL, "database-url", def.DatabaseURL, "Postgres DSN")
	fs.BoolVar(&cf.verbose, "v", false, "Enable verbose logging")
}

func loadConfig(fs *flag.FlagSet, cf *commonFlags, extra func(cfg *config.Config, name string)) (*config.Config, error) {
	cfg := config.DefaultConfig()

	path := cf.configFile
	if path == "" {
		path, _ = config.EnvString(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend-url":
			cfg.BackendURL = cf.backendURL
		case "origin":
			cfg.OriginMode = strings.ToLower(cf.originMode)
		case "timeout":
			cfg.Timeout = cf.timeout
		case "max-retries":
			cfg.MaxRetries = cf.maxRetries
		case "rate":
			cfg.RateLimit = cf.rateLimit
		case "store":
			cfg.StoreDriver = strings.ToLower(cf.storeDriver)
		case "db":
			cfg.DatabasePath = cf.dbPath
		case "database-url":
			cfg.DatabaseURL = cf.dbURL
		case "v":
			cfg.Verbose = cf.verbose
		default:
			if extra != nil {
				extra(cfg, f.Name)
			}
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) error {
	texts := map[string]*string{
		"BACKEND_URL":   &cfg.BackendURL,
		"ORIGIN_MODE":   &cfg.OriginMode,
		"STORE_DRIVER":  &cfg.StoreDriver,
		"DATABASE_PATH": &cfg.DatabasePath,
		"DATABASE_URL":  &cfg.DatabaseURL,
		"LISTEN_ADDR":   &cfg.ListenAddr,
		"METRICS_ADDR":  &cfg.MetricsAddr,
	}
	for key, dst := range texts {
		if value, ok := config.EnvString(envPrefix + key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"MAX_RETRIES": &cfg.MaxRetries,
		"BATCH_SIZE":  &cfg.BatchSize,
		"QUEUE_SIZE":  &cfg.QueueSize,
	}
	for key, dst := range ints {
		value, ok, err := config.EnvInt(envPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":     &cfg.Timeout,
		"BATCH_DELAY": &cfg.BatchDelay,
		"HARD_TTL":    &cfg.HardTTL,
		"SOFT_TTL":    &cfg.SoftTTL,
		"L1_TTL":      &cfg.L1TTL,
	}
	for key, dst := range durations {
		value, ok, err := config.EnvDuration(envPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}
	return nil
}

// core is the wired enrichment stack shared by serve and export.
type core struct {
	store     store.Store
	prefs     store.Preferences
	closer    func() error
	scheduler *pipeline.Scheduler
	enricher  *enrich.Orchestrator
}

func buildCore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*core, error) {
	backend, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var st store.Store = backend
	if cfg.L1TTL > 0 && cfg.L1Capacity > 0 {
		cacheCfg := store.DefaultCacheConfig()
		cacheCfg.Capacity = cfg.L1Capacity
		cacheCfg.TTL = cfg.L1TTL
		st = store.NewCached(backend, cacheCfg)
	}

	fetcher, err := scraper.NewFetcher(cfg, scraper.NewMetrics(reg))
	if err != nil {
		closer()
		return nil, fmt.Errorf("initialising origin fetcher: %w", err)
	}

	scheduler := pipeline.NewScheduler(fetcher, st, pipeline.Options{
		BatchSize:    cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay,
		QueueSize:    cfg.QueueSize,
		DedupeWindow: cfg.DedupeWindow,
		DedupeSize:   cfg.DedupeSize,
		Metrics:      pipeline.NewMetrics(reg),
	})
	policy := staleness.Policy{HardTTL: cfg.HardTTL, SoftTTL: cfg.SoftTTL}

	return &core{
		store:     st,
		prefs:     backend,
		closer:    closer,
		scheduler: scheduler,
		enricher:  enrich.New(st, scheduler, policy, enrich.NewMetrics(reg)),
	}, nil
}

// shutdown drains the scheduler before closing the store it writes to.
func (c *core) shutdown() {
	if err := c.scheduler.Close(); err != nil {
		slog.Error("scheduler shutdown failed", slog.Any("error", err))
	}
	if err := c.closer(); err != nil {
		slog.Error("close store", slog.Any("error", err))
	}
}

type backendStore interface {
	store.Store
	store.Preferences
}

func openStore(ctx context.Context, cfg *config.Config) (backendStore, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := store.NewMemory()
		return mem, func() error { return nil }, nil
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewSQL(db, store.SQLite)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("sqlite store ready", slog.String("path", cfg.DatabasePath))
		return s, s.Close, nil
	case config.DriverPostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewSQL(db, store.Postgres)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("postgres store ready")
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var cf commonFlags
	registerCommon(fs, &cf)
	def := config.DefaultConfig()
	listen := fs.String("listen", def.ListenAddr, "HTTP listen address")
	metricsAddr := fs.String("metrics-addr", def.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	batchDelay := fs.Duration("batch-delay", def.BatchDelay, "Pause between refresh batches")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, &cf, func(cfg *config.Config, name string) {
		switch name {
		case "listen":
			cfg.ListenAddr = *listen
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "batch-delay":
			cfg.BatchDelay = *batchDelay
		}
	})
	if err != nil {
		return err
	}
	setupLogging(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := buildCore(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer c.shutdown()

	c.scheduler.Start()
	if cfg.Verbose {
		c.scheduler.StartMetricsReporting(30 * time.Second)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(api.NewHandler(c.enricher, c.scheduler, c.prefs)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("origin", cfg.BackendURL),
			slog.String("origin_mode", cfg.OriginMode),
			slog.String("store", cfg.StoreDriver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining refresh queue")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
	return nil
}

func setupLogging(verbose bool) {
	logger, level := newLogger(verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
