package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantrbac/pkg/audit"
	"github.com/platinummonkey/tenantrbac/pkg/config"
	"github.com/platinummonkey/tenantrbac/pkg/httputil"
	"github.com/platinummonkey/tenantrbac/pkg/middleware"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
	"github.com/platinummonkey/tenantrbac/pkg/rbac"
	"github.com/platinummonkey/tenantrbac/pkg/seed"
)

func main() {
	envFile := flag.String("env-file", "", "dotenv file to load before the environment (default: .env if present)")
	seedFile := flag.String("seed", "", "YAML fixture to load at startup (overrides TENANTRBAC_SEED_FILE)")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenantrbac: %v\n", err)
		os.Exit(1)
	}
	if *seedFile != "" {
		cfg.RBAC.SeedFile = *seedFile
	}

	logger := observability.NewLoggerWithOptions(observability.LogOptions{
		Level:      observability.ParseLogLevel(cfg.Log.Level),
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

// deps holds the external connections owned by the process
type deps struct {
	auditDB        *sql.DB
	auditRedis     *redis.Client
	rateLimitRedis *redis.Client
}

func (d *deps) healthRedis() redis.Cmdable {
	switch {
	case d.auditRedis != nil:
		return d.auditRedis
	case d.rateLimitRedis != nil:
		return d.rateLimitRedis
	}
	return nil
}

func (d *deps) close() error {
	var errs []error
	if d.auditDB != nil {
		errs = append(errs, d.auditDB.Close())
	}
	if d.auditRedis != nil {
		errs = append(errs, d.auditRedis.Close())
	}
	if d.rateLimitRedis != nil && d.rateLimitRedis != d.auditRedis {
		errs = append(errs, d.rateLimitRedis.Close())
	}
	return errors.Join(errs...)
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Telemetry.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Telemetry.TracingEnabled,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	d := &deps{}
	sinks, err := openSinks(ctx, cfg.Audit, d, logger)
	if err != nil {
		_ = d.close()
		return err
	}

	auditLog := audit.NewLog(audit.LogOptions{
		Sinks:   sinks,
		Queue:   cfg.Audit.QueueSize,
		Logger:  logger,
		Metrics: metrics,
	})

	svc := rbac.NewService(rbac.ServiceOptions{
		Recorder:  auditLog,
		Logger:    logger,
		Metrics:   metrics,
		CacheSize: cfg.RBAC.CacheSize,
		CacheTTL:  cfg.RBAC.CacheTTL,
	})
	if err := seedService(ctx, svc, cfg.RBAC, logger); err != nil {
		_ = auditLog.Close(context.Background())
		_ = d.close()
		return err
	}

	archiver, err := startArchiver(ctx, cfg.Audit, auditLog, logger, metrics)
	if err != nil {
		_ = auditLog.Close(context.Background())
		_ = d.close()
		return err
	}

	limiter, err := rateLimiter(ctx, cfg.Server, d, logger)
	if err != nil {
		_ = auditLog.Close(context.Background())
		_ = d.close()
		return err
	}

	checker := observability.NewHealthChecker(d.auditDB, d.healthRedis(), cfg.Telemetry.ServiceVersion)
	router := newRouter(cfg, svc, auditLog, checker, registry, metrics, limiter, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "tenantrbac"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, srv, cfg.Server.ShutdownTimeout)
	if archiver != nil {
		shutdown.Register("audit archiver", func(ctx context.Context) error {
			archiver.Stop()
			// one last pass so nothing recorded before shutdown is left unarchived
			_, err := archiver.RunOnce(ctx)
			return err
		})
	}
	shutdown.Register("audit log", auditLog.Close)
	shutdown.Register("connections", func(context.Context) error { return d.close() })
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("tenantrbac API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

func openSinks(ctx context.Context, cfg config.AuditConfig, d *deps, logger *observability.Logger) ([]audit.Sink, error) {
	var sinks []audit.Sink

	if cfg.File != "" {
		fs := audit.DefaultFileSinkConfig()
		fs.Path = cfg.File
		sink, err := audit.NewFileSink(fs)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.DSN != "" {
		db, err := sql.Open(cfg.DBDriver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		d.auditDB = db
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to reach audit database: %w", err)
		}
		sink, err := audit.NewDBSink(db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.RedisURL != "" {
		client, err := audit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.auditRedis = client
		sinks = append(sinks, audit.NewRedisSink(client, audit.RedisConfig{
			Stream: cfg.RedisStream,
			MaxLen: cfg.RedisMaxLen,
		}))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logger.WithField("sinks", names).Info("audit sinks configured")
	return sinks, nil
}

func seedService(ctx context.Context, svc *rbac.Service, cfg config.RBACConfig, logger *observability.Logger) error {
	var (
		fixture *seed.Fixture
		err     error
		source  string
	)
	switch {
	case cfg.SeedFile != "":
		fixture, err = seed.LoadFile(cfg.SeedFile)
		source = cfg.SeedFile
	case cfg.SeedDemo:
		fixture, err = seed.Demo()
		source = "demo"
	default:
		return nil
	}
	if err != nil {
		return err
	}

	res, err := seed.Apply(ctx, svc, fixture)
	if err != nil {
		return fmt.Errorf("failed to seed from %s: %w", source, err)
	}
	logger.WithFields(map[string]interface{}{
		"source":      source,
		"tenants":     res.Tenants,
		"permissions": res.Permissions,
		"roles":       res.Roles,
		"users":       res.Users,
	}).Info("seeded authorization data")
	return nil
}

func startArchiver(ctx context.Context, cfg config.AuditConfig, src audit.Source, logger *observability.Logger, metrics *observability.Metrics) (*audit.Archiver, error) {
	var dst audit.Destination
	switch cfg.ArchiveTarget {
	case "":
		return nil, nil
	case "dir":
		dst = audit.DirDestination{Dir: cfg.ArchiveDir}
	case "s3":
		s3dst, err := audit.NewS3Destination(ctx, audit.S3Config{
			Bucket:       cfg.ArchiveBucket,
			Prefix:       cfg.ArchivePrefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		dst = s3dst
	}

	archiver := audit.NewArchiver(src, dst, audit.ArchiverOptions{
		Schedule: cfg.ArchiveSchedule,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err := archiver.Start(ctx); err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"destination": dst.Name(),
		"schedule":    cfg.ArchiveSchedule,
	}).Info("audit archiver started")
	return archiver, nil
}

func rateLimiter(ctx context.Context, cfg config.ServerConfig, d *deps, logger *observability.Logger) (func(http.Handler) http.Handler, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if rl.Backend == "redis" {
		client, err := audit.NewRedisClient(ctx, rl.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		d.rateLimitRedis = client
		m := middleware.NewDistributedRateLimitMiddleware(client,
			middleware.WindowConfig{RequestsPerWindow: rl.ActorPerMinute, WindowDuration: time.Minute},
			middleware.WindowConfig{RequestsPerWindow: rl.AnonPerMinute, WindowDuration: time.Minute},
			cfg.TrustProxy, logger)
		return m.Handler, nil
	}
	return httputil.RateLimitMiddleware(httputil.RateLimitConfig{
		RequestsPerSecond: rl.RequestsPerSecond,
		Burst:             rl.Burst,
	}), nil
}

func newRouter(
	cfg *config.Config,
	svc *rbac.Service,
	auditLog *audit.Log,
	checker *observability.HealthChecker,
	registry *prometheus.Registry,
	metrics *observability.Metrics,
	limiter func(http.Handler) http.Handler,
	logger *observability.Logger,
) *mux.Router {
	root := mux.NewRouter()
	root.Use(
		httputil.RequestIDMiddleware,
		httputil.ClientInfoMiddleware(cfg.Server.TrustProxy),
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
	)
	if len(cfg.Server.CORSOrigins) > 0 {
		root.Use(httputil.CORSMiddleware(cfg.Server.CORSOrigins))
	}

	observability.RegisterHealthRoutes(root, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(root, registry)
	}

	actors := middleware.NewActorMiddleware(middleware.ActorConfig{
		JWTSecret:     []byte(cfg.Auth.JWTSecret),
		Issuer:        cfg.Auth.JWTIssuer,
		TrustedHeader: cfg.Auth.TrustedHeader,
		Required:      cfg.Auth.Required,
		Logger:        logger,
	})

	api := root.PathPrefix("/api/v1").Subrouter()
	api.Use(
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
		actors.Handler,
		limiter,
	)

	var gate *rbac.PermissionMiddleware
	if cfg.RBAC.GateEnabled {
		gate = rbac.NewPermissionMiddleware(svc, cfg.RBAC.PlatformTenant)
	}
	rbac.NewHandlers(svc, gate).RegisterRoutes(api)

	auditRoutes := api.NewRoute().Subrouter()
	if gate != nil {
		auditRoutes.Use(gate.Require("audit", "read"))
	}
	audit.NewHandlers(auditLog).RegisterRoutes(auditRoutes)

	return root
}
