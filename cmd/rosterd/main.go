package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hexagonlabs/roster/pkg/api"
	"github.com/hexagonlabs/roster/pkg/authz"
	"github.com/hexagonlabs/roster/pkg/avatars"
	"github.com/hexagonlabs/roster/pkg/config"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/jobs"
	"github.com/hexagonlabs/roster/pkg/middleware"
	"github.com/hexagonlabs/roster/pkg/observability"
	"github.com/hexagonlabs/roster/pkg/orgs"
	"github.com/hexagonlabs/roster/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.ParsedLogLevel(), os.Stdout)
	ctx := context.Background()

	// Database
	connCfg := postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
	connMgr, err := postgres.NewConnectionManager(connCfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := connMgr.Primary()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database ready")

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Tracing
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	// Redis (rate limiting); optional
	var redisClient *redis.Client
	var rateLimit *middleware.RateLimitMiddleware
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup, rate limiting will fail open")
		}
		rateLimit = middleware.NewRateLimitMiddleware(redisClient)
	}

	// Avatar storage; optional
	var avatarStore *avatars.Store
	if cfg.Avatars.Bucket != "" {
		avatarStore, err = avatars.NewStore(ctx, avatars.Config{
			Bucket:        cfg.Avatars.Bucket,
			Region:        cfg.Avatars.Region,
			Endpoint:      cfg.Avatars.Endpoint,
			AccessKey:     cfg.Avatars.AccessKey,
			SecretKey:     cfg.Avatars.SecretKey,
			UsePathStyle:  cfg.Avatars.UsePathStyle,
			PublicBaseURL: cfg.Avatars.PublicBaseURL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize avatar storage: %v", err)
		}
	}

	// Domain services
	identitySvc := identity.NewPostgresService(db)
	identitySvc.SetTokenTTL(cfg.Auth.TokenTTL)
	orgSvc := orgs.NewPostgresService(db)
	if metrics != nil {
		identitySvc.AttachMetrics(metrics)
		orgSvc.AttachMetrics(metrics)
	}

	resolver := authz.NewResolver(orgSvc)
	if metrics != nil {
		resolver.AttachMetrics(metrics)
	}
	gateway := api.NewGateway(identitySvc, orgSvc, resolver)

	server := api.NewServer(gateway, identitySvc, logger, api.ServerConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AvatarStore:    avatarStore,
		RateLimit:      rateLimit,
		Metrics:        metrics,
		Tracing:        cfg.Observability.OTelEnabled,
	})

	// Background jobs
	jobLogger := logrus.New()
	jobLogger.SetFormatter(&logrus.JSONFormatter{})
	scheduler := jobs.NewScheduler(identitySvc, jobLogger)
	if err := scheduler.RegisterTokenPurge(cfg.Jobs.TokenPurgeSchedule); err != nil {
		log.Fatalf("Failed to register token purge job: %v", err)
	}
	scheduler.Start()

	// Admin mux: health probes and metrics on a separate port
	healthChecker := observability.NewHealthChecker(db, redisClient)
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/healthz", healthChecker.Liveness)
	adminMux.HandleFunc("/readyz", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(adminMux, registry)
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	adminServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.AdminPort,
		Handler: adminMux,
	}

	metricsCtx, cancelMetrics := context.WithCancel(ctx)
	if metrics != nil {
		go connMgr.ReportPoolMetrics(metricsCtx, metrics, 15*time.Second)
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return adminServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelMetrics()
		return connMgr.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Admin server listening on %s", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("Shutdown complete")
}
