package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sifan077/shorturl/config"
	appmodel "github.com/sifan077/shorturl/internal/app/model"
	apprepository "github.com/sifan077/shorturl/internal/app/repository"
	appserver "github.com/sifan077/shorturl/internal/app/server"
	appservice "github.com/sifan077/shorturl/internal/app/service"
	inthttp "github.com/sifan077/shorturl/internal/http/handler"
	"github.com/sifan077/shorturl/internal/infra/logger"
	infraNATS "github.com/sifan077/shorturl/internal/infra/nats"
	infraPostgres "github.com/sifan077/shorturl/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/shorturl/internal/infra/prometheus"
	infraRedis "github.com/sifan077/shorturl/internal/infra/redis"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.Init(logger.Config{
		Development: cfg.Log.Development,
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	log.Info("Configuration loaded successfully",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Duration("storage_timeout", cfg.Storage.Timeout),
		zap.String("analytics_timezone", loc.String()),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("prometheus_enabled", cfg.Prometheus.Enabled),
	)

	checks := make(map[string]inthttp.ReadinessCheck)

	store, closeStore, err := openStore(ctx, cfg, log, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier appservice.ClickNotifier
	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS, log)
		if err != nil {
			return err
		}
		defer func() { _ = natsConn.Drain() }()

		publisher := appservice.NewClickPublisher(js)
		if err := publisher.EnsureStream(); err != nil {
			return fmt.Errorf("nats: ensure click stream: %w", err)
		}
		notifier = publisher
		checks["nats"] = func(context.Context) error {
			if natsConn.Status() != nats.CONNECTED {
				return fmt.Errorf("nats: connection %s", natsConn.Status())
			}
			return nil
		}
		log.Info("Connected to NATS successfully", zap.String("stream", appmodel.ClickStreamName))
	}

	var metrics *infraPrometheus.Metrics
	if cfg.Prometheus.Enabled {
		reg := prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = infraPrometheus.NewMetrics(reg)

		promServer := infraPrometheus.NewServer(cfg.Prometheus, reg)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.String("addr", promServer.Addr))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	}

	links, analytics := appserver.NewServices(log, store, notifier, cfg.Storage.Timeout, loc)

	server := appserver.New(appserver.Dependencies{
		Logger:         log,
		Links:          links,
		Analytics:      analytics,
		Metrics:        metrics,
		Checks:         checks,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		JWTIssuer:      cfg.Auth.Issuer,
		Location:       loc,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		errCh <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber server exited: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore connects the configured storage backend and registers its
// readiness checks. The returned func releases its connections.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger, checks map[string]inthttp.ReadinessCheck) (apprepository.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			return apprepository.Store{}, nil, err
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return apprepository.Store{}, nil, fmt.Errorf("postgres: access sql db: %w", err)
		}

		if err := infraPostgres.Migrate(ctx, gormDB); err != nil {
			_ = sqlDB.Close()
			return apprepository.Store{}, nil, err
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			_ = sqlDB.Close()
			return apprepository.Store{}, nil, err
		}
		checks["postgres"] = pool.Ping

		log.Info("Connected to Postgres successfully",
			zap.String("host", cfg.Postgres.Host),
			zap.Int("port", cfg.Postgres.Port),
			zap.String("database", cfg.Postgres.Database),
		)
		return apprepository.NewGormStore(gormDB), func() {
			pool.Close()
			_ = sqlDB.Close()
		}, nil

	case config.DriverRedis:
		redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return apprepository.Store{}, nil, err
		}
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}

		log.Info("Connected to Redis successfully",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port),
			zap.String("key_prefix", cfg.Redis.KeyPrefix),
		)
		return apprepository.NewRedis(redisClient, cfg.Redis.KeyPrefix).Store(), func() {
			_ = redisClient.Close()
		}, nil

	case config.DriverMemory:
		log.Warn("Using in-memory storage; data is lost on restart")
		return apprepository.NewMemory().Store(), func() {}, nil

	default:
		return apprepository.Store{}, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
