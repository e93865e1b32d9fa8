package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/suteetoe/payroll/internal/access"
	"github.com/suteetoe/payroll/internal/audit"
	"github.com/suteetoe/payroll/internal/handler"
	"github.com/suteetoe/payroll/internal/identity"
	"github.com/suteetoe/payroll/internal/middleware"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/internal/reviewer"
	"github.com/suteetoe/payroll/pkg/config"
	"github.com/suteetoe/payroll/pkg/database"
	"github.com/suteetoe/payroll/pkg/jwtutil"
	"github.com/suteetoe/payroll/pkg/logger"
	"github.com/suteetoe/payroll/pkg/metrics"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrate, _ := cmd.Flags().GetBool("migrate")
		return serve(migrate)
	},
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "Run schema migration before serving")
	rootCmd.AddCommand(serveCmd)
}

func serve(migrate bool) error {
	conf, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.InitDB(&conf.DB, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if migrate {
		if err := database.MigrateModels(db, model.All()...); err != nil {
			log.Error("Failed to migrate database models", zap.Error(err))
			return err
		}
	}

	locker, redisClient, err := newLocker(conf, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	resolver := access.NewResolver(db)
	profiles := identity.NewCachedSource(
		identity.NewClient(conf.Identity.BaseURL, conf.Identity.ServiceKey, conf.Identity.Timeout),
		conf.Identity.CacheSize,
		conf.Identity.CacheTTL,
	)
	sink := audit.NewSink(db, log, conf.Audit.QueueSize)
	engine := reviewer.NewEngine(db, resolver, profiles, sink, locker, conf.Reviewer)

	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey: conf.JWT.SigningKey,
		Issuer:     conf.JWT.Issuer,
	})
	httpMetrics := metrics.NewHTTPMetrics(conf.Metrics.Prefix, prom.DefaultRegisterer)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(httpMetrics.Middleware())

	e.GET("/metrics", echo.WrapHandler(metrics.GetPrometheusHandler()))

	checks := map[string]handler.Pinger{"database": sqlDB}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	e.GET("/health", handler.NewHealthHandler(checks).Health)

	// Secured routes - require authentication
	companies := e.Group("/companies/:companyId", middleware.JWTAuthMiddleware(jwt))
	handler.NewReviewerHandler(engine).Register(companies.Group("/reviewers"))
	handler.NewAuditHandler(audit.NewStore(db, profiles, conf.Audit.LookupConcurrency), resolver).Register(companies.Group("/audit-logs"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting payroll service on port " + conf.Server.Port)
		if err := e.Start(":" + conf.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server stopped", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	if err := sink.Close(shutdownCtx); err != nil {
		log.Warn("Audit entries left unwritten", zap.Error(err))
	}
	return nil
}

// newLocker picks the distributed lock when REDIS_URL is set
func newLocker(conf *config.Config, log *zap.Logger) (reviewer.Locker, *redis.Client, error) {
	if conf.Redis.URL == "" {
		log.Info("Using in-process reviewer locks")
		return reviewer.NewLocalLocker(conf.Lock.WaitTimeout), nil, nil
	}

	opts, err := redis.ParseURL(conf.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		log.Error("Failed to connect to redis", zap.Error(err))
		return nil, nil, err
	}

	log.Info("Using redis reviewer locks")
	return reviewer.NewRedisLocker(client, conf.Lock.TTL, conf.Lock.WaitTimeout, log), client, nil
}
