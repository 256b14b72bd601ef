package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"animehub-be/internal/app"
	"animehub-be/internal/config"
	"animehub-be/internal/database"
	"animehub-be/internal/logger"
	"animehub-be/internal/metrics"
	"animehub-be/internal/session"
	"animehub-be/internal/store"
	"animehub-be/internal/store/memstore"
	"animehub-be/internal/telemetry"
	"animehub-be/internal/upload"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// devSecret signs sessions when running fully in memory during development.
const devSecret = "animehub-dev-secret"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration:\n", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		log.Fatal("failed to build logger: ", err)
	}
	defer lg.Sync() //nolint:errcheck

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.Env)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	repo, err := openRepository(cfg, lg)
	if err != nil {
		return err
	}

	sessStore, closeSessions, err := openSessions(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeSessions()

	secret := cfg.SessionSecret
	if secret == "" {
		lg.Warn("SESSION_SECRET is empty, using the development secret")
		secret = devSecret
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	uploads, err := openUploads(ctx, cfg, lg)
	if err != nil {
		return err
	}
	uploads.OnSave = func(c upload.Category, size int64) {
		m.UploadBytesTotal.WithLabelValues(string(c)).Add(float64(size))
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	services := app.NewServices(repo, session.NewManager(sessStore, secret, cfg.SessionTTL), uploads, lg)
	engine, hub, err := app.NewEngine(services, app.HTTPOptions{
		Dev:                  cfg.Development(),
		CookieSecure:         cfg.SessionCookieSecure,
		CORSOrigin:           cfg.CORSOrigin,
		WSInsecureSkipVerify: cfg.WSInsecureSkipVerify,
		WSOriginPatterns:     cfg.WSOriginPatterns,
		WSMessageRPS:         cfg.WSMessageRPS,
		WSMessageBurst:       cfg.WSMessageBurst,
		Metrics:              m,
		Gatherer:             reg,
	}, lg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(engine, "animehub-be"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	// Shutdown does not track hijacked connections, so the hub closes the
	// websockets itself and refuses late upgrades.
	hub.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func openRepository(cfg config.Config, lg *zap.Logger) (store.Repository, error) {
	if cfg.DBDriver == "memory" {
		lg.Warn("using the in-memory store, data is lost on restart")
		return memstore.New(), nil
	}
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, lg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store.NewGorm(db), nil
}

func openSessions(ctx context.Context, cfg config.Config, lg *zap.Logger) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		lg.Info("sessions kept in memory")
		return session.NewMemoryStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	lg.Info("sessions kept in redis", zap.String("addr", cfg.RedisAddr))
	return session.NewRedisStore(rdb), func() { rdb.Close() }, nil
}

func openUploads(ctx context.Context, cfg config.Config, lg *zap.Logger) (*upload.Store, error) {
	if cfg.UploadBackend != "minio" {
		lg.Info("uploads stored on disk", zap.String("dir", cfg.UploadDir))
		return upload.NewStore(upload.NewDisk(cfg.UploadDir)), nil
	}
	mc, err := upload.NewMinIO(upload.MinIOConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Bucket:    cfg.S3Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if err := mc.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("minio bucket: %w", err)
	}
	lg.Info("uploads stored in bucket", zap.String("bucket", cfg.S3Bucket))
	return upload.NewStore(mc), nil
}
