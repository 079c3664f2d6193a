package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"apex-guard/internal/backup"
	"apex-guard/internal/cache"
	"apex-guard/internal/config"
	"apex-guard/internal/db"
	"apex-guard/internal/handlers"
	"apex-guard/internal/intel"
	"apex-guard/internal/metrics"
	"apex-guard/internal/middleware"
	"apex-guard/internal/security"
)

// app owns every long-lived component of the server.
type app struct {
	cfg    *config.AppConfig
	logger *zap.Logger

	database   *db.Database
	cache      *cache.RedisCache
	classifier security.ThreatClassifier
	scanner    *security.Scanner
	collector  *metrics.Collector
	limiter    *middleware.IPRateLimiter
	router     *gin.Engine
}

func newApp(ctx context.Context, cfg *config.AppConfig, secrets *config.SecretsConfig, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	a.openCache()

	catalog, err := security.LoadCatalog(cfg.RulesFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	a.classifier = security.NewClassifier(cfg.Classifier)

	store, err := a.resultStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := security.Dependencies{
		Catalog:    catalog,
		Classifier: a.classifier,
		Cache:      cache.NewScanCache(a.cache),
		Store:      store,
		Observer:   metrics.NewScanObserver(),
		Logger:     logger,
	}
	if cfg.Intel.Enabled() {
		deps.Intel = intel.NewHTTPFeed(cfg.Intel, a.cache, logger)
	}
	a.scanner = security.NewScanner(cfg.Scanner, deps)

	logger.Info("scanner ready",
		zap.Int("rules", catalog.Len()),
		zap.String("classifier", a.classifier.Name()),
		zap.String("feature_version", a.scanner.FeatureVersion()),
		zap.Bool("intel", cfg.Intel.Enabled()),
		zap.Bool("history", a.database != nil),
	)

	metrics.Get().SetBuildInfo(cfg.Version, a.scanner.FeatureVersion(), a.classifier.Name())

	var gdb *gorm.DB
	if a.database != nil {
		gdb = a.database.DB
	}
	a.collector = metrics.NewCollector(gdb, a.cache, 15*time.Second, logger)
	a.collector.Start(ctx)

	a.router = a.setupRouter(secrets)
	return a, nil
}

// openDatabase connects the durable store. Outside production a missing
// database only disables history and persistence.
func (a *app) openDatabase(ctx context.Context) error {
	dbCfg := a.cfg.Database
	database, err := db.NewDatabase(dbCfg, a.logger)
	if err != nil {
		if a.cfg.Environment == "production" {
			return fmt.Errorf("database: %w", err)
		}
		a.logger.Warn("database unavailable, running without scan history", zap.Error(err))
		return nil
	}

	if !dbCfg.AutoMigrate && dbCfg.Driver == db.DriverPostgres {
		runner, err := db.NewMigrationRunner(dbCfg.DSN(), a.logger)
		if err != nil {
			_ = database.Close()
			return fmt.Errorf("migrations: %w", err)
		}
		err = runner.Up()
		_ = runner.Close()
		if err != nil {
			_ = database.Close()
			return fmt.Errorf("migrations: %w", err)
		}
	}

	if err := database.Health(ctx); err != nil {
		_ = database.Close()
		return fmt.Errorf("database health: %w", err)
	}
	a.database = database
	return nil
}

// openCache prefers Redis and falls back to the in-process cache.
func (a *app) openCache() {
	if a.cfg.RedisEnabled() {
		c, err := cache.NewRedisCacheFromOptions(a.cfg.Redis, a.cfg.Cache)
		if err == nil {
			a.cache = c
			a.logger.Info("result cache ready", zap.String("backend", c.Backend()))
			return
		}
		a.logger.Warn("redis unavailable, using in-memory cache", zap.Error(err))
	}
	a.cache = cache.NewRedisCache(a.cfg.Cache)
}

// resultStore fans results out to the database and the S3 archive, whichever
// are configured. It returns nil when neither is.
func (a *app) resultStore(ctx context.Context) (security.ResultStore, error) {
	var sinks []backup.NamedStore
	if a.database != nil {
		sinks = append(sinks, backup.NamedStore{Name: "database", Store: db.NewScanStore(a.database)})
	}
	if a.cfg.Archive.Enabled() {
		s3, err := backup.NewS3Storage(ctx, a.cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		sinks = append(sinks, backup.NamedStore{
			Name:  "archive",
			Store: backup.NewArchiver(s3, a.cfg.Archive.Prefix, a.logger),
		})
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0].Store, nil
	default:
		return backup.NewMultiStore(sinks...), nil
	}
}

func (a *app) setupRouter(secrets *config.SecretsConfig) *gin.Engine {
	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.AccessLog(a.logger.Named("http"), "/health", "/metrics"))
	router.Use(middleware.CORS(a.cfg.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	if a.cfg.MetricsEnabled {
		router.Use(metrics.PrometheusMiddleware("/health", "/metrics"))
		router.GET("/metrics", metrics.PrometheusHandler())
	}

	a.limiter = middleware.NewIPRateLimiter(a.cfg.RateLimitPerMinute, 0)

	var validator *config.JWTRotationValidator
	if secrets.JWTSecret != "" {
		validator = config.NewJWTRotationValidator(secrets.JWTSecret, secrets.JWTSecretOld, a.logger)
	}
	auth := middleware.NewAPIAuth(validator, secrets.APIKeyHashes)
	if !auth.Enabled() {
		a.logger.Warn("API authentication disabled")
	}

	api := router.Group("/")
	api.Use(middleware.RateLimit(a.limiter), middleware.BodyLimit(a.cfg.MaxBodyBytes))

	opts := handlers.Options{
		Scanner: a.scanner,
		Cache:   a.cache,
		Version: a.cfg.Version,
		Logger:  a.logger,
	}
	if a.database != nil {
		opts.History = db.NewScanStore(a.database)
		opts.Database = a.database
	}
	handlers.NewHandler(opts).RegisterRoutes(api, auth.Require())
	return router
}

// Close releases components in reverse start order.
func (a *app) Close() {
	if a.collector != nil {
		a.collector.Stop()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.classifier != nil {
		if err := a.classifier.Close(); err != nil {
			a.logger.Warn("classifier close", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close", zap.Error(err))
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.logger.Warn("database close", zap.Error(err))
		}
	}
}
