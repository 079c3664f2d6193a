package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"apex-guard/internal/backup"
	"apex-guard/internal/cache"
	"apex-guard/internal/db"
	"apex-guard/internal/intel"
	"apex-guard/internal/security"
)

// AppConfig is the full runtime configuration of the service and CLI.
type AppConfig struct {
	Port               string
	Environment        string
	Version            string
	LogLevel           string
	LogFile            string
	RateLimitPerMinute int
	AllowedOrigins     []string
	MaxBodyBytes       int64
	MetricsEnabled     bool

	Database *db.Config
	Redis    cache.RedisOptions
	Cache    *cache.CacheConfig

	Scanner    security.Config
	Classifier string
	RulesFile  string

	Intel   intel.Config
	Archive backup.ArchiveConfig
}

// RedisEnabled reports whether any Redis deployment is configured.
func (c *AppConfig) RedisEnabled() bool {
	return c.Redis.URL != "" || len(c.Redis.ClusterAddrs) > 0 ||
		(len(c.Redis.SentinelAddrs) > 0 && c.Redis.SentinelMaster != "")
}

// LoadDotEnv loads .env from the working directory or its parent. A missing
// file is not an error.
func LoadDotEnv() bool {
	if err := godotenv.Load(); err == nil {
		return true
	}
	return godotenv.Load("../.env") == nil
}

// Load reads the configuration from the environment.
func Load() (*AppConfig, error) {
	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	scanner := security.DefaultConfig()
	scanner.BatchConcurrency = getEnvInt("BATCH_CONCURRENCY", scanner.BatchConcurrency)
	scanner.MaxBatchFiles = getEnvInt("MAX_BATCH_FILES", scanner.MaxBatchFiles)
	scanner.MaxSourceBytes = getEnvInt("MAX_SOURCE_BYTES", scanner.MaxSourceBytes)
	scanner.CacheTTLRisky = getEnvDuration("CACHE_TTL_RISKY", scanner.CacheTTLRisky)
	scanner.CacheTTLClean = getEnvDuration("CACHE_TTL_CLEAN", scanner.CacheTTLClean)
	scanner.RiskyScoreThreshold = getEnvInt("RISKY_SCORE_THRESHOLD", scanner.RiskyScoreThreshold)
	scanner.ClassifierTimeout = getEnvDuration("CLASSIFIER_TIMEOUT", scanner.ClassifierTimeout)
	scanner.IntelTimeout = getEnvDuration("INTEL_TIMEOUT", scanner.IntelTimeout)

	if scanner.RiskyScoreThreshold < 0 || scanner.RiskyScoreThreshold > 100 {
		return nil, fmt.Errorf("RISKY_SCORE_THRESHOLD must be within 0..100, got %d", scanner.RiskyScoreThreshold)
	}

	cacheConfig := cache.DefaultCacheConfig()
	cacheConfig.RedisURL = os.Getenv("REDIS_URL")
	cacheConfig.MaxMemoryItems = getEnvInt("CACHE_MAX_ITEMS", cacheConfig.MaxMemoryItems)
	cacheConfig.IntelTTL = getEnvDuration("INTEL_CACHE_TTL", cacheConfig.IntelTTL)

	redisOpts := cache.DefaultRedisOptions()
	redisOpts.URL = cacheConfig.RedisURL
	redisOpts.Password = os.Getenv("REDIS_PASSWORD")
	redisOpts.SentinelAddrs = splitList(os.Getenv("REDIS_SENTINEL_ADDRS"))
	redisOpts.SentinelMaster = os.Getenv("REDIS_SENTINEL_MASTER")
	redisOpts.ClusterAddrs = splitList(os.Getenv("REDIS_CLUSTER_ADDRS"))
	redisOpts.PoolSize = getEnvInt("REDIS_POOL_SIZE", redisOpts.PoolSize)

	cfg := &AppConfig{
		Port:               getEnv("PORT", "8080"),
		Environment:        GetEnvironment(),
		Version:            getEnv("APP_VERSION", "dev"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            os.Getenv("LOG_FILE"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 16<<20)),
		MetricsEnabled:     getEnvBool("ENABLE_METRICS", true),
		Database:           dbConfig,
		Redis:              redisOpts,
		Cache:              cacheConfig,
		Scanner:            scanner,
		Classifier:         getEnv("CLASSIFIER", "heuristic"),
		RulesFile:          os.Getenv("RULES_FILE"),
		Intel: intel.Config{
			FeedURL:  os.Getenv("INTEL_FEED_URL"),
			Timeout:  scanner.IntelTimeout,
			CacheTTL: cacheConfig.IntelTTL,
			Retries:  getEnvInt("INTEL_RETRIES", 1),
		},
		Archive: backup.ArchiveConfig{
			Bucket:       os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:       getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:     os.Getenv("ARCHIVE_S3_ENDPOINT"),
			Prefix:       getEnv("ARCHIVE_S3_PREFIX", "scans/"),
			UsePathStyle: getEnvBool("ARCHIVE_S3_PATH_STYLE", false),
			// empty keys fall through to the default AWS credential chain
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
	}
	return cfg, nil
}

func loadDatabaseConfig() (*db.Config, error) {
	cfg := db.DefaultConfig()
	cfg.Driver = strings.ToLower(getEnv("DB_DRIVER", db.DriverPostgres))
	cfg.SQLitePath = getEnv("DB_PATH", cfg.SQLitePath)

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" && cfg.Driver == db.DriverPostgres {
		parsed, err := ParseDatabaseURL(databaseURL)
		if err != nil {
			return nil, err
		}
		cfg.URL = databaseURL
		cfg.Host, cfg.Port, cfg.User, cfg.Password = parsed.Host, parsed.Port, parsed.User, parsed.Password
		cfg.DBName, cfg.SSLMode = parsed.DBName, parsed.SSLMode
	} else {
		cfg.Host = getEnv("DB_HOST", cfg.Host)
		cfg.Port = getEnvInt("DB_PORT", cfg.Port)
		cfg.User = getEnv("DB_USER", cfg.User)
		cfg.Password = os.Getenv("DB_PASSWORD")
		cfg.DBName = getEnv("DB_NAME", cfg.DBName)
		cfg.SSLMode = getEnv("DB_SSL_MODE", cfg.SSLMode)
	}

	// Postgres in production is migrated by golang-migrate, not AutoMigrate
	defaultAuto := cfg.Driver == db.DriverSQLite || !IsProductionEnvironment()
	cfg.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", defaultAuto)
	cfg.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	return cfg, nil
}

// ParseDatabaseURL splits a postgres:// URL into connection fields.
func ParseDatabaseURL(databaseURL string) (*db.Config, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("invalid DATABASE_URL scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL port: %w", err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return &db.Config{
		Driver:   db.DriverPostgres,
		URL:      databaseURL,
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
		TimeZone: "UTC",
	}, nil
}

// --- env helpers ---

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "2m") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
