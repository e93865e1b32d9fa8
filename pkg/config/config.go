package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds the secret used to verify bearer tokens issued by the auth platform
type JWTConfig struct {
	SigningKey string
	Issuer     string
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	Prefix string
}

// RedisConfig holds the optional redis connection used for distributed locks.
// An empty URL keeps locking in-process.
type RedisConfig struct {
	URL string
}

// LockConfig controls the per-company reviewer lock
type LockConfig struct {
	WaitTimeout time.Duration
	TTL         time.Duration
}

// IdentityConfig holds the identity provider admin API settings
type IdentityConfig struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
}

// AuditConfig sizes the audit write queue and the performer lookup fan-out
type AuditConfig struct {
	QueueSize         int
	LookupConcurrency int
}

// ReviewerConfig holds reviewer engine settings. Concurrency bounds both the
// loose reorder writes and the identity lookups of List and Eligible.
type ReviewerConfig struct {
	StrictReorder bool
	Concurrency   int
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Redis       RedisConfig
	Lock        LockConfig
	Identity    IdentityConfig
	Audit       AuditConfig
	Reviewer    ReviewerConfig
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory. Variables are not prefixed with the
// service name.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		ServiceName: serviceName,
		DB:          loadDB(serviceName),
		Server: ServerConfig{
			Port: str("SERVER_PORT", "8080"),
			Env:  str("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey: str("JWT_SIGNING_KEY", ""),
			Issuer:     str("JWT_ISSUER", ""),
		},
		Log:     LogConfig{Level: str("LOG_LEVEL", "info")},
		Metrics: MetricsConfig{Prefix: str("METRICS_PREFIX", serviceName)},
		Redis:   RedisConfig{URL: str("REDIS_URL", "")},
		Lock: LockConfig{
			WaitTimeout: parsed("LOCK_WAIT_TIMEOUT", 5*time.Second, time.ParseDuration),
			TTL:         parsed("LOCK_TTL", 30*time.Second, time.ParseDuration),
		},
		Identity: IdentityConfig{
			BaseURL:    str("IDENTITY_URL", "http://localhost:9999"),
			ServiceKey: str("IDENTITY_SERVICE_KEY", ""),
			Timeout:    parsed("IDENTITY_TIMEOUT", 10*time.Second, time.ParseDuration),
			CacheSize:  parsed("IDENTITY_CACHE_SIZE", 1024, strconv.Atoi),
			CacheTTL:   parsed("IDENTITY_CACHE_TTL", time.Minute, time.ParseDuration),
		},
		Audit: AuditConfig{
			QueueSize:         parsed("AUDIT_QUEUE_SIZE", 256, strconv.Atoi),
			LookupConcurrency: parsed("AUDIT_LOOKUP_CONCURRENCY", 8, strconv.Atoi),
		},
		Reviewer: ReviewerConfig{
			StrictReorder: parsed("REVIEWERS_STRICT_REORDER", false, strconv.ParseBool),
			Concurrency:   parsed("REVIEWERS_CONCURRENCY", 8, strconv.Atoi),
		},
	}

	if c.JWT.SigningKey == "" {
		return nil, errors.New("JWT_SIGNING_KEY must be set")
	}
	return c, nil
}

func loadDB(serviceName string) DBConfig {
	return DBConfig{
		Host:            str("DB_HOST", "localhost"),
		Port:            str("DB_PORT", "5432"),
		User:            str("DB_USER", "postgres"),
		Password:        str("DB_PASSWORD", "password"),
		DBName:          str("DB_NAME", serviceName),
		SSLMode:         str("DB_SSL_MODE", "disable"),
		MaxIdleConns:    parsed("DB_MAX_IDLE_CONNS", 10, strconv.Atoi),
		MaxOpenConns:    parsed("DB_MAX_OPEN_CONNS", 100, strconv.Atoi),
		ConnMaxLifetime: parsed("DB_CONN_MAX_LIFETIME", time.Hour, time.ParseDuration),
		LogLevel:        parsed("DB_LOG_LEVEL", logger.Warn, parseGormLevel),
	}
}

// LogConfig returns the non-secret settings as zap fields
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.Bool("redis_locks", c.Redis.URL != ""),
		zap.String("identity_url", c.Identity.BaseURL),
		zap.Bool("strict_reorder", c.Reviewer.StrictReorder),
	}
}

// str returns the variable when set, even if empty
func str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// parsed returns fallback when the variable is unset or does not parse
func parsed[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

var gormLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func parseGormLevel(s string) (logger.LogLevel, error) {
	if l, ok := gormLevels[s]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("unknown gorm log level %q", s)
}
