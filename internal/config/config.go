// Package config handles application configuration loading and validation using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Hearts       HeartsConfig       `mapstructure:"hearts"`
	SRS          SRSConfig          `mapstructure:"srs"`
	Leaderboard  LeaderboardConfig  `mapstructure:"leaderboard"`
	Achievements AchievementsConfig `mapstructure:"achievements"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the store driver and its connection settings.
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // "postgres" or "sqlite"
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// DSN builds a libpq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL builds a postgres:// URL for golang-migrate.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// SQLiteConfig contains the SQLite file path used for local runs.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig contains Redis connection settings. Redis is optional: an empty
// host disables the distributed partition lock and the leaderboard cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HeartsConfig contains the lives mechanic settings.
type HeartsConfig struct {
	Max           int           `mapstructure:"max"`
	RegenInterval time.Duration `mapstructure:"regen_interval"`
	AdCooldown    time.Duration `mapstructure:"ad_cooldown"`
}

// SRSConfig contains spaced-repetition scheduling parameters.
type SRSConfig struct {
	EasySecondInterval int     `mapstructure:"easy_second_interval"`
	EasyBonus          float64 `mapstructure:"easy_bonus"`
	MaxIntervalDays    int     `mapstructure:"max_interval_days"`
	SessionSize        int     `mapstructure:"session_size"`
}

// LeaderboardConfig contains ranking partition settings.
type LeaderboardConfig struct {
	Timezone  string        `mapstructure:"timezone"`
	WeekStart string        `mapstructure:"week_start"`
	RankMode  string        `mapstructure:"rank_mode"` // "sync" or "batch"
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// AchievementsConfig points at the YAML achievement catalog.
type AchievementsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// ProgressConfig contains XP amounts awarded by the progress orchestrator.
type ProgressConfig struct {
	LessonXP        int     `mapstructure:"lesson_xp"`
	PerfectLessonXP int     `mapstructure:"perfect_lesson_xp"`
	PerfectAccuracy float64 `mapstructure:"perfect_accuracy"`
}

// SchedulerConfig contains cron schedules for batch jobs.
type SchedulerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Timezone          string `mapstructure:"timezone"`
	RerankSchedule    string `mapstructure:"rerank_schedule"`
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
	ReconcileFix      bool   `mapstructure:"reconcile_fix"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// RateLimitConfig controls the per-client request limiter.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// setDefaults registers defaults so a minimal config file is enough.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 25)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 300)
	v.SetDefault("database.sqlite.path", "lingo.db")
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.pool_size", 10)

	v.SetDefault("hearts.max", 5)
	v.SetDefault("hearts.regen_interval", "30m")
	v.SetDefault("hearts.ad_cooldown", "1h")

	v.SetDefault("srs.easy_second_interval", 4)
	v.SetDefault("srs.easy_bonus", 1.2)
	v.SetDefault("srs.max_interval_days", 365)
	v.SetDefault("srs.session_size", 20)

	v.SetDefault("leaderboard.timezone", "UTC")
	v.SetDefault("leaderboard.week_start", "monday")
	v.SetDefault("leaderboard.rank_mode", "sync")
	v.SetDefault("leaderboard.lock_ttl", "5s")
	v.SetDefault("leaderboard.cache_ttl", "30s")

	v.SetDefault("progress.lesson_xp", 10)
	v.SetDefault("progress.perfect_lesson_xp", 5)
	v.SetDefault("progress.perfect_accuracy", 1.0)

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.rerank_schedule", "*/5 * * * *")
	v.SetDefault("scheduler.reconcile_schedule", "0 3 * * *")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/lingo-progression/")
	}

	// Explicit bindings for 12-factor deployments
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.sqlite.path", "SQLITE_PATH")
	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")
	_ = v.BindEnv("database.postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS")
	_ = v.BindEnv("database.postgres.conn_max_lifetime", "POSTGRES_CONN_MAX_LIFETIME")

	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")
	_ = v.BindEnv("database.redis.pool_size", "REDIS_POOL_SIZE")

	_ = v.BindEnv("hearts.regen_interval", "HEARTS_REGEN_INTERVAL")
	_ = v.BindEnv("leaderboard.timezone", "LEADERBOARD_TIMEZONE")
	_ = v.BindEnv("leaderboard.rank_mode", "LEADERBOARD_RANK_MODE")
	_ = v.BindEnv("achievements.catalog_path", "ACHIEVEMENTS_CATALOG_PATH")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.rerank_schedule", "SCHEDULER_RERANK_SCHEDULE")
	_ = v.BindEnv("scheduler.reconcile_schedule", "SCHEDULER_RECONCILE_SCHEDULE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q (valid: postgres, sqlite)", c.Database.Driver)
	}

	if c.Hearts.Max < 1 {
		return fmt.Errorf("hearts.max must be at least 1")
	}
	if c.Hearts.RegenInterval <= 0 {
		return fmt.Errorf("hearts.regen_interval must be positive")
	}
	if c.Hearts.AdCooldown < 0 {
		return fmt.Errorf("hearts.ad_cooldown cannot be negative")
	}

	if c.SRS.EasyBonus < 1 {
		return fmt.Errorf("srs.easy_bonus must be >= 1")
	}
	if c.SRS.MaxIntervalDays < 1 {
		return fmt.Errorf("srs.max_interval_days must be at least 1")
	}

	if _, err := c.Leaderboard.Location(); err != nil {
		return fmt.Errorf("invalid leaderboard.timezone %q: %w", c.Leaderboard.Timezone, err)
	}
	if _, err := c.Leaderboard.Weekday(); err != nil {
		return err
	}
	if c.Leaderboard.RankMode != "sync" && c.Leaderboard.RankMode != "batch" {
		return fmt.Errorf("invalid leaderboard.rank_mode %q (valid: sync, batch)", c.Leaderboard.RankMode)
	}

	return nil
}

// Location returns the timezone used for day/week/month boundaries.
func (c *LeaderboardConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Weekday parses week_start.
func (c *LeaderboardConfig) Weekday() (time.Weekday, error) {
	if c.WeekStart == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.WeekStart) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("invalid leaderboard.week_start %q", c.WeekStart)
}

// GetLocation returns the scheduler timezone location.
func (c *SchedulerConfig) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
