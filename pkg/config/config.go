package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Rewards    RewardsConfig
	Reset      ResetConfig
	Statements StatementsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// RewardsConfig holds the credit accounting knobs.
type RewardsConfig struct {
	BaselineSendLimit   int
	CarryForwardCap     int
	VoucherRate         string
	BalanceCacheTTL     time.Duration
	LeaderboardCacheTTL time.Duration
}

// ResetConfig drives the monthly reset runner.
type ResetConfig struct {
	CronSpec       string
	StudentTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// StatementsConfig controls monthly statement exports.
type StatementsConfig struct {
	Enabled    bool
	OutputDir  string
	DefaultFmt string
	Workers    int
	Retention  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Rewards = RewardsConfig{
		BaselineSendLimit:   v.GetInt("REWARDS_BASELINE_SEND_LIMIT"),
		CarryForwardCap:     v.GetInt("REWARDS_CARRY_FORWARD_CAP"),
		VoucherRate:         v.GetString("REWARDS_VOUCHER_RATE"),
		BalanceCacheTTL:     parseDuration(v.GetString("REWARDS_BALANCE_CACHE_TTL"), 5*time.Minute),
		LeaderboardCacheTTL: parseDuration(v.GetString("REWARDS_LEADERBOARD_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Reset = ResetConfig{
		CronSpec:       v.GetString("RESET_CRON_SPEC"),
		StudentTimeout: parseDuration(v.GetString("RESET_STUDENT_TIMEOUT"), 5*time.Second),
		MaxRetries:     v.GetInt("RESET_MAX_RETRIES"),
		RetryBackoff:   parseDuration(v.GetString("RESET_RETRY_BACKOFF"), 100*time.Millisecond),
	}

	cfg.Statements = StatementsConfig{
		Enabled:    v.GetBool("ENABLE_STATEMENTS"),
		OutputDir:  v.GetString("STATEMENTS_OUTPUT_DIR"),
		DefaultFmt: v.GetString("STATEMENTS_DEFAULT_FORMAT"),
		Workers:    v.GetInt("STATEMENTS_WORKERS"),
		Retention:  parseDuration(v.GetString("STATEMENTS_RETENTION"), 90*24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "boostly")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REWARDS_BASELINE_SEND_LIMIT", 100)
	v.SetDefault("REWARDS_CARRY_FORWARD_CAP", 50)
	v.SetDefault("REWARDS_VOUCHER_RATE", "5.00")
	v.SetDefault("REWARDS_BALANCE_CACHE_TTL", "5m")
	v.SetDefault("REWARDS_LEADERBOARD_CACHE_TTL", "10m")

	v.SetDefault("RESET_CRON_SPEC", "5 0 1 * *")
	v.SetDefault("RESET_STUDENT_TIMEOUT", "5s")
	v.SetDefault("RESET_MAX_RETRIES", 3)
	v.SetDefault("RESET_RETRY_BACKOFF", "100ms")

	v.SetDefault("ENABLE_STATEMENTS", false)
	v.SetDefault("STATEMENTS_OUTPUT_DIR", "./statements")
	v.SetDefault("STATEMENTS_DEFAULT_FORMAT", "csv")
	v.SetDefault("STATEMENTS_WORKERS", 4)
	v.SetDefault("STATEMENTS_RETENTION", "2160h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
