package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Chains      ChainsConfig   `mapstructure:"chains"`
	Providers   ProviderConfig `mapstructure:"providers"`
	Workers     WorkersConfig  `mapstructure:"workers"`
	Risk        RiskConfig     `mapstructure:"risk"`
	Fraud       FraudConfig    `mapstructure:"fraud"`
	Alerting    AlertingConfig `mapstructure:"alerting"`
}

type ServerConfig struct {
	Port            int   `mapstructure:"port"`
	ReadTimeout     int   `mapstructure:"read_timeout"`
	WriteTimeout    int   `mapstructure:"write_timeout"`
	RateLimit       int64 `mapstructure:"rate_limit"`
	RateLimitWindow int   `mapstructure:"rate_limit_window"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ChainsConfig maps chain tags to their network settings
type ChainsConfig struct {
	Networks map[string]NetworkConfig `mapstructure:"networks"`
}

// NetworkConfig describes one chain the watchers poll
type NetworkConfig struct {
	RPC           string                 `mapstructure:"rpc"`
	Confirmations uint64                 `mapstructure:"confirmations"`
	ScanInterval  int                    `mapstructure:"scan_interval"` // seconds
	BlockChunk    uint64                 `mapstructure:"block_chunk"`
	Tokens        map[string]TokenConfig `mapstructure:"tokens"`
}

// TokenConfig describes one watched asset on a chain
type TokenConfig struct {
	Contract string `mapstructure:"contract"`
	Decimals int32  `mapstructure:"decimals"`
}

// ProviderConfig carries per-provider webhook secrets; empty secret skips
// signature verification for that provider.
type ProviderConfig struct {
	WebhookSecrets map[string]string `mapstructure:"webhook_secrets"`
}

type WorkersConfig struct {
	PoolSize           int `mapstructure:"pool_size"`
	PollIntervalSec    int `mapstructure:"poll_interval_sec"`
	BatchSize          int `mapstructure:"batch_size"`
	MaxAttempts        int `mapstructure:"max_attempts"`
	StaleScanCron      string `mapstructure:"stale_scan_cron"`
	DeadLetterCron     string `mapstructure:"dead_letter_cron"`
	DeadLetterCooldown int `mapstructure:"dead_letter_cooldown_min"`
	DeadLetterMaxTries int `mapstructure:"dead_letter_max_tries"`
}

type RiskConfig struct {
	DailyStarsCap       int64 `mapstructure:"daily_stars_cap"`
	HourlyCreditCap     int   `mapstructure:"hourly_credit_cap"`
	MinSecondsBetween   int   `mapstructure:"min_seconds_between"`
}

type FraudConfig struct {
	ScanCron           string  `mapstructure:"scan_cron"`
	FailRateThreshold  float64 `mapstructure:"fail_rate_threshold"`
	FailRateMinSample  int     `mapstructure:"fail_rate_min_sample"`
	ReviewBurstMax     int     `mapstructure:"review_burst_max"`
	WindowMinutes      int     `mapstructure:"window_minutes"`
}

type AlertingConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit", 300)
	viper.SetDefault("server.rate_limit_window", 60)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "starpay_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("workers.pool_size", 5)
	viper.SetDefault("workers.poll_interval_sec", 5)
	viper.SetDefault("workers.batch_size", 10)
	viper.SetDefault("workers.max_attempts", 5)
	viper.SetDefault("workers.stale_scan_cron", "*/10 * * * *")
	viper.SetDefault("workers.dead_letter_cron", "*/15 * * * *")
	viper.SetDefault("workers.dead_letter_cooldown_min", 30)
	viper.SetDefault("workers.dead_letter_max_tries", 5)

	viper.SetDefault("risk.daily_stars_cap", 500000)
	viper.SetDefault("risk.hourly_credit_cap", 10)
	viper.SetDefault("risk.min_seconds_between", 30)

	viper.SetDefault("fraud.scan_cron", "*/15 * * * *")
	viper.SetDefault("fraud.fail_rate_threshold", 0.25)
	viper.SetDefault("fraud.fail_rate_min_sample", 20)
	viper.SetDefault("fraud.review_burst_max", 10)
	viper.SetDefault("fraud.window_minutes", 60)

	viper.SetDefault("alerting.timeout_sec", 5)
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	for name, network := range cfg.Chains.Networks {
		if network.RPC == "" {
			return fmt.Errorf("chain %s: rpc endpoint is required", name)
		}
	}
	return nil
}
