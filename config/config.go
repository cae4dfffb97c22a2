// Package config loads the article-pipeline's configuration via viper,
// following the layout and env-override convention of the pack this
// service grew out of: nested mapstructure sections, environment variables
// prefixed and flattened with underscores, and a single LoadConfig entry
// point that panics on an invalid configuration (the cmd/ binaries call it
// directly and do not recover the panic).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the article-generation service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// GeneralConfig contains process-wide settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP listener settings for the API role.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	TrustedProxy    bool          `mapstructure:"trusted_proxy"`
	BodyLimit       string        `mapstructure:"body_limit"`
	RateLimitPerIP  int           `mapstructure:"rate_limit_per_ip"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

func (s ServerConfig) Validate() error {
	if s.BodyLimit == "" {
		return nil
	}
	return nil
}

// AuthConfig contains token-signing settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

func (a AuthConfig) Validate() error {
	if len(strings.TrimSpace(a.JWTSecret)) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	return nil
}

// DatabasesConfig groups the durable store and pub/sub backends.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig is the durable-store connection (C2).
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" || strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("databases.postgres.host/dbname required when url is not provided")
	}
	return nil
}

// DSN builds the Postgres connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig is the event-bus and queue backend (C1/C6).
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" || strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("databases.redis.host/port required")
	}
	return nil
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// QueueConfig bounds the job queue & worker pool (C6).
type QueueConfig struct {
	MaxConcurrent       int           `mapstructure:"max_concurrent"`
	WorkerConcurrency   int           `mapstructure:"worker_concurrency"`
	StallInterval       time.Duration `mapstructure:"stall_interval"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	CompletedRetained   int           `mapstructure:"completed_retained"`
	FailedRetained      int           `mapstructure:"failed_retained"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// VaultConfig controls the credential vault's key derivation (C3).
type VaultConfig struct {
	RawKeyHex string `mapstructure:"raw_key_hex"`
}

// ProvidersConfig names the specific models the stage runner asks for.
// Per the design note that a model identifier is configuration, not a
// credential, these are not stored alongside the encrypted API keys.
type ProvidersConfig struct {
	LLMModel       string `mapstructure:"llm_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// LoadConfig loads configuration from file and environment, panicking on a
// structurally invalid result. path may be empty to fall back to the
// standard search locations.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.body_limit", "10M")
	viper.SetDefault("server.rate_limit_per_ip", 100)
	viper.SetDefault("server.rate_limit_window", 15*time.Minute)
	viper.SetDefault("auth.token_lifetime", 14*24*time.Hour)
	viper.SetDefault("databases.postgres.sslmode", "disable")
	viper.SetDefault("databases.postgres.timeout", 10*time.Second)
	viper.SetDefault("databases.redis.timeout", 5*time.Second)
	viper.SetDefault("queue.max_concurrent", 5)
	viper.SetDefault("queue.worker_concurrency", 2)
	viper.SetDefault("queue.stall_interval", 2*time.Minute)
	viper.SetDefault("queue.retry_base_delay", 5*time.Second)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.completed_retained", 100)
	viper.SetDefault("queue.failed_retained", 50)
	viper.SetDefault("queue.shutdown_grace_period", 30*time.Second)
	viper.SetDefault("providers.llm_model", "openai/gpt-4o-mini")
	viper.SetDefault("providers.embedding_model", "text-embedding-3-small")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ARTFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := cfg.Auth.Validate(); err != nil {
		panic(err)
	}
	if err := cfg.Databases.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := cfg.Databases.Redis.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}
