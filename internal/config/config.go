package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/medpraxis/admin-api/pkg/messaging/redis"
	"github.com/medpraxis/admin-api/pkg/worker"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	JWT       JWTConfig       `mapstructure:"jwt" json:"jwt"`
	Owner     OwnerConfig     `mapstructure:"owner" json:"owner"`
	Export    ExportConfig    `mapstructure:"export" json:"export"`
	Redis     RedisConfig     `mapstructure:"redis" json:"redis"`
	Outbox    OutboxConfig    `mapstructure:"outbox" json:"outbox"`
	SMTP      SMTPConfig      `mapstructure:"smtp" json:"smtp"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" json:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Name     string `mapstructure:"name" json:"name"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret" json:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours" json:"expiry_hours"`
}

type OwnerConfig struct {
	CredentialFile string `mapstructure:"credential_file" json:"credential_file"`
}

type ExportConfig struct {
	Directory       string `mapstructure:"directory" json:"directory"`
	BackupDirectory string `mapstructure:"backup_directory" json:"backup_directory"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" json:"url"`
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size" json:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" json:"min_idle_conns"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	From     string `mapstructure:"from" json:"from"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst"`
}

// envOverrides are the environment knobs layered over the config file,
// mostly for container deployments.
type envOverrides struct {
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	RedisURL   string `envconfig:"REDIS_URL"`
	JWTSecret  string `envconfig:"JWT_SECRET"`
	ServerPort int    `envconfig:"SERVER_PORT"`
	SMTPHost   string `envconfig:"SMTP_HOST"`
	SMTPPort   int    `envconfig:"SMTP_PORT"`
	SMTPUser   string `envconfig:"SMTP_USER"`
	SMTPPass   string `envconfig:"SMTP_PASSWORD"`
}

// LoadConfig reads config.json, seeding a default template when none exists
// so a fresh deployment starts with something editable.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := writeDefaultConfig("config.json"); err != nil {
			return nil, err
		}
		fmt.Fprintln(os.Stderr, "config.json not found; wrote a default template. Review it before production use.")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read generated config: %w", err)
		}
	}

	config := DefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig is the template written on first run.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "medpraxis",
			SSLMode: "disable",
		},
		JWT: JWTConfig{
			ExpiryHours: 12,
		},
		Owner: OwnerConfig{
			CredentialFile: "owner_credentials.json",
		},
		Export: ExportConfig{
			Directory:       "exports",
			BackupDirectory: "backups",
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Outbox: OutboxConfig{
			BatchSize:     50,
			PollInterval:  5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		SMTP: SMTPConfig{
			Host: "localhost",
			Port: 587,
			From: "no-reply@medpraxis.example",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

func writeDefaultConfig(path string) error {
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

func applyEnvOverrides(config *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if env.DBHost != "" {
		config.Database.Host = env.DBHost
	}
	if env.DBPort != 0 {
		config.Database.Port = env.DBPort
	}
	if env.DBUser != "" {
		config.Database.User = env.DBUser
	}
	if env.DBPassword != "" {
		config.Database.Password = env.DBPassword
	}
	if env.DBName != "" {
		config.Database.Name = env.DBName
	}
	if env.RedisURL != "" {
		config.Redis.URL = env.RedisURL
	}
	if env.JWTSecret != "" {
		config.JWT.Secret = env.JWTSecret
	}
	if env.ServerPort != 0 {
		config.Server.Port = env.ServerPort
	}
	if env.SMTPHost != "" {
		config.SMTP.Host = env.SMTPHost
	}
	if env.SMTPPort != 0 {
		config.SMTP.Port = env.SMTPPort
	}
	if env.SMTPUser != "" {
		config.SMTP.Username = env.SMTPUser
	}
	if env.SMTPPass != "" {
		config.SMTP.Password = env.SMTPPass
	}
	return nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
