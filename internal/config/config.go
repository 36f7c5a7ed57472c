package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Transport    TransportConfig    `toml:"transport"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Retry        RetryConfig        `toml:"retry"`
	Logging      LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects the durable backend and the keys the queue uses
type StorageConfig struct {
	Type     string       `toml:"type"`      // "bolt", "badger", "redis" or "memory"
	QueueKey string       `toml:"queue_key"` // Key holding the serialized queue
	TokenKey string       `toml:"token_key"` // Key holding the bearer token
	Bolt     BoltConfig   `toml:"bolt"`
	Badger   BadgerConfig `toml:"badger"`
	Redis    RedisConfig  `toml:"redis"`
}

type BoltConfig struct {
	Path string `toml:"path"` // Database file path
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type TransportConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`    // e.g. "10s"
	RateLimit int    `toml:"rate_limit"` // Requests per second, 0 disables limiting
}

type ConnectivityConfig struct {
	HealthURL    string `toml:"health_url"`    // Probed to detect connectivity; empty means always online
	Interval     string `toml:"interval"`      // e.g. "5s"
	ProbeTimeout string `toml:"probe_timeout"` // e.g. "2s"
}

type RetryConfig struct {
	MaxRetries            int  `toml:"max_retries"`
	ShortCircuitPermanent bool `toml:"short_circuit_permanent"` // Drop 4xx failures without spending retries
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	File   string   `toml:"file"`
}

// NewDefaultConfig returns the configuration used when no file is given
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type:     "bolt",
			QueueKey: "offline-queue",
			TokenKey: "authToken",
			Bolt:     BoltConfig{Path: "./data/queue.db"},
			Badger:   BadgerConfig{Path: "./data/badger"},
			Redis:    RedisConfig{Addr: "localhost:6379"},
		},
		Transport: TransportConfig{
			BaseURL: "http://localhost:3000/api",
			Timeout: "10s",
		},
		Connectivity: ConnectivityConfig{
			Interval:     "5s",
			ProbeTimeout: "2s",
		},
		Retry: RetryConfig{
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
			File:   "./logs/mutation-queue.log",
		},
	}
}

// LoadFromFile loads defaults, merges the TOML file at path (if any) and applies env overrides
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies MQ_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("MQ_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("MQ_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if storageType := os.Getenv("MQ_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if addr := os.Getenv("MQ_REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("MQ_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}
	if baseURL := os.Getenv("MQ_BASE_URL"); baseURL != "" {
		config.Transport.BaseURL = baseURL
	}
	if healthURL := os.Getenv("MQ_HEALTH_URL"); healthURL != "" {
		config.Connectivity.HealthURL = healthURL
	}
	if retries := os.Getenv("MQ_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Retry.MaxRetries = r
		}
	}
	if level := os.Getenv("MQ_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MQ_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "bolt", "badger", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.QueueKey == "" {
		return fmt.Errorf("storage.queue_key cannot be empty")
	}
	if c.Storage.QueueKey == c.Storage.TokenKey {
		return fmt.Errorf("storage.queue_key and storage.token_key must differ")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be >= 1, got %d", c.Retry.MaxRetries)
	}
	if c.Transport.RateLimit < 0 {
		return fmt.Errorf("transport.rate_limit must be >= 0, got %d", c.Transport.RateLimit)
	}
	for name, value := range map[string]string{
		"transport.timeout":          c.Transport.Timeout,
		"connectivity.interval":      c.Connectivity.Interval,
		"connectivity.probe_timeout": c.Connectivity.ProbeTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	return nil
}

// TransportTimeout returns the parsed transport timeout
func (c *Config) TransportTimeout() time.Duration {
	return mustDuration(c.Transport.Timeout)
}

// ProbeInterval returns the parsed connectivity probe interval
func (c *Config) ProbeInterval() time.Duration {
	return mustDuration(c.Connectivity.Interval)
}

// ProbeTimeout returns the parsed connectivity probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return mustDuration(c.Connectivity.ProbeTimeout)
}

// mustDuration is only called on values Validate has accepted
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
