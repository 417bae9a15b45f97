package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigFile is read when no path is given.
const DefaultConfigFile = "kvgate.yaml"

// Config holds all configuration for kvgate.
// Values come from a YAML file with environment variable overrides.
// The Redis password only comes from the environment.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// Redis is the target server and the context a Gateway starts from.
	Redis RedisConfig `yaml:"redis"`

	// Driver selects and tunes the driver family.
	Driver DriverConfig `yaml:"driver"`

	// Gateway tunes handle behavior.
	Gateway GatewayConfig `yaml:"gateway"`
}

// RedisConfig describes the server and the desired database.
type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST" env-default:"127.0.0.1"`
	Port       int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Scheme     string `yaml:"scheme" env:"REDIS_SCHEME" env-default:"tcp"`
	Password   string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	Database   int    `yaml:"database" env:"REDIS_DB" env-default:"0"`
	Persistent bool   `yaml:"persistent" env:"REDIS_PERSISTENT" env-default:"false"`
}

// DriverConfig holds driver family selection and socket timeouts.
type DriverConfig struct {
	Family         string        `yaml:"family" env:"KVGATE_DRIVER" env-default:"go-redis"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"KVGATE_CONNECT_TIMEOUT" env-default:"5s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"KVGATE_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"KVGATE_WRITE_TIMEOUT" env-default:"3s"`
	TLSSkipVerify  bool          `yaml:"tls_skip_verify" env:"KVGATE_TLS_SKIP_VERIFY" env-default:"false"`
}

// GatewayConfig holds Gateway settings.
type GatewayConfig struct {
	// ProbeInterval debounces liveness probes.
	ProbeInterval time.Duration `yaml:"probe_interval" env:"KVGATE_PROBE_INTERVAL" env-default:"450ms"`
}

// Load reads path (or DefaultConfigFile when empty) with environment
// overrides. A missing file is not an error: environment and defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values cleanenv cannot express as tags. The driver family
// is only checked for presence; registry.IsRegistered knows the names.
func (c *Config) Validate() error {
	if c.Redis.Database < 0 {
		return fmt.Errorf("redis.database must be >= 0, got %d", c.Redis.Database)
	}
	if c.Redis.Port < 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis.port out of range: %d", c.Redis.Port)
	}
	switch strings.ToLower(c.Redis.Scheme) {
	case "", "tcp", "unix", "tls":
	default:
		return fmt.Errorf("redis.scheme must be tcp, unix or tls, got %q", c.Redis.Scheme)
	}
	if c.Driver.Family == "" {
		return errors.New("driver.family is required")
	}
	if c.Gateway.ProbeInterval < 0 {
		return fmt.Errorf("gateway.probe_interval must not be negative")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Redis.Password != "" {
		c.Redis.Password = "[REDACTED]"
	}
	return c
}
