package gateway

import (
	"fmt"
	"strconv"

	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/config"
	"github.com/kvgate/kvgate/pkg/identity"
)

// Config is what a Gateway is constructed from. Zero values take the
// defaults: 127.0.0.1:6379 over tcp, database 0, not persistent.
type Config struct {
	Host       string
	Port       uint16
	Scheme     string
	Password   string
	Database   int
	Persistent bool
}

// FromRedisConfig converts the process configuration.
func FromRedisConfig(rc config.RedisConfig) Config {
	return Config{
		Host:       rc.Host,
		Port:       uint16(rc.Port),
		Scheme:     rc.Scheme,
		Password:   rc.Password,
		Database:   rc.Database,
		Persistent: rc.Persistent,
	}
}

// FromMap builds a Config from loosely typed settings with keys host, port,
// scheme, password, database and persistent. Missing keys keep defaults.
func FromMap(m map[string]any) (Config, error) {
	var cfg Config
	var err error

	if v, ok := m["host"]; ok {
		if cfg.Host, err = asString("host", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := m["port"]; ok {
		p, err := asInt("port", v)
		if err != nil {
			return Config{}, err
		}
		if p < 0 || p > 65535 {
			return Config{}, fmt.Errorf("%w: port out of range: %d", apperrors.ErrLogic, p)
		}
		cfg.Port = uint16(p)
	}
	if v, ok := m["scheme"]; ok {
		if cfg.Scheme, err = asString("scheme", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := m["password"]; ok && v != nil {
		if cfg.Password, err = asString("password", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := m["database"]; ok {
		if cfg.Database, err = asInt("database", v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := m["persistent"]; ok {
		switch b := v.(type) {
		case bool:
			cfg.Persistent = b
		case string:
			if cfg.Persistent, err = strconv.ParseBool(b); err != nil {
				return Config{}, fmt.Errorf("%w: persistent: %w", apperrors.ErrLogic, err)
			}
		default:
			return Config{}, fmt.Errorf("%w: persistent: unsupported type %T", apperrors.ErrLogic, v)
		}
	}

	return cfg, cfg.Validate()
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s: expected string, got %T", apperrors.ErrLogic, key, v)
	}
	return s, nil
}

func asInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint16:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %s: not an integer: %v", apperrors.ErrLogic, key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", apperrors.ErrLogic, key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported type %T", apperrors.ErrLogic, key, v)
	}
}

// Validate rejects a negative database and unknown schemes.
func (c Config) Validate() error {
	if c.Database < 0 {
		return fmt.Errorf("%w: databases are identified with unsigned integers, got %d", apperrors.ErrLogic, c.Database)
	}
	if _, err := identity.ParseScheme(c.Scheme); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrLogic, err)
	}
	return nil
}

// Identity returns the connection identity. The database is not part of it.
func (c Config) Identity() identity.Identity {
	scheme, err := identity.ParseScheme(c.Scheme)
	if err != nil {
		scheme = identity.DefaultScheme
	}
	return identity.New(c.Host, c.Port, scheme, c.Password, c.Persistent)
}
