package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/attendance-core/cache"
	"github.com/goliatone/attendance-core/throttle"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ATTENDANCE_"

// Config aggregates the settings of the service.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Database DatabaseConfig  `yaml:"database"`
	Redis    RedisConfig     `yaml:"redis"`
	Cache    cache.Config    `yaml:"cache"`
	Throttle throttle.Config `yaml:"throttle"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequireTenant rejects attendance requests without a tenant header.
	// Turning it off grants platform-wide access to any caller that omits
	// the header, so only do that behind an authenticating proxy.
	RequireTenant bool `yaml:"require_tenant"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the distributed cache settings. An empty Addrs list
// disables the distributed tier.
type RedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// Enabled reports whether a distributed tier is configured.
func (r RedisConfig) Enabled() bool {
	return len(r.Addrs) > 0
}

// Default returns a configuration that runs against a local sqlite file
// without a distributed tier.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequireTenant:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "file:attendance.db?_busy_timeout=5000&_foreign_keys=on",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			KeyPrefix: "attendance:",
		},
		Cache:    cache.DefaultConfig(),
		Throttle: throttle.DefaultConfig(),
	}
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
		validation.Field(&s.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.WriteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.ShutdownTimeout, validation.Required),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("postgres", "postgresql", "sqlite3", "sqlite")),
		validation.Field(&d.DSN, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
	)
}

func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addrs, validation.Each(validation.Required)),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

// Validate checks every section.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Log),
		validation.Field(&c.Database),
		validation.Field(&c.Redis),
		validation.Field(&c.Cache),
		validation.Field(&c.Throttle),
	)
}

// Load builds the configuration in layers: defaults, the dotenv file named by
// ATTENDANCE_ENV (".env" when unset), the YAML file at path when path is not
// empty, ATTENDANCE_* environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	envFile := os.Getenv(EnvPrefix + "ENV")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"SERVER_ADDR":      &cfg.Server.Addr,
		"LOG_LEVEL":        &cfg.Log.Level,
		"LOG_FORMAT":       &cfg.Log.Format,
		"DATABASE_DRIVER":  &cfg.Database.Driver,
		"DATABASE_DSN":     &cfg.Database.DSN,
		"REDIS_USERNAME":   &cfg.Redis.Username,
		"REDIS_PASSWORD":   &cfg.Redis.Password,
		"REDIS_KEY_PREFIX": &cfg.Redis.KeyPrefix,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DATABASE_MAX_OPEN_CONNS": &cfg.Database.MaxOpenConns,
		"REDIS_DB":                &cfg.Redis.DB,
		"CACHE_CAPACITY":          &cfg.Cache.Capacity,
		"THROTTLE_LIMIT":          &cfg.Throttle.Limit,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"SERVER_SHUTDOWN_TIMEOUT": &cfg.Server.ShutdownTimeout,
		"CACHE_TTL":               &cfg.Cache.TTL,
		"CACHE_LOCAL_TTL":         &cfg.Cache.LocalTTL,
		"THROTTLE_WINDOW":         &cfg.Throttle.Window,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"SERVER_REQUIRE_TENANT": &cfg.Server.RequireTenant,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}

	if v, ok := lookup(EnvPrefix + "REDIS_ADDRS"); ok {
		cfg.Redis.Addrs = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "THROTTLE_TRUSTED_PROXIES"); ok {
		cfg.Throttle.TrustedProxies = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
