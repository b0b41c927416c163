// Package config defines the service configuration. Values come from
// defaults, an optional config file and PARKING_* environment variables, in
// increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "PARKING"

type Config struct {
	HTTP struct {
		Listen            string        `mapstructure:"listen"`
		StaticDir         string        `mapstructure:"static_dir"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	WS struct {
		SendBuffer     int           `mapstructure:"send_buffer"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		PongTimeout    time.Duration `mapstructure:"pong_timeout"`
		PingInterval   time.Duration `mapstructure:"ping_interval"`
		ReadLimit      int64         `mapstructure:"read_limit"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"ws"`

	Layout struct {
		Mode         string `mapstructure:"mode"`
		DefaultSpace string `mapstructure:"default_space"`
	} `mapstructure:"layout"`

	Store struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	SensorFeed struct {
		Addr       string        `mapstructure:"addr"`
		MaxBackoff time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"sensor_feed"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// Store drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// SetDefaults registers every key so env overrides work without a file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.listen", ":5000")
	v.SetDefault("http.static_dir", "web")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.write_timeout", 10*time.Second)
	v.SetDefault("ws.pong_timeout", 60*time.Second)
	v.SetDefault("ws.ping_interval", 50*time.Second)
	v.SetDefault("ws.read_limit", 64*1024)
	v.SetDefault("ws.allowed_origins", []string{"*"})

	v.SetDefault("layout.mode", "multi")
	v.SetDefault("layout.default_space", "default")

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.path", "parking_layout.json")
	v.SetDefault("store.dsn", "")

	v.SetDefault("sensor_feed.addr", "")
	v.SetDefault("sensor_feed.max_backoff", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration into a Config. file may be empty.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Layout.Mode {
	case "single", "multi":
	default:
		errs = append(errs, fmt.Errorf("layout.mode must be single or multi, got %q", c.Layout.Mode))
	}
	if strings.TrimSpace(c.Layout.DefaultSpace) == "" {
		errs = append(errs, errors.New("layout.default_space must not be empty"))
	}

	switch c.Store.Driver {
	case DriverFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file driver"))
		}
	case DriverPgx, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	if c.WS.PingInterval <= 0 || c.WS.PingInterval >= c.WS.PongTimeout {
		errs = append(errs, errors.New("ws.ping_interval must be positive and shorter than ws.pong_timeout"))
	}
	return errors.Join(errs...)
}
