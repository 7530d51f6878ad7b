// Package config loads daemon settings from an optional YAML file and
// FIELDOPS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tilal/fieldops-notify/internal/payments"
	"github.com/tilal/fieldops-notify/internal/pushchannel"
)

const envPrefix = "FIELDOPS"

type Config struct {
	API           API           `mapstructure:"api"`
	Push          Push          `mapstructure:"push"`
	Notifications Notifications `mapstructure:"notifications"`
	Payments      Payments      `mapstructure:"payments"`
	Session       Session       `mapstructure:"session"`
	Log           Log           `mapstructure:"log"`
}

type API struct {
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type Push struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint overrides the websocket URL derived from api.base_url.
	Endpoint           string        `mapstructure:"endpoint"`
	APISuffix          string        `mapstructure:"api_suffix"`
	Path               string        `mapstructure:"path"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`
}

type Notifications struct {
	// PollInterval re-pulls the snapshot periodically; zero disables polling.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollJitter   float64       `mapstructure:"poll_jitter"`
}

type Payments struct {
	DueSoonDays  int `mapstructure:"due_soon_days"`
	UpcomingDays int `mapstructure:"upcoming_days"`
}

type Session struct {
	File string `mapstructure:"file"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://127.0.0.1:5000/api/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.requests_per_second", 0.0)
	v.SetDefault("api.burst", 1)

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.endpoint", "")
	v.SetDefault("push.api_suffix", pushchannel.DefaultAPISuffix)
	v.SetDefault("push.path", pushchannel.DefaultPath)
	v.SetDefault("push.reconnect_base_delay", 500*time.Millisecond)
	v.SetDefault("push.reconnect_max_delay", 30*time.Second)

	v.SetDefault("notifications.poll_interval", time.Minute)
	v.SetDefault("notifications.poll_jitter", 0.2)

	v.SetDefault("payments.due_soon_days", payments.DueSoonWindowDays)
	v.SetDefault("payments.upcoming_days", payments.DefaultUpcomingWindowDays)

	v.SetDefault("session.file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads path (if non-empty) and overlays FIELDOPS_* environment variables,
// e.g. FIELDOPS_API_BASE_URL for api.base_url.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.Notifications.PollInterval < 0 {
		errs = append(errs, errors.New("notifications.poll_interval must not be negative"))
	}
	if c.Notifications.PollJitter < 0 || c.Notifications.PollJitter > 1 {
		errs = append(errs, errors.New("notifications.poll_jitter must be within 0..1"))
	}
	if c.Payments.DueSoonDays < 0 || c.Payments.UpcomingDays < 0 {
		errs = append(errs, errors.New("payment windows must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// PushEndpoint returns the configured websocket URL, deriving it from the API
// base URL when not set explicitly.
func (c Config) PushEndpoint() (string, error) {
	if endpoint := strings.TrimSpace(c.Push.Endpoint); endpoint != "" {
		return endpoint, nil
	}
	return pushchannel.DeriveEndpoint(c.API.BaseURL, c.Push.APISuffix, c.Push.Path)
}
