package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type StoreConfig struct {
	Driver    string `mapstructure:"driver"` // file, sqlite or redis
	Path      string `mapstructure:"path"`
	RedisURL  string `mapstructure:"redis_url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SessionConfig struct {
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	RefreshTimeout   time.Duration `mapstructure:"refresh_timeout"`
}

type MonitorConfig struct {
	MaxLogItems        int           `mapstructure:"max_log_items"`
	LogPageSize        int           `mapstructure:"log_page_size"`
	LogPollInterval    time.Duration `mapstructure:"log_poll_interval"`
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval"`
}

// Endpoints are path templates relative to BaseURL. {id} and {action} are
// substituted per call.
type Endpoints struct {
	StartJob string `mapstructure:"start_job"`
	Job      string `mapstructure:"job"`
	Logs     string `mapstructure:"logs"`
	Login    string `mapstructure:"login"`
	Refresh  string `mapstructure:"refresh"`

	// History lists the jobs of one action, Runs lists finished and running
	// jobs across actions and LogDetail fetches one stored log entry.
	History   string `mapstructure:"history"`
	Runs      string `mapstructure:"runs"`
	LogDetail string `mapstructure:"log_detail"`
}

type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	TenantID       string        `mapstructure:"tenant_id"`
	LogLevel       string        `mapstructure:"log_level"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Store          StoreConfig   `mapstructure:"store"`
	Session        SessionConfig `mapstructure:"session"`
	Monitor        MonitorConfig `mapstructure:"monitor"`
	Endpoints      Endpoints     `mapstructure:"endpoints"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:5000/api",
		LogLevel:       "info",
		RequestTimeout: 30 * time.Second,
		Store: StoreConfig{
			Driver:    "sqlite",
			Path:      ".jobwatch/state.db",
			KeyPrefix: "jobwatch:",
		},
		Session: SessionConfig{
			RefreshThreshold: 30 * time.Second,
			RefreshTimeout:   15 * time.Second,
		},
		Monitor: MonitorConfig{
			MaxLogItems:        2000,
			LogPageSize:        200,
			LogPollInterval:    4 * time.Second,
			StatusPollInterval: 5 * time.Second,
		},
		Endpoints: Endpoints{
			StartJob: "/jobs/{action}/run",
			Job:      "/jobs/{id}",
			Logs:     "/jobs/{id}/logs",
			Login:    "/auth/login",
			Refresh:  "/auth/refresh",

			History:   "/importacoes/{action}",
			Runs:      "/logs",
			LogDetail: "/logs/{id}",
		},
	}
}

// Load reads jobwatch.yaml from the current directory or ./config (or the
// explicit path when given), applies JOBWATCH_* environment overrides and
// returns the resulting Config. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("jobwatch")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("JOBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("tenant_id", d.TenantID)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis_url", d.Store.RedisURL)
	v.SetDefault("store.key_prefix", d.Store.KeyPrefix)
	v.SetDefault("session.refresh_threshold", d.Session.RefreshThreshold)
	v.SetDefault("session.refresh_timeout", d.Session.RefreshTimeout)
	v.SetDefault("monitor.max_log_items", d.Monitor.MaxLogItems)
	v.SetDefault("monitor.log_page_size", d.Monitor.LogPageSize)
	v.SetDefault("monitor.log_poll_interval", d.Monitor.LogPollInterval)
	v.SetDefault("monitor.status_poll_interval", d.Monitor.StatusPollInterval)
	v.SetDefault("endpoints.start_job", d.Endpoints.StartJob)
	v.SetDefault("endpoints.job", d.Endpoints.Job)
	v.SetDefault("endpoints.logs", d.Endpoints.Logs)
	v.SetDefault("endpoints.login", d.Endpoints.Login)
	v.SetDefault("endpoints.refresh", d.Endpoints.Refresh)
	v.SetDefault("endpoints.history", d.Endpoints.History)
	v.SetDefault("endpoints.runs", d.Endpoints.Runs)
	v.SetDefault("endpoints.log_detail", d.Endpoints.LogDetail)
}

// Fallback defaults for values that were set but unusable.
func (c *Config) applyFallbacks() {
	d := Default()
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Session.RefreshThreshold <= 0 {
		c.Session.RefreshThreshold = d.Session.RefreshThreshold
	}
	if c.Session.RefreshTimeout <= 0 {
		c.Session.RefreshTimeout = d.Session.RefreshTimeout
	}
	if c.Monitor.MaxLogItems <= 0 {
		c.Monitor.MaxLogItems = d.Monitor.MaxLogItems
	}
	if c.Monitor.LogPageSize <= 0 {
		c.Monitor.LogPageSize = d.Monitor.LogPageSize
	}
	if c.Monitor.LogPollInterval <= 0 {
		c.Monitor.LogPollInterval = d.Monitor.LogPollInterval
	}
	if c.Monitor.StatusPollInterval <= 0 {
		c.Monitor.StatusPollInterval = d.Monitor.StatusPollInterval
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}
	switch c.Store.Driver {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return errors.Errorf("store.path is required for the %s store", c.Store.Driver)
		}
	case "redis", "memory":
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "redis" && c.Store.RedisURL == "" {
		return errors.New("store.redis_url is required for the redis store")
	}
	return nil
}
