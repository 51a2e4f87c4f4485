package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"benchboard/internal/cache"
	"benchboard/internal/pipeline"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Debug           bool          `mapstructure:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type TasksConfig struct {
	Workers         int           `mapstructure:"workers"`
	Retention       time.Duration `mapstructure:"retention"`
	JanitorSchedule string        `mapstructure:"janitor_schedule"`
	MaxPayloadBytes int64         `mapstructure:"max_payload_bytes"`
	TransformDelay  time.Duration `mapstructure:"transform_delay"`
	ScanDelay       time.Duration `mapstructure:"scan_delay"`
}

type CacheConfig struct {
	ModelsTTL      time.Duration `mapstructure:"models_ttl"`
	MetricsTTL     time.Duration `mapstructure:"metrics_ttl"`
	LeaderboardTTL time.Duration `mapstructure:"leaderboard_ttl"`
	StatisticsTTL  time.Duration `mapstructure:"statistics_ttl"`
}

const envPrefix = "BENCHBOARD"

// Load reads defaults, then the optional config file, then BENCHBOARD_*
// environment variables (BENCHBOARD_TASKS_WORKERS overrides tasks.workers).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	p := pipeline.DefaultOptions()
	ttl := cache.DefaultTTLs()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "benchboard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("tasks.workers", 8)
	v.SetDefault("tasks.retention", 24*time.Hour)
	v.SetDefault("tasks.janitor_schedule", "@every 1h")
	v.SetDefault("tasks.max_payload_bytes", p.MaxPayloadBytes)
	v.SetDefault("tasks.transform_delay", p.TransformDelay)
	v.SetDefault("tasks.scan_delay", p.ScanDelay)
	v.SetDefault("cache.models_ttl", ttl.Models)
	v.SetDefault("cache.metrics_ttl", ttl.Metrics)
	v.SetDefault("cache.leaderboard_ttl", ttl.Leaderboard)
	v.SetDefault("cache.statistics_ttl", ttl.Statistics)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Tasks.Workers < 1 {
		errs = append(errs, fmt.Errorf("tasks.workers must be at least 1, got %d", c.Tasks.Workers))
	}
	if c.Tasks.Retention <= 0 {
		errs = append(errs, fmt.Errorf("tasks.retention must be positive, got %s", c.Tasks.Retention))
	}
	if _, err := cron.ParseStandard(c.Tasks.JanitorSchedule); err != nil {
		errs = append(errs, fmt.Errorf("tasks.janitor_schedule %q: %w", c.Tasks.JanitorSchedule, err))
	}
	if c.Tasks.MaxPayloadBytes <= 0 {
		errs = append(errs, fmt.Errorf("tasks.max_payload_bytes must be positive, got %d", c.Tasks.MaxPayloadBytes))
	}
	if c.Tasks.TransformDelay < 0 || c.Tasks.ScanDelay < 0 {
		errs = append(errs, errors.New("tasks stage delays must not be negative"))
	}
	for name, ttl := range map[string]time.Duration{
		"cache.models_ttl":      c.Cache.ModelsTTL,
		"cache.metrics_ttl":     c.Cache.MetricsTTL,
		"cache.leaderboard_ttl": c.Cache.LeaderboardTTL,
		"cache.statistics_ttl":  c.Cache.StatisticsTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, ttl))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		MaxPayloadBytes: c.Tasks.MaxPayloadBytes,
		TransformDelay:  c.Tasks.TransformDelay,
		ScanDelay:       c.Tasks.ScanDelay,
	}
}

func (c *Config) CacheTTLs() cache.TTLs {
	return cache.TTLs{
		Models:      c.Cache.ModelsTTL,
		Metrics:     c.Cache.MetricsTTL,
		Leaderboard: c.Cache.LeaderboardTTL,
		Statistics:  c.Cache.StatisticsTTL,
	}
}
