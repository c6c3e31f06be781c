// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sips-and-steals/crawler/internal/fetch"
	"github.com/sips-and-steals/crawler/internal/ratelimit"
	"github.com/sips-and-steals/crawler/internal/scheduler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the fetch pipeline.
type CrawlerConfig struct {
	UserAgent             string  `mapstructure:"user_agent"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	RobotsTimeoutSeconds  int     `mapstructure:"robots_timeout_seconds"`
	MaxRedirects          int     `mapstructure:"max_redirects"`
	BaseDelaySeconds      float64 `mapstructure:"base_delay_seconds"`
	MaxDelaySeconds       float64 `mapstructure:"max_delay_seconds"`
	FailureThreshold      int     `mapstructure:"failure_threshold"`
	CircuitTimeoutSeconds int     `mapstructure:"circuit_timeout_seconds"`
	HostRPS               float64 `mapstructure:"host_rps"`
	HostBurst             int     `mapstructure:"host_burst"`
}

// SchedulerConfig governs the task queue and worker pool.
type SchedulerConfig struct {
	MaxWorkers            int `mapstructure:"max_workers"`
	RateLimitDelaySeconds int `mapstructure:"rate_limit_delay_seconds"`
	MaxRetries            int `mapstructure:"max_retries"`
	StaleStaggerSeconds   int `mapstructure:"stale_stagger_seconds"`
	GroupStaggerSeconds   int `mapstructure:"group_stagger_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion-event notifications. An empty
// project ID disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects where fetched bodies are persisted. GCSBucket takes
// precedence; LocalDir is the fallback; both empty disables archiving.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent",
		"SipsAndStealsBot/1.0 (+https://github.com/sips-and-steals/crawler) - Denver Happy Hour Aggregator")
	v.SetDefault("crawler.request_timeout_seconds", 30)
	v.SetDefault("crawler.robots_timeout_seconds", 5)
	v.SetDefault("crawler.max_redirects", 10)
	v.SetDefault("crawler.base_delay_seconds", 2.0)
	v.SetDefault("crawler.max_delay_seconds", 60.0)
	v.SetDefault("crawler.failure_threshold", 5)
	v.SetDefault("crawler.circuit_timeout_seconds", 300)
	v.SetDefault("crawler.host_rps", 0.0)
	v.SetDefault("crawler.host_burst", 1)
	v.SetDefault("scheduler.max_workers", 2)
	v.SetDefault("scheduler.rate_limit_delay_seconds", 5)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.stale_stagger_seconds", 120)
	v.SetDefault("scheduler.group_stagger_seconds", 6)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.FailureThreshold <= 0 {
		return fmt.Errorf("crawler.failure_threshold must be > 0")
	}
	if c.Crawler.BaseDelaySeconds > c.Crawler.MaxDelaySeconds {
		return fmt.Errorf("crawler.base_delay_seconds must be <= crawler.max_delay_seconds")
	}
	if c.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("scheduler.max_workers must be > 0")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// FetchConfig converts crawler settings into the fetch layer's config.
func (c Config) FetchConfig() fetch.Config {
	return fetch.Config{
		UserAgent:        c.Crawler.UserAgent,
		RequestTimeout:   time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second,
		RobotsTimeout:    time.Duration(c.Crawler.RobotsTimeoutSeconds) * time.Second,
		MaxRedirects:     c.Crawler.MaxRedirects,
		BaseDelay:        time.Duration(c.Crawler.BaseDelaySeconds * float64(time.Second)),
		MaxDelay:         time.Duration(c.Crawler.MaxDelaySeconds * float64(time.Second)),
		FailureThreshold: c.Crawler.FailureThreshold,
		CircuitTimeout:   time.Duration(c.Crawler.CircuitTimeoutSeconds) * time.Second,
	}
}

// SchedulerSettings converts scheduler settings into the scheduler's config.
func (c Config) SchedulerSettings() scheduler.Config {
	return scheduler.Config{
		MaxWorkers:     c.Scheduler.MaxWorkers,
		RateLimitDelay: time.Duration(c.Scheduler.RateLimitDelaySeconds) * time.Second,
		MaxRetries:     c.Scheduler.MaxRetries,
		StaleStagger:   time.Duration(c.Scheduler.StaleStaggerSeconds) * time.Second,
		GroupStagger:   time.Duration(c.Scheduler.GroupStaggerSeconds) * time.Second,
		Topic:          c.PubSub.TopicName,
		ArchivePrefix:  c.Archive.Prefix,
	}
}

// RateLimitConfig converts crawler settings into the per-host limiter config.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		RPS:   c.Crawler.HostRPS,
		Burst: c.Crawler.HostBurst,
	}
}
