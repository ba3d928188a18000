package main

import (
	"fmt"
	"os"
	"time"

	"ctfboard/internal/broadcast"
	"ctfboard/internal/common/cache"
	"ctfboard/internal/common/db"
	commonmw "ctfboard/internal/common/http/middleware"
	"ctfboard/internal/common/mq"
	"ctfboard/internal/scheduler"
	scoreboardService "ctfboard/internal/scoreboard/service"
	submitService "ctfboard/internal/submit/service"
	"ctfboard/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultPingTimeout     = 5 * time.Second
	defaultMetricsPath     = "/metrics"
	defaultMonitorTopic    = "ctfboard.monitor"
)

// Broadcast modes.
const (
	BroadcastLocal = "local"
	BroadcastRedis = "redis"
	BroadcastKafka = "kafka"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// SubmitConfig holds answer intake settings.
type SubmitConfig struct {
	MaxAnswerBytes int                           `yaml:"maxAnswerBytes"`
	RateLimit      submitService.RateLimitConfig `yaml:"rateLimit"`
	Timeouts       submitService.TimeoutConfig   `yaml:"timeouts"`
}

// RecomputeConfig holds the recompute queue and worker settings.
type RecomputeConfig struct {
	Queue  submitService.QueueConfig  `yaml:"queue"`
	Worker submitService.WorkerConfig `yaml:"worker"`
}

// ScoreboardConfig holds scoreboard cache and ranking settings.
type ScoreboardConfig struct {
	Cache            scoreboardService.CacheConfig `yaml:"cache"`
	TieBreak         scoreboardService.TieBreak    `yaml:"tieBreak"`
	PublicTrackLabel string                        `yaml:"publicTrackLabel"`
}

// BroadcastConfig selects how live events reach monitors on other instances.
type BroadcastConfig struct {
	// Mode is local, redis or kafka.
	Mode        string              `yaml:"mode"`
	Policy      broadcast.Policy    `yaml:"policy"`
	Topic       string              `yaml:"topic"`
	RedisPrefix string              `yaml:"redisPrefix"`
	EventTTL    time.Duration       `yaml:"eventTTL"`
	Hub         broadcast.HubConfig `yaml:"hub"`
}

// ContainerConfig controls container teardown.
type ContainerConfig struct {
	// Enabled connects to the Docker engine from the DOCKER_* environment.
	Enabled     bool          `yaml:"enabled"`
	PingTimeout time.Duration `yaml:"pingTimeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds ctfboard configuration.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	CORS       commonmw.CORSConfig `yaml:"cors"`
	Logger     logger.Config       `yaml:"logger"`
	Database   db.MySQLConfig      `yaml:"database"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      mq.KafkaConfig      `yaml:"kafka"`
	Submit     SubmitConfig        `yaml:"submit"`
	Recompute  RecomputeConfig     `yaml:"recompute"`
	Scoreboard ScoreboardConfig    `yaml:"scoreboard"`
	Broadcast  BroadcastConfig     `yaml:"broadcast"`
	Scheduler  scheduler.Config    `yaml:"scheduler"`
	Container  ContainerConfig     `yaml:"container"`
	Metrics    MetricsConfig       `yaml:"metrics"`
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if cfg.Submit.MaxAnswerBytes == 0 {
		cfg.Submit.MaxAnswerBytes = 1024
	}
	if cfg.Submit.RateLimit.Window == 0 {
		cfg.Submit.RateLimit.Window = time.Minute
	}
	if cfg.Submit.RateLimit.TeamMax == 0 {
		cfg.Submit.RateLimit.TeamMax = 60
	}
	if cfg.Submit.Timeouts.DB == 0 {
		cfg.Submit.Timeouts.DB = 3 * time.Second
	}
	if cfg.Submit.Timeouts.Cache == 0 {
		cfg.Submit.Timeouts.Cache = time.Second
	}

	if cfg.Recompute.Queue.Backpressure == "" {
		cfg.Recompute.Queue.Backpressure = submitService.BackpressureBlock
	}
	if cfg.Recompute.Queue.EnqueueTimeout == 0 {
		cfg.Recompute.Queue.EnqueueTimeout = time.Second
	}
	switch cfg.Recompute.Queue.Backpressure {
	case submitService.BackpressureBlock, submitService.BackpressureReject:
	default:
		return fmt.Errorf("unknown recompute backpressure %q", cfg.Recompute.Queue.Backpressure)
	}

	if cfg.Scoreboard.Cache.Timeout == 0 {
		cfg.Scoreboard.Cache.Timeout = time.Second
	}
	if cfg.Scoreboard.TieBreak == "" {
		cfg.Scoreboard.TieBreak = scoreboardService.TieBreakSubmissionTime
	}

	if cfg.Broadcast.Mode == "" {
		cfg.Broadcast.Mode = BroadcastRedis
	}
	if cfg.Broadcast.Policy == "" {
		cfg.Broadcast.Policy = broadcast.PolicyRedacted
	}
	switch cfg.Broadcast.Mode {
	case BroadcastLocal, BroadcastRedis:
	case BroadcastKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for kafka broadcast")
		}
		if cfg.Broadcast.Topic == "" {
			cfg.Broadcast.Topic = defaultMonitorTopic
		}
	default:
		return fmt.Errorf("unknown broadcast mode %q", cfg.Broadcast.Mode)
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	return nil
}
