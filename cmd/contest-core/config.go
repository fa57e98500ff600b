package main

import (
	"fmt"
	"os"
	"time"

	"nexoj/internal/common/cache"
	"nexoj/internal/common/db"
	"nexoj/internal/common/mq"
	"nexoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

// Config is the contest-core configuration.
type Config struct {
	Server ServerConfig      `yaml:"server"`
	Judge  JudgeConfig       `yaml:"judge"`
	MySQL  db.MySQLConfig    `yaml:"mysql"`
	Redis  cache.RedisConfig `yaml:"redis"`
	Kafka  KafkaSection      `yaml:"kafka"`
	Log    logger.Config     `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JudgeConfig holds judge dispatch settings.
type JudgeConfig struct {
	// Token is the shared secret judge workers authenticate with.
	Token string `yaml:"token"`

	// PollTimeout bounds one queue poll inside a worker session.
	PollTimeout time.Duration `yaml:"pollTimeout"`

	// StatusTTL bounds a cached status entry while a task is in flight.
	StatusTTL time.Duration `yaml:"statusTTL"`

	// EvictGrace keeps the final status visible after the verdict lands.
	EvictGrace time.Duration `yaml:"evictGrace"`
}

// KafkaSection wraps the broker config with an enable switch: a single-node
// deployment can run without a broker and skip verdict events.
type KafkaSection struct {
	Enabled        bool `yaml:"enabled"`
	mq.KafkaConfig `yaml:",inline"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Judge.Token == "" {
		return nil, fmt.Errorf("judge.token is required")
	}
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("mysql.dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers are required when kafka is enabled")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8888
	}
	if c.Judge.PollTimeout == 0 {
		c.Judge.PollTimeout = 10 * time.Second
	}
	if c.Judge.StatusTTL == 0 {
		c.Judge.StatusTTL = time.Hour
	}
	if c.Judge.EvictGrace == 0 {
		c.Judge.EvictGrace = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	redisDefaults := cache.DefaultRedisConfig()
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = redisDefaults.DialTimeout
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = redisDefaults.ReadTimeout
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = redisDefaults.WriteTimeout
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = redisDefaults.PoolSize
	}
}
