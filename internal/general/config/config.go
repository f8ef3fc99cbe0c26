package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
	} `yaml:"database"`
	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`
	WebSocket struct {
		Port int `yaml:"port"`
	} `yaml:"websocket"`
	Realtime struct {
		PingIntervalSeconds      int   `yaml:"ping_interval_seconds"`       // heartbeat sweep period
		MissedPongThreshold      int   `yaml:"missed_pong_threshold"`       // consecutive missed pongs before removal
		WriteTimeoutSeconds      int   `yaml:"write_timeout_seconds"`       // outbound frame write deadline
		MinReportIntervalSeconds int   `yaml:"min_report_interval_seconds"` // 0 disables location-report throttling
		ReadLimitBytes           int64 `yaml:"read_limit_bytes"`            // max inbound frame size
	} `yaml:"realtime"`
	JWT struct {
		SecretKey string `yaml:"secret_key"` // empty: identities are recorded as asserted
	} `yaml:"jwt"`
}

// LoadFromFile loads config from a YAML file, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// WebSocket
	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = 8080
	}

	// Realtime
	if cfg.Realtime.PingIntervalSeconds == 0 {
		cfg.Realtime.PingIntervalSeconds = 30
	}
	if cfg.Realtime.MissedPongThreshold == 0 {
		cfg.Realtime.MissedPongThreshold = 2
	}
	if cfg.Realtime.WriteTimeoutSeconds == 0 {
		cfg.Realtime.WriteTimeoutSeconds = 5
	}
	if cfg.Realtime.ReadLimitBytes == 0 {
		cfg.Realtime.ReadLimitBytes = 1 << 20 // 1 MiB
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.database is required")
	}

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	// WebSocket
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		problems = append(problems, "websocket.port must be in 1..65535")
	}

	// Realtime
	if c.Realtime.PingIntervalSeconds < 1 {
		problems = append(problems, "realtime.ping_interval_seconds must be >= 1")
	}
	if c.Realtime.MissedPongThreshold < 1 {
		problems = append(problems, "realtime.missed_pong_threshold must be >= 1")
	}
	if c.Realtime.WriteTimeoutSeconds < 1 {
		problems = append(problems, "realtime.write_timeout_seconds must be >= 1")
	}
	if c.Realtime.MinReportIntervalSeconds < 0 {
		problems = append(problems, "realtime.min_report_interval_seconds must be >= 0")
	}
	if c.Realtime.ReadLimitBytes < 1024 {
		problems = append(problems, "realtime.read_limit_bytes must be >= 1024")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ----- Derived durations -----

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Realtime.PingIntervalSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Realtime.WriteTimeoutSeconds) * time.Second
}

func (c *Config) MinReportInterval() time.Duration {
	return time.Duration(c.Realtime.MinReportIntervalSeconds) * time.Second
}
