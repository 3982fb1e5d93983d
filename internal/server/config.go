package server

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/neuroerp/neuroerp/internal/fabric"
	"github.com/neuroerp/neuroerp/internal/orchestrator"
	"github.com/neuroerp/neuroerp/pkg/audit"
	"github.com/neuroerp/neuroerp/pkg/auth"
	"github.com/neuroerp/neuroerp/pkg/bus"
	"github.com/neuroerp/neuroerp/pkg/genkit"
	"github.com/neuroerp/neuroerp/pkg/graph"
	"github.com/neuroerp/neuroerp/pkg/log"
	"github.com/neuroerp/neuroerp/pkg/redis"
	"github.com/neuroerp/neuroerp/pkg/vector"
)

// Config holds all configuration values
type Config struct {
	Server    ServerConfig                 `toml:"server"`
	Log       log.Config                   `toml:"log"`
	Models    genkit.Config                `toml:"genkit"`
	Vector    vector.OpenSearchConfig      `toml:"vector"`
	Neo4j     graph.Neo4jConfig            `toml:"neo4j"`
	Kafka     bus.KafkaConfig              `toml:"kafka"`
	Redis     redis.Config                 `toml:"redis"`
	Postgres  audit.PostgresConfig         `toml:"postgres"`
	Auth      auth.Config                  `toml:"auth"`
	Fabric    fabric.Config                `toml:"fabric"`
	Scheduler orchestrator.SchedulerConfig `toml:"scheduler"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Mode string `toml:"mode"` // http, mcp, or both
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// WorkflowModel is the model used to generate workflows from
	// natural-language descriptions.
	WorkflowModel string `toml:"workflow_model"`
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.Mode == "" {
		s.Mode = "http" // default mode
	}
	switch s.Mode {
	case "http", "mcp", "both":
		// valid
	default:
		return fmt.Errorf("invalid mode: %s, must be http, mcp, or both", s.Mode)
	}
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port is required and must be between 1 and 65535")
	}
	return nil
}

// Validate checks all configuration fields
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("genkit: %w", err)
	}

	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}

	if err := c.Neo4j.Validate(); err != nil {
		return fmt.Errorf("neo4j: %w", err)
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.Postgres.Validate(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if err := c.Fabric.Validate(); err != nil {
		return fmt.Errorf("fabric: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	return nil
}

// LoadConfig reads and parses the configuration file
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
