package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/orchestra-mcp/replication/src/cluster"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/transport"
)

var validate = validator.New()

// Config holds replication server configuration.
type Config struct {
	ListenAddr      string `toml:"listen_addr" validate:"required"`
	Path            string `toml:"path" validate:"required_without=InMemory"`
	InMemory        bool   `toml:"in_memory"`
	MaxReplications int    `toml:"max_replications" validate:"min=1"`
	MaxRevTreeDepth int    `toml:"max_rev_tree_depth" validate:"min=1"`

	ReadBufferSize   int `toml:"read_buffer_size" validate:"min=64"`
	WriteBufferSize  int `toml:"write_buffer_size" validate:"min=64"`
	SendQueueSize    int `toml:"send_queue_size" validate:"min=1"`
	PingInterval     int `toml:"ping_interval_seconds" validate:"min=0"`
	WriteTimeout     int `toml:"write_timeout_seconds" validate:"min=1"`
	HandshakeTimeout int `toml:"handshake_timeout_seconds" validate:"min=1"`
	CloseTimeout     int `toml:"close_timeout_seconds" validate:"min=0"`

	Redis RedisConfig `toml:"redis"`
}

// RedisConfig holds settings for the Redis event relay.
type RedisConfig struct {
	Addr     string `toml:"addr" validate:"required,hostname_port"`
	Password string `toml:"password"`
	DB       int    `toml:"db" validate:"min=0"`
	Prefix   string `toml:"prefix" validate:"required"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       ":4984",
		Path:             "data/replication",
		MaxReplications:  100,
		MaxRevTreeDepth:  20,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendQueueSize:    256,
		PingInterval:     30,
		WriteTimeout:     10,
		HandshakeTimeout: 10,
		CloseTimeout:     5,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "orchestra:replication:",
		},
	}
}

// Load reads a TOML file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from REPLICATION_* and REDIS_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("REPLICATION_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REPLICATION_PATH"); v != "" {
		c.Path = v
	}
	if v := os.Getenv("REPLICATION_IN_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REPLICATION_IN_MEMORY: %w", err)
		}
		c.InMemory = b
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REPLICATION_REDIS_PREFIX"); v != "" {
		c.Redis.Prefix = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"REPLICATION_MAX_REPLICATIONS", &c.MaxReplications},
		{"REPLICATION_MAX_REV_TREE_DEPTH", &c.MaxRevTreeDepth},
		{"REPLICATION_SEND_QUEUE_SIZE", &c.SendQueueSize},
		{"REPLICATION_PING_INTERVAL", &c.PingInterval},
		{"REPLICATION_WRITE_TIMEOUT", &c.WriteTimeout},
		{"REDIS_DB", &c.Redis.DB},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Transport returns the websocket transport settings.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		ReadBufferSize:   c.ReadBufferSize,
		WriteBufferSize:  c.WriteBufferSize,
		SendQueueSize:    c.SendQueueSize,
		PingInterval:     time.Duration(c.PingInterval) * time.Second,
		WriteTimeout:     time.Duration(c.WriteTimeout) * time.Second,
		HandshakeTimeout: time.Duration(c.HandshakeTimeout) * time.Second,
		CloseTimeout:     time.Duration(c.CloseTimeout) * time.Second,
	}
}

// Store returns the document store settings.
func (c *Config) Store() docstore.Config {
	cfg := docstore.DefaultConfig()
	cfg.Path = c.Path
	cfg.InMemory = c.InMemory
	cfg.MaxRevTreeDepth = c.MaxRevTreeDepth
	return cfg
}

// Relay returns the Redis relay settings.
func (c *Config) Relay() *cluster.RedisConfig {
	return &cluster.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Prefix:   c.Redis.Prefix,
	}
}
