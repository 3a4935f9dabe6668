// Package config loads the fichas binary configuration. Values are layered:
// built-in defaults, then an optional YAML file, then environment variables
// (a .env file in the working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fichas-one/fichas/go/internal/identity"
	"github.com/fichas-one/fichas/go/internal/models"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreNATS     = "nats"
	StorePostgres = "postgres"
	StoreRelay    = "relay"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Store    string `yaml:"store" env:"FICHAS_STORE"`
	Room     string `yaml:"room" env:"FICHAS_ROOM"`
	PlayerID string `yaml:"player_id" env:"FICHAS_PLAYER_ID"`
	Role     string `yaml:"role" env:"FICHAS_ROLE"`

	Debounce     time.Duration `yaml:"debounce" env:"FICHAS_DEBOUNCE"`
	RollDelay    time.Duration `yaml:"roll_delay" env:"FICHAS_ROLL_DELAY"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"FICHAS_WRITE_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"FICHAS_READ_TIMEOUT"`

	NATS struct {
		URL    string `yaml:"url" env:"NATS_URL"`
		Bucket string `yaml:"bucket" env:"FICHAS_NATS_BUCKET"`
	} `yaml:"nats"`

	DB DBConfig `yaml:"db"`

	Relay struct {
		URL  string `yaml:"url" env:"FICHAS_RELAY_URL"`
		Port int    `yaml:"port" env:"PORT"`
	} `yaml:"relay"`

	Log struct {
		Level        string `yaml:"level" env:"LOG_LEVEL"`
		File         string `yaml:"file" env:"LOG_FILE"`
		DebugLogSize int    `yaml:"debug_log_size" env:"FICHAS_DEBUG_LOG_SIZE"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Store = StoreMemory
	c.Room = "mesa"
	c.Role = string(models.RoleParticipant)
	c.Debounce = 700 * time.Millisecond
	c.RollDelay = 1500 * time.Millisecond
	c.WriteTimeout = 10 * time.Second
	c.ReadTimeout = 10 * time.Second
	c.NATS.URL = "nats://127.0.0.1:4222"
	c.DB = defaultDBConfig()
	c.Relay.URL = "ws://localhost:8080/ws"
	c.Relay.Port = 8080
	c.Log.Level = "info"
	c.Log.DebugLogSize = 200
	return c
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks the values that have no sensible fallback.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreNATS, StorePostgres, StoreRelay:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Room == "" {
		return fmt.Errorf("%w: room is required", ErrInvalidConfig)
	}
	if _, err := identity.ParseRole(c.Role); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Debounce <= 0 || c.WriteTimeout <= 0 || c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.RollDelay < 0 {
		return fmt.Errorf("%w: roll delay must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LocalRole returns the parsed role. Validate has already accepted it.
func (c Config) LocalRole() models.Role {
	role, _ := identity.ParseRole(c.Role)
	return role
}

// NATSBucket returns the KeyValue bucket holding the room.
func (c Config) NATSBucket() string {
	if c.NATS.Bucket != "" {
		return c.NATS.Bucket
	}
	return "FICHAS_" + c.Room
}
