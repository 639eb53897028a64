package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/janitor"
	"github.com/gabrieltornquist7/history-clue/internal/scoring"
)

// Config configures the battle service.
type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/battles.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// RedisURL is optional. Without it realtime events stay in process,
	// which only works for a single instance.
	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"historyclue:"`

	// PublicURL is the web client base used in invite join links.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:5173"`

	Timing  battle.Timing  `envPrefix:"BATTLE_"`
	Janitor janitor.Config `envPrefix:"JANITOR_"`
}

// Client configures a player process.
type Client struct {
	Scoring scoring.Config `envPrefix:"SCORING_"`
	Timing  battle.Timing  `envPrefix:"BATTLE_"`
}

func Load() (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

func LoadClient() (*Client, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	cfg, err := env.ParseAs[Client]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// loadDotenv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}
