package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/typerace-backend/internal/paragraph"
)

// Config is read from the environment, optionally seeded by a .env file.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment  bool          `env:"LOG_DEVELOPMENT" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	RoundDuration    time.Duration `env:"ROUND_DURATION" envDefault:"60s"`
	ParagraphURL     string        `env:"PARAGRAPH_URL"`
	ParagraphTimeout time.Duration `env:"PARAGRAPH_TIMEOUT" envDefault:"5s"`

	// Empty disables the round results archive.
	DatabaseURL string `env:"DATABASE_URL"`

	WS WebSocket
}

type WebSocket struct {
	AllowedOrigins    []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	WriteTimeout      time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"3s"`
	PingInterval      time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	OutboxSize        int           `env:"WS_OUTBOX_SIZE" envDefault:"32"`
	MessagesPerSecond float64       `env:"WS_MESSAGES_PER_SECOND" envDefault:"30"`
	MessageBurst      int           `env:"WS_MESSAGE_BURST" envDefault:"60"`
}

// Load reads .env files (if present) into the process environment and parses Config.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return Parse()
}

// Parse reads Config from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ParagraphURL == "" {
		cfg.ParagraphURL = paragraph.DefaultURL
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("ADDR must not be empty"))
	}
	if c.RoundDuration <= 0 {
		errs = append(errs, errors.New("ROUND_DURATION must be positive"))
	}
	if c.ParagraphTimeout <= 0 {
		errs = append(errs, errors.New("PARAGRAPH_TIMEOUT must be positive"))
	}
	if c.WS.OutboxSize <= 0 {
		errs = append(errs, errors.New("WS_OUTBOX_SIZE must be positive"))
	}
	if c.WS.MessagesPerSecond <= 0 || c.WS.MessageBurst <= 0 {
		errs = append(errs, errors.New("WS_MESSAGES_PER_SECOND and WS_MESSAGE_BURST must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
