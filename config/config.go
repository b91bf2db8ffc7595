// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"novel_ai/gemini"
)

// Config is the process configuration.
type Config struct {
	Addr          string `env:"NOVEL_ADDR" envDefault:"0.0.0.0:9779"`
	DBPath        string `env:"NOVEL_DB_PATH" envDefault:"data/novel.db"`
	StaticDir     string `env:"NOVEL_STATIC_DIR" envDefault:"./static"`
	APIKey        string `env:"GEMINI_API_KEY"`
	BaseURL       string `env:"NOVEL_GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	FreeBaseURL   string `env:"NOVEL_GEMINI_FREE_BASE_URL"`
	FreeTextModel string `env:"NOVEL_FREE_TEXT_MODEL" envDefault:"gemini-2.5-flash-preview-05-20"`
	KeyTextModel  string `env:"NOVEL_KEY_TEXT_MODEL" envDefault:"gemini-2.5-pro"`
	FreeImage     string `env:"NOVEL_FREE_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image-preview"`
	KeyImage      string `env:"NOVEL_KEY_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image"`
	TextBackend   string `env:"NOVEL_TEXT_BACKEND" envDefault:"rest"`
	HistoryWindow int    `env:"NOVEL_HISTORY_WINDOW" envDefault:"4"`
	PreferAPIKey  bool   `env:"NOVEL_PREFER_API_KEY" envDefault:"false"`
	OTelEndpoint  string `env:"NOVEL_OTEL_ENDPOINT"`

	SessionIdleTimeout time.Duration `env:"NOVEL_SESSION_IDLE_TIMEOUT" envDefault:"2h"`
	MaxSessions        int           `env:"NOVEL_MAX_SESSIONS" envDefault:"500"`
}

// Load reads files (default ".env") into the environment, then parses Config.
// Missing files are skipped; variables already set win over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return Parse()
}

// Parse reads Config from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.TextBackend {
	case gemini.BackendREST, gemini.BackendSDK:
	default:
		return fmt.Errorf("NOVEL_TEXT_BACKEND must be %q or %q, got %q", gemini.BackendREST, gemini.BackendSDK, c.TextBackend)
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("NOVEL_HISTORY_WINDOW must be positive, got %d", c.HistoryWindow)
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("NOVEL_SESSION_IDLE_TIMEOUT must not be negative, got %s", c.SessionIdleTimeout)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("NOVEL_MAX_SESSIONS must not be negative, got %d", c.MaxSessions)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("NOVEL_ADDR is required")
	}
	return nil
}

// Models returns the model names per tier.
func (c Config) Models() gemini.Models {
	return gemini.Models{
		FreeText:  c.FreeTextModel,
		KeyText:   c.KeyTextModel,
		FreeImage: c.FreeImage,
		KeyImage:  c.KeyImage,
	}
}
