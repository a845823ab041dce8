// Package config loads the engine configuration from appforge.yaml and the
// model token from the environment (.env is honored). Missing files yield
// defaults; the engine runs without any configuration at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults for the turn loop bounds. The reminder budget is deliberately
// small: one autonomous follow-up per user request.
const (
	DefaultMaxPasses      = 20
	DefaultReminderBudget = 1
	DefaultListenAddr     = "127.0.0.1:8800"
)

// Config is the engine configuration.
type Config struct {
	// ProjectRoot is the generated project's directory.
	ProjectRoot string `yaml:"project_root"`

	// Listen is the UI bridge address.
	Listen string `yaml:"listen"`

	Model ModelConfig `yaml:"model"`

	// MaxPasses is the global pass-count ceiling per user request.
	MaxPasses int `yaml:"max_passes"`
	// ReminderBudget bounds todo-reminder continuations per user request.
	ReminderBudget int `yaml:"reminder_budget"`
	// Explore enables the read-only context-gathering pre-pass on the first
	// user message of a conversation.
	Explore bool `yaml:"explore"`

	// AppCommand is the dev command restart_app launches, e.g. "npm run dev".
	AppCommand string `yaml:"app_command"`
	// DatabasePath overrides the app database location; defaults to
	// <root>/.appforge/app.db.
	DatabasePath string `yaml:"database_path"`

	Debug bool `yaml:"debug"`
}

// ModelConfig points at an OpenAI-compatible endpoint.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"`
	Name    string `yaml:"name"`
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`
}

// Token reads the model token from the environment.
func (m ModelConfig) Token() string {
	env := m.TokenEnv
	if env == "" {
		env = "APPFORGE_MODEL_TOKEN"
	}
	return os.Getenv(env)
}

// Load reads the config file at path (or defaults when missing) and loads a
// sibling .env if present.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ProjectRoot:    ".",
		Listen:         DefaultListenAddr,
		MaxPasses:      DefaultMaxPasses,
		ReminderBudget: DefaultReminderBudget,
		Explore:        true,
		Model: ModelConfig{
			BaseURL: "http://localhost:11434/v1",
			Name:    "llama3.1:8b",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults apply
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
		godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	} else {
		godotenv.Load()
	}

	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = DefaultMaxPasses
	}
	if cfg.ReminderBudget < 0 {
		cfg.ReminderBudget = DefaultReminderBudget
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListenAddr
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = "."
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.ProjectRoot, ".appforge", "app.db")
	}
	return cfg, nil
}
