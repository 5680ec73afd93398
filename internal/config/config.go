package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// MinMatches is the number of keyword hits a post needs to count as political.
func (s Sensitivity) MinMatches() int {
	switch s {
	case SensitivityHigh:
		return 1
	case SensitivityLow:
		return 3
	default:
		return 2
	}
}

func ParseSensitivity(v string) (Sensitivity, error) {
	switch s := Sensitivity(strings.ToLower(strings.TrimSpace(v))); s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return s, nil
	default:
		return "", fmt.Errorf("invalid sensitivity %q (want low, medium or high)", v)
	}
}

// Pipeline is the part of the configuration read fresh on every Process call.
type Pipeline struct {
	MaxConcurrency int
	BackendTimeout time.Duration
	Sensitivity    Sensitivity
}

// Current lets a fixed Pipeline value serve as an Accessor.
func (p Pipeline) Current() Pipeline { return p }

type Accessor interface {
	Current() Pipeline
}

type Settings struct {
	BaseURL        string        `env:"RAGEBAITER_BASE_URL" default:"https://openrouter.ai/api/v1/chat/completions"`
	APIKey         string        `env:"OPENROUTER_API_KEY"`
	Model          string        `env:"RAGEBAITER_MODEL" default:"google/gemini-2.0-flash-001"`
	MaxConcurrency int           `env:"RAGEBAITER_MAX_CONCURRENCY" default:"3"`
	BackendTimeout time.Duration `env:"RAGEBAITER_BACKEND_TIMEOUT" default:"25s"`
	Sensitivity    string        `env:"RAGEBAITER_SENSITIVITY" default:"medium"`
	MaxRPS         int           `env:"RAGEBAITER_MAX_RPS" default:"5"`
	CacheTTL       time.Duration `env:"RAGEBAITER_CACHE_TTL" default:"5m"`
	CacheSize      int           `env:"RAGEBAITER_CACHE_SIZE" default:"500"`
	Cooldown       time.Duration `env:"RAGEBAITER_COOLDOWN" default:"30s"`
	GateExpr       string        `env:"RAGEBAITER_GATE_EXPR" default:"true"`
	RedisURL       string        `env:"REDIS_URL"`
	WebhookURL     string        `env:"RAGEBAITER_WEBHOOK_URL"`
	TraceDB        string        `env:"RAGEBAITER_TRACE_DB"`
	LogLevel       string        `env:"LOG_LEVEL" default:"info"`
	LogFormat      string        `env:"LOG_FORMAT" default:"console"`
}

// Load reads settings from the environment after applying envFile, if it
// exists. An empty envFile means ".env". Variables already set in the
// process environment win over the file.
func Load(envFile string) (*Settings, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return load(nil)
}

func load(src env.Source) (*Settings, error) {
	var opts *env.Options
	if src != nil {
		opts = &env.Options{Source: src}
	}
	var s Settings
	if err := env.Load(&s, opts); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if s.MaxConcurrency < 1 {
		return fmt.Errorf("RAGEBAITER_MAX_CONCURRENCY must be at least 1, got %d", s.MaxConcurrency)
	}
	if s.BackendTimeout <= 0 {
		return fmt.Errorf("RAGEBAITER_BACKEND_TIMEOUT must be positive, got %s", s.BackendTimeout)
	}
	if s.MaxRPS < 0 {
		return fmt.Errorf("RAGEBAITER_MAX_RPS must not be negative, got %d", s.MaxRPS)
	}
	if s.CacheSize < 1 {
		return fmt.Errorf("RAGEBAITER_CACHE_SIZE must be at least 1, got %d", s.CacheSize)
	}
	if s.CacheTTL <= 0 {
		return fmt.Errorf("RAGEBAITER_CACHE_TTL must be positive, got %s", s.CacheTTL)
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("RAGEBAITER_COOLDOWN must not be negative, got %s", s.Cooldown)
	}
	sens, err := ParseSensitivity(s.Sensitivity)
	if err != nil {
		return fmt.Errorf("RAGEBAITER_SENSITIVITY: %w", err)
	}
	s.Sensitivity = string(sens)
	return nil
}

func (s *Settings) Pipeline() Pipeline {
	return Pipeline{
		MaxConcurrency: s.MaxConcurrency,
		BackendTimeout: s.BackendTimeout,
		Sensitivity:    Sensitivity(s.Sensitivity),
	}
}

// overlay resolves keys from a parsed dotenv file first, then the process
// environment.
type overlay map[string]string

func (o overlay) LookupEnv(key string) (string, bool) {
	if v, ok := o[key]; ok {
		return v, true
	}
	return os.LookupEnv(key)
}
