package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML
var ErrUnsupportedFormat = errors.New("unsupported config format")

// CircuitBreakerConfig controls endpoint failover in the HTTP backend
type CircuitBreakerConfig struct {
	FailureThreshold  int     `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold"`       // Number of failures before opening circuit
	BackoffSeconds    float64 `json:"backoff_seconds" yaml:"backoff_seconds" toml:"backoff_seconds"`             // How long to wait before retrying failed endpoint
	MaxBackoffSeconds float64 `json:"max_backoff_seconds" yaml:"max_backoff_seconds" toml:"max_backoff_seconds"` // Maximum backoff time
}

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  2,   // Open circuit after 2 consecutive failures
		BackoffSeconds:    30,  // Initial 30s backoff
		MaxBackoffSeconds: 300, // Max 5min backoff
	}
}

// Config holds every knob of a normalisation run. Timeouts are in seconds so
// YAML, TOML and env files all express them the same way.
type Config struct {
	// Models per pipeline stage
	Shot0Model string `json:"shot0_model" yaml:"shot0_model" toml:"shot0_model"` // initial, fast attempt
	Shot1Model string `json:"shot1_model" yaml:"shot1_model" toml:"shot1_model"` // self-repair attempt
	BigModel   string `json:"big_model" yaml:"big_model" toml:"big_model"`       // more capable fallback

	// Backend transport
	Endpoints   []string `json:"endpoints" yaml:"endpoints" toml:"endpoints"` // OpenAI-compatible chat completion URLs
	APIKey      string   `json:"-" yaml:"api_key" toml:"api_key"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP        float64  `json:"top_p" yaml:"top_p" toml:"top_p"`

	// Timeouts in seconds
	APITimeout     float64 `json:"api_timeout" yaml:"api_timeout" toml:"api_timeout"`
	SelfFixTimeout float64 `json:"self_fix_timeout" yaml:"self_fix_timeout" toml:"self_fix_timeout"`
	LintTimeout    float64 `json:"lint_timeout" yaml:"lint_timeout" toml:"lint_timeout"`

	// Languages whose fenced blocks go through the syntax/style gate
	LintLanguages []string `json:"lint_languages" yaml:"lint_languages" toml:"lint_languages"`

	// Keep a leading front matter header away from the backend
	PreserveFrontMatter bool `json:"preserve_front_matter" yaml:"preserve_front_matter" toml:"preserve_front_matter"`

	// Observability and persistence
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogDir      string `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
	SaveReports bool   `json:"save_reports" yaml:"save_reports" toml:"save_reports"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker" toml:"circuit_breaker"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Shot0Model:          "gpt-4.1-nano",
		Shot1Model:          "gpt-4.1-nano",
		BigModel:            "gpt-4.1",
		Endpoints:           []string{"https://api.openai.com/v1/chat/completions"},
		MaxTokens:           6000,
		Temperature:         0.2,
		TopP:                1.0,
		APITimeout:          15,
		SelfFixTimeout:      15,
		LintTimeout:         10,
		LintLanguages:       []string{"python"},
		PreserveFrontMatter: true,
		LogLevel:            "info",
		LogDir:              "logs",
		SaveReports:         true,
		CircuitBreaker:      DefaultCircuitBreakerConfig(),
	}
}

// Load reads path on top of the defaults. The format follows the extension:
// .yaml/.yml or .toml. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(strings.NewReader(string(data)))
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return cfg, nil
}

// LoadWithEnv loads path, then applies overrides from envFile (KEY=VALUE
// lines, missing file ignored) and finally from the process environment.
// The result is validated.
func LoadWithEnv(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	envVars := make(map[string]string)
	if envFile != "" {
		envVars, err = loadEnvFile(envFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}
	for _, key := range envKeys {
		if value, ok := os.LookupEnv(key); ok {
			envVars[key] = value
		}
	}

	if err := cfg.applyEnv(envVars); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var envKeys = []string{
	"RIN_SHOT0_MODEL",
	"RIN_SHOT1_MODEL",
	"RIN_BIG_MODEL",
	"RIN_ENDPOINTS",
	"RIN_API_KEY",
	"RIN_API_TIMEOUT",
	"RIN_SELF_FIX_TIMEOUT",
	"RIN_LINT_TIMEOUT",
	"RIN_LINT_LANGUAGES",
	"RIN_LOG_LEVEL",
	"RIN_LOG_DIR",
}

func (c *Config) applyEnv(envVars map[string]string) error {
	for key, value := range envVars {
		if value == "" {
			continue
		}
		switch key {
		case "RIN_SHOT0_MODEL":
			c.Shot0Model = value
		case "RIN_SHOT1_MODEL":
			c.Shot1Model = value
		case "RIN_BIG_MODEL":
			c.BigModel = value
		case "RIN_ENDPOINTS":
			c.Endpoints = splitList(value)
		case "RIN_API_KEY":
			c.APIKey = value
		case "RIN_LINT_LANGUAGES":
			c.LintLanguages = splitList(value)
		case "RIN_LOG_LEVEL":
			c.LogLevel = value
		case "RIN_LOG_DIR":
			c.LogDir = value
		case "RIN_API_TIMEOUT", "RIN_SELF_FIX_TIMEOUT", "RIN_LINT_TIMEOUT":
			seconds, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%s must be a number of seconds: %w", key, err)
			}
			switch key {
			case "RIN_API_TIMEOUT":
				c.APITimeout = seconds
			case "RIN_SELF_FIX_TIMEOUT":
				c.SelfFixTimeout = seconds
			default:
				c.LintTimeout = seconds
			}
		}
	}
	return nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Shot0Model, validation.Required),
		validation.Field(&c.Shot1Model, validation.Required),
		validation.Field(&c.BigModel, validation.Required),
		validation.Field(&c.Endpoints, validation.Required, validation.Each(validation.Required, is.URL)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.APITimeout, validation.Required, validation.Min(0.0)),
		validation.Field(&c.SelfFixTimeout, validation.Required, validation.Min(0.0)),
		validation.Field(&c.LintTimeout, validation.Required, validation.Min(0.0)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
	)
}

// RequestTimeout bounds shot0 and fallback requests
func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.APITimeout)
}

// SelfFixRequestTimeout bounds the self-repair request
func (c *Config) SelfFixRequestTimeout() time.Duration {
	return seconds(c.SelfFixTimeout)
}

// CheckTimeout bounds a single style check
func (c *Config) CheckTimeout() time.Duration {
	return seconds(c.LintTimeout)
}

// CheckedLanguages returns the lint language set, lower-cased
func (c *Config) CheckedLanguages() map[string]struct{} {
	langs := make(map[string]struct{}, len(c.LintLanguages))
	for _, lang := range c.LintLanguages {
		if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
			langs[lang] = struct{}{}
		}
	}
	return langs
}

// MaskedAPIKey returns the API key safe for logging
func (c *Config) MaskedAPIKey() string {
	return maskAPIKey(c.APIKey)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			filtered = append(filtered, part)
		}
	}
	return filtered
}

// maskAPIKey masks an API key for safe logging
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}
