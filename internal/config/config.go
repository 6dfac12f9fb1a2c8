package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/cleanloom/internal/utils"
)

// EnvPrefix prefixes every environment override, e.g. CLEANLOOM_LOG_LEVEL.
const EnvPrefix = "CLEANLOOM"

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxPromptTokens int     `mapstructure:"max_prompt_tokens" yaml:"max_prompt_tokens"`
	ModelsCatalog   string  `mapstructure:"models_catalog" yaml:"models_catalog"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost       string `mapstructure:"ollama_host" yaml:"ollama_host"`
	OllamaTimeoutSec int    `mapstructure:"ollama_timeout_sec" yaml:"ollama_timeout_sec"`

	// Analysis
	SampleSize      int    `mapstructure:"sample_size" yaml:"sample_size"`
	HistogramColumn string `mapstructure:"histogram_column" yaml:"histogram_column"`
	FetchTimeoutSec int    `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`

	// Server
	ServerAddr         string `mapstructure:"server_addr" yaml:"server_addr"`
	SessionIdleMinutes int    `mapstructure:"session_idle_minutes" yaml:"session_idle_minutes"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	SeqURL    string `mapstructure:"seq_url" yaml:"seq_url"`
}

var defaults = map[string]any{
	"api_key":              "",
	"default_model":        "",
	"default_provider":     "openrouter",
	"max_tokens":           8192,
	"temperature":          0.2,
	"max_prompt_tokens":    100000,
	"models_catalog":       "",
	"http_timeout_sec":     120,
	"retry_max_attempts":   3,
	"retry_base_delay_ms":  500,
	"retry_max_delay_ms":   4000,
	"ollama_host":          "http://127.0.0.1:11434",
	"ollama_timeout_sec":   300,
	"sample_size":          100,
	"histogram_column":     "first",
	"fetch_timeout_sec":    30,
	"max_upload_mb":        50,
	"server_addr":          "127.0.0.1:8080",
	"session_idle_minutes": 60,
	"log_level":            "info",
	"log_format":           "text",
	"seq_url":              "",
}

// Keys lists every configuration key in sorted order.
func Keys() []string {
	out := make([]string, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultPath is ~/.cleanloom/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".cleanloom", "config.yaml"), nil
}

// Save writes the configuration as YAML to cfgFile, or to DefaultPath when empty.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load reads configuration. Precedence: env > config file > defaults; flags
// are applied by the caller afterwards. A .env file in the working directory
// is loaded first without overriding variables already set.
func Load(cfgFile string) (*Global, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return &c, nil
}

// Set assigns a single key from its string form, converting to the field type.
func (c *Global) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	// Round-trip through YAML so the tags stay the single source of key names.
	raw := map[string]any{}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch defaults[key].(type) {
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: expected an integer: %w", key, err)
		}
		raw[key] = n
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: expected a number: %w", key, err)
		}
		raw[key] = f
	default:
		raw[key] = value
	}
	b, err = yaml.Marshal(raw)
	if err != nil {
		return err
	}
	var next Global
	if err := yaml.Unmarshal(b, &next); err != nil {
		return err
	}
	*c = next
	return nil
}

// Validate checks enumerated and range-bound settings.
func (c *Global) Validate() error {
	var errs []error
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.HistogramColumn {
	case "", "first", "variance":
	default:
		errs = append(errs, fmt.Errorf("histogram_column must be first or variance, got %q", c.HistogramColumn))
	}
	if c.SampleSize < 0 {
		errs = append(errs, errors.New("sample_size must not be negative"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", c.Temperature))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe for display.
func (c Global) Redacted() Global {
	if n := len(c.APIKey); n > 8 {
		c.APIKey = c.APIKey[:4] + strings.Repeat("*", n-8) + c.APIKey[n-4:]
	} else if n > 0 {
		c.APIKey = "****"
	}
	return c
}
