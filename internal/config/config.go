// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultSystemPrompt is the persona preamble for the text and vision models.
// Assembled retrieval context, when present, is appended after it.
const DefaultSystemPrompt = "You are an intelligent assistant with expertise in " +
	"RAG (Retrieval-Augmented Generation)."

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ragchat configuration.
type Config struct {
	Store  StoreConfig  `toml:"store"`
	Cloud  CloudConfig  `toml:"cloud"`
	Search SearchConfig `toml:"search"`
	Chat   ChatConfig   `toml:"chat"`
	Log    LogConfig    `toml:"log"`
}

// StoreConfig contains remote store connection settings.
type StoreConfig struct {
	// URL is the base URL of the remote store REST API.
	URL string `toml:"url"`
	// APIKey authenticates both REST and realtime connections.
	APIKey string `toml:"api_key"`
	// RealtimeURL is the push-notification websocket endpoint. When empty
	// it is derived from URL (https -> wss, plus /realtime/v1).
	RealtimeURL string `toml:"realtime_url"`
}

// CloudConfig contains model inference settings.
type CloudConfig struct {
	// OpenRouterKey is the OpenRouter API key.
	OpenRouterKey string `toml:"openrouter_key"`
	// TextModel handles text-only turns, streamed.
	TextModel string `toml:"text_model"`
	// VisionModel handles turns with image attachments, never streamed.
	VisionModel string `toml:"vision_model"`
	// Temperature and MaxTokens are the sampling defaults for both models.
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	// BraveKey is the Brave Search subscription token.
	BraveKey string `toml:"brave_key"`
}

// ChatConfig contains conversation behavior settings.
type ChatConfig struct {
	// SystemPrompt is the persona preamble prepended to every exchange.
	SystemPrompt string `toml:"system_prompt"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `toml:"level"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values. Credentials are
// empty; the engine degrades to memory-only operation without them.
func Default() *Config {
	return &Config{
		Cloud: CloudConfig{
			TextModel:   "google/gemini-2.5-pro-exp-03-25:free",
			VisionModel: "qwen/qwen2.5-vl-3b-instruct:free",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the ragchat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragchat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// SECURITY: The file holds API keys, so it must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default file, falling back to defaults
// when no file exists. Environment overrides are applied last, then the
// result is validated.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with env
// overrides and full validation.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save saves the configuration to the default TOML file.
// SECURITY: The file is created with 0600 permissions.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := Path()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# ragchat configuration file")
	fmt.Fprintln(file, "")
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// DEFAULTS AND DERIVED VALUES
// =============================================================================

// SetDefaults fills zero-value fields with defaults after decoding.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Cloud.TextModel == "" {
		c.Cloud.TextModel = defaults.Cloud.TextModel
	}
	if c.Cloud.VisionModel == "" {
		c.Cloud.VisionModel = defaults.Cloud.VisionModel
	}
	if c.Cloud.Temperature == 0 {
		c.Cloud.Temperature = defaults.Cloud.Temperature
	}
	if c.Cloud.MaxTokens == 0 {
		c.Cloud.MaxTokens = defaults.Cloud.MaxTokens
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = defaults.Chat.SystemPrompt
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// RealtimeEndpoint returns the websocket URL for push notifications,
// deriving it from the store URL when not set explicitly.
func (c *Config) RealtimeEndpoint() string {
	if c.Store.RealtimeURL != "" {
		return c.Store.RealtimeURL
	}
	if c.Store.URL == "" {
		return ""
	}
	ws := strings.Replace(c.Store.URL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return strings.TrimSuffix(ws, "/") + "/realtime/v1"
}

// HasStore reports whether remote store credentials are present.
func (c *Config) HasStore() bool {
	return c.Store.URL != "" && c.Store.APIKey != ""
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Store.URL != "" {
		if u, err := url.Parse(c.Store.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "store.url",
				Message: fmt.Sprintf("invalid URL %q", c.Store.URL),
			})
		}
	}
	if c.Store.RealtimeURL != "" {
		u, err := url.Parse(c.Store.RealtimeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, ValidationError{
				Field:   "store.realtime_url",
				Message: fmt.Sprintf("must be a ws:// or wss:// URL, got %q", c.Store.RealtimeURL),
			})
		}
	}

	if c.Cloud.Temperature < 0 || c.Cloud.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "cloud.temperature",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", c.Cloud.Temperature),
		})
	}
	if c.Cloud.MaxTokens < 0 || c.Cloud.MaxTokens > 32768 {
		errs = append(errs, ValidationError{
			Field:   "cloud.max_tokens",
			Message: fmt.Sprintf("must be 0-32768, got %d", c.Cloud.MaxTokens),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level %q, must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RAGCHAT_STORE_URL: overrides store.url
//   - RAGCHAT_STORE_KEY: overrides store.api_key
//   - RAGCHAT_REALTIME_URL: overrides store.realtime_url
//   - RAGCHAT_OPENROUTER_KEY: overrides cloud.openrouter_key
//   - RAGCHAT_TEXT_MODEL: overrides cloud.text_model
//   - RAGCHAT_VISION_MODEL: overrides cloud.vision_model
//   - RAGCHAT_MAX_TOKENS: overrides cloud.max_tokens
//   - RAGCHAT_BRAVE_KEY: overrides search.brave_key
//   - RAGCHAT_SYSTEM_PROMPT: overrides chat.system_prompt
//   - RAGCHAT_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RAGCHAT_STORE_URL"); v != "" {
		c.Store.URL = v
	}
	if v := os.Getenv("RAGCHAT_STORE_KEY"); v != "" {
		c.Store.APIKey = v
	}
	if v := os.Getenv("RAGCHAT_REALTIME_URL"); v != "" {
		c.Store.RealtimeURL = v
	}
	if v := os.Getenv("RAGCHAT_OPENROUTER_KEY"); v != "" {
		c.Cloud.OpenRouterKey = v
	}
	if v := os.Getenv("RAGCHAT_TEXT_MODEL"); v != "" {
		c.Cloud.TextModel = v
	}
	if v := os.Getenv("RAGCHAT_VISION_MODEL"); v != "" {
		c.Cloud.VisionModel = v
	}
	if v := os.Getenv("RAGCHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cloud.MaxTokens = n
		}
	}
	if v := os.Getenv("RAGCHAT_BRAVE_KEY"); v != "" {
		c.Search.BraveKey = v
	}
	if v := os.Getenv("RAGCHAT_SYSTEM_PROMPT"); v != "" {
		c.Chat.SystemPrompt = v
	}
	if v := os.Getenv("RAGCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a representation of the config for debugging.
// SECURITY: API keys are redacted so the output is safe to log.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Store.APIKey != "" {
		safe.Store.APIKey = "[REDACTED]"
	}
	if safe.Cloud.OpenRouterKey != "" {
		safe.Cloud.OpenRouterKey = "[REDACTED]"
	}
	if safe.Search.BraveKey != "" {
		safe.Search.BraveKey = "[REDACTED]"
	}
	var b strings.Builder
	toml.NewEncoder(&b).Encode(safe)
	return b.String()
}
