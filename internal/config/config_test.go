// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cloud.TextModel != "google/gemini-2.5-pro-exp-03-25:free" {
		t.Errorf("text model = %q", cfg.Cloud.TextModel)
	}
	if cfg.Cloud.VisionModel != "qwen/qwen2.5-vl-3b-instruct:free" {
		t.Errorf("vision model = %q", cfg.Cloud.VisionModel)
	}
	if cfg.Cloud.Temperature != 0.7 || cfg.Cloud.MaxTokens != 1024 {
		t.Errorf("sampling defaults = %g/%d", cfg.Cloud.Temperature, cfg.Cloud.MaxTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
[store]
url = "https://db.example.com"
api_key = "svc-key"

[cloud]
openrouter_key = "sk-or-abc"
max_tokens = 2048

[log]
level = "debug"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.URL != "https://db.example.com" {
		t.Errorf("store url = %q", cfg.Store.URL)
	}
	if !cfg.HasStore() {
		t.Error("HasStore should be true")
	}
	if cfg.Cloud.MaxTokens != 2048 {
		t.Errorf("max_tokens override lost: %d", cfg.Cloud.MaxTokens)
	}
	// Unset fields keep defaults.
	if cfg.Cloud.TextModel != Default().Cloud.TextModel {
		t.Errorf("text model default lost: %q", cfg.Cloud.TextModel)
	}
	if cfg.Chat.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("system prompt default lost: %q", cfg.Chat.SystemPrompt)
	}
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	path := writeConfig(t, `[store]
url = "https://db.example.com"`)
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions not fixed: %o", info.Mode().Perm())
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"bad store url", func(c *Config) { c.Store.URL = "not a url" }, "store.url"},
		{"bad realtime scheme", func(c *Config) { c.Store.RealtimeURL = "https://x.com" }, "store.realtime_url"},
		{"temperature range", func(c *Config) { c.Cloud.Temperature = 3.5 }, "cloud.temperature"},
		{"max tokens range", func(c *Config) { c.Cloud.MaxTokens = 100000 }, "cloud.max_tokens"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name field %q", err, tt.field)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RAGCHAT_STORE_URL", "https://env.example.com")
	t.Setenv("RAGCHAT_OPENROUTER_KEY", "sk-or-env")
	t.Setenv("RAGCHAT_MAX_TOKENS", "512")
	t.Setenv("RAGCHAT_LOG_LEVEL", "warn")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Store.URL != "https://env.example.com" {
		t.Errorf("store url = %q", cfg.Store.URL)
	}
	if cfg.Cloud.OpenRouterKey != "sk-or-env" {
		t.Errorf("openrouter key = %q", cfg.Cloud.OpenRouterKey)
	}
	if cfg.Cloud.MaxTokens != 512 {
		t.Errorf("max tokens = %d", cfg.Cloud.MaxTokens)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestRealtimeEndpoint(t *testing.T) {
	tests := []struct {
		storeURL    string
		realtimeURL string
		want        string
	}{
		{"https://db.example.com", "", "wss://db.example.com/realtime/v1"},
		{"http://localhost:54321/", "", "ws://localhost:54321/realtime/v1"},
		{"https://db.example.com", "wss://rt.example.com/sock", "wss://rt.example.com/sock"},
		{"", "", ""},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Store.URL = tt.storeURL
		cfg.Store.RealtimeURL = tt.realtimeURL
		if got := cfg.RealtimeEndpoint(); got != tt.want {
			t.Errorf("RealtimeEndpoint(%q, %q) = %q, want %q", tt.storeURL, tt.realtimeURL, got, tt.want)
		}
	}
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Store.APIKey = "svc-secret"
	cfg.Cloud.OpenRouterKey = "sk-or-secret"
	cfg.Search.BraveKey = "brave-secret"

	s := cfg.String()
	for _, secret := range []string{"svc-secret", "sk-or-secret", "brave-secret"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks secret %q", secret)
		}
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should mark redacted fields")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `[log]
level = "info"`)

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.debounce = 50 * time.Millisecond

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		cfg := got
		mu.Unlock()
		if cfg != nil {
			if cfg.Log.Level != "debug" {
				t.Errorf("reloaded level = %q", cfg.Log.Level)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("watcher never delivered the reloaded config")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWatcher_KeepsPreviousOnInvalidEdit(t *testing.T) {
	path := writeConfig(t, `[log]
level = "info"`)

	calls := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { calls <- cfg }, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.debounce = 50 * time.Millisecond

	// Invalid TOML must not reach the callback.
	if err := os.WriteFile(path, []byte("[log\nlevel ="), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-calls:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
