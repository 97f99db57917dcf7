// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ragchat.
//
// Configuration is TOML (~/.ragchat/config.toml) with built-in defaults and
// RAGCHAT_* environment variable overrides applied last. A fsnotify-based
// watcher supports hot reload: edits to the config file are debounced,
// re-loaded, re-validated, and handed to a callback.
//
// # Key Types
//
//   - Config: the complete configuration tree (store, cloud, search, chat, log).
//   - Watcher: debounced hot-reload watcher over the config file.
//
// Secrets (API keys) live in the config file, which is created and kept at
// mode 0600.
package config
