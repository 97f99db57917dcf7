// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the session orchestrator.
//
// The engine owns the local cache and coordinates every collaborator: the
// remote store, the inference client, the web search client, and the
// realtime listener. Frontends drive it through explicit operations (Send,
// SearchInternet, AddSource, ...) and observe it through cache accessors
// and the Notices channel; there is no package-level state.
//
// # Lifecycle
//
//	eng, err := engine.New(cfg)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Close()
//
// Start performs the initial load (conversations and sources), auto-selects
// the first conversation, and starts the realtime listener plus the
// reconciliation loop. Close tears all of it down.
//
// # Degraded mode
//
// Durable-write failures never block the conversation. A message or source
// whose persist fails on a transport error stays in the cache as a
// memory-only item and a warning Notice is emitted; only validation
// rejections roll the optimistic item back. Without store credentials the
// engine runs entirely in memory.
package engine
