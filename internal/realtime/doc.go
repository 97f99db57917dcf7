// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package realtime implements the push-notification listener.
//
// The remote store broadcasts row-level change notifications over a
// websocket. The listener subscribes to the three replicated tables and
// delivers decoded ChangeEvent values on a channel. Events are hints, not
// data: they say a table changed, and the consumer refetches authoritative
// state over the request/response API.
//
// Delivery is at-least-once. A reconnect replays nothing but may race with
// in-flight changes, so duplicates and stale hints are normal; consumers
// must treat every event as an idempotent invalidation signal.
//
// # Key Types
//
//   - Listener: owns the socket, the reconnect loop, and the event channel.
//   - ChangeEvent: one decoded change notification.
//
// # Usage
//
//	l := realtime.NewListener(wsURL, apiKey)
//	if err := l.Start(ctx); err != nil { ... }
//	defer l.Close()
//	for ev := range l.Events() {
//	    invalidate(ev)
//	}
package realtime
