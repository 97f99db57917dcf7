// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the keyed, in-memory mirror of the remote store's
// collections, supporting optimistic mutation, rollback, and targeted
// invalidation.
//
// # Partitions
//
// A Cache bundles three logical partitions: conversations, per-conversation
// message lists, and retrieval sources. Conversations and sources use the
// single GlobalKey; message lists are keyed by conversation ID so each
// conversation can be fetched and invalidated independently.
//
// # Optimistic Writes
//
// OptimisticAppend inserts an item before the remote write resolves and
// returns a correlation handle. When the server responds, Confirm swaps the
// optimistic item for the canonical server copy (identifier remap is
// mandatory because identifiers are server-assigned). If the write fails and
// the caller chooses to abandon it, Rollback removes the item; if the caller
// keeps it (degraded, memory-only mode) the item stays visible and survives
// reconciliation against refetched server data.
//
//	h := cache.Messages.OptimisticAppend(convID, msg)
//	saved, err := store.CreateMessage(ctx, ...)
//	if err != nil {
//	    // keep local state, surface a degraded-mode notice
//	} else {
//	    cache.Messages.Confirm(h, saved)
//	}
//
// All mutation is guarded by a per-partition lock: concurrent readers see
// either the pre- or post-mutation state, never a partially applied item.
package cache
