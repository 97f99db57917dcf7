// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the request/response client for the remote store
// that owns all durable state: conversations, messages, attachments, and
// retrieval sources.
//
// The remote store is a PostgREST-style HTTP API: each table is exposed under
// /rest/v1/<table> with query-string filters, and server-assigned identifiers
// and timestamps are returned on insert via Prefer: return=representation.
//
// # Error Classes
//
// Failures fall into two classes:
//
//   - transport errors: network failures and 5xx responses, returned as
//     wrapped errors (retried with exponential backoff before surfacing)
//   - validation errors: 4xx responses, returned as *StoreError
//
// Callers distinguish them with IsValidation. The orchestrator downgrades
// transport errors on durable writes to degraded-mode notices.
//
// # Rate Limiting
//
// Write calls share a token-bucket limiter so a burst of sends cannot flood
// the remote store; the limiter waits, it does not reject.
package store
