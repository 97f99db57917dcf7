// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search implements the web search client.
//
// Search is best-effort by contract: Search never returns an error. Any
// failure (transport, non-200 status, decode, or the fixed 5 second
// timeout) yields a single synthetic fallback result that points the user
// at the search engine's own results page. Callers render whatever comes
// back; they never branch on a search failure.
package search
