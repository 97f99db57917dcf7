// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// attachments, and retrieval sources.
//
// # Key Types
//
//   - Conversation: a titled, timestamped sequence of messages
//   - Message: a single role-tagged message with optional attachments
//   - Attachment: an image, document, or URL attached to a message
//   - RAGSource: a retrieval source with its computed chunks
//   - RAGChunk: a bounded-size slice of a source used for retrieval
//   - SearchResult: an ephemeral web search hit
//
// # Message Status
//
// Messages carry an explicit Status (pending, final, error) instead of
// encoding state in sentinel content strings. A placeholder assistant
// message shown while a response is generated has StatusPending and is
// replaced in place once the real response (or an error) arrives:
//
//	msg := model.NewPlaceholderMessage(convID, model.PlaceholderThinking)
//	// ... model call completes ...
//	final := model.NewAssistantMessage(convID, responseText)
//
// Status, never content, decides whether a message is real: content that
// happens to equal a placeholder string must not be treated as pending.
package model
