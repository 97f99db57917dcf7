// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the OpenRouter inference client.
//
// OpenRouter exposes many model providers behind a single chat-completions
// API. This package drives two fixed models: a text model used with SSE
// streaming, and a vision model used non-streaming for messages that carry
// an image attachment.
//
// # Key Types
//
//   - Client: the HTTP client, configured with an API key and model IDs.
//   - ChatMessage: a single turn; content is either a plain string or a
//     multipart list of ContentPart values (text plus image data URLs).
//   - StreamChunk: one SSE delta from a streaming completion.
//
// # Usage
//
//	client := cloud.NewClient(apiKey)
//	err := client.ChatStream(ctx, client.TextModel(), messages, func(chunk cloud.StreamChunk) {
//	    render(chunk.GetContent())
//	})
//
// Streaming requests carry an idle watchdog: if no event arrives for
// DefaultStreamIdleTimeout the stream is aborted with ErrStreamStalled
// rather than hanging forever on a dead connection.
package cloud
