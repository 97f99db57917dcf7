// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rag implements naive text chunking and keyword-relevance retrieval
// for building model context.
//
// The pipeline has three synchronous stages:
//
//   - Chunk: split raw source text into bounded-size, paragraph-aligned chunks
//   - Rank: score chunks against a query by keyword overlap, keep the top 3
//   - Assemble: render ranked chunks into an instruction-prefixed context block
//
// # Usage
//
//	chunks := rag.ChunkSource(&source)
//	top := rag.Rank(allChunks, userQuery)
//	context := rag.Assemble(top)
//	if context != "" {
//	    systemPrompt += "\n\n" + context
//	}
//
// This is an intentionally cheap lexical proxy for semantic retrieval,
// acceptable for short source sets. The Embedding field on chunks is
// reserved for a future semantic ranker and is not consulted here.
package rag
