// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"fmt"
	"strings"

	"github.com/jeranaias/ragchat/internal/model"
)

// Fixed framing around the retrieved chunks.
const (
	contextPreamble    = "Relevant context information:"
	contextInstruction = "Use this information to answer the user's question."
)

// =============================================================================
// CONTEXT ASSEMBLER
// =============================================================================

// Assemble renders ranked chunks into a single context block for the model:
// a fixed preamble, each chunk labeled by its 1-based rank position, and a
// fixed instruction to use the information when answering. An empty input
// yields the empty string; the caller must then omit the context block
// entirely rather than emit an empty header.
func Assemble(chunks []model.RAGChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextPreamble)
	b.WriteString("\n\n")
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Fragment %d]:\n%s", i+1, chunk.Content)
	}
	b.WriteString("\n\n")
	b.WriteString(contextInstruction)
	return b.String()
}
