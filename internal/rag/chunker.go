// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"fmt"
	"regexp"

	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/util"
)

// MaxChunkRunes is the flush threshold for the chunker: once accumulating the
// next paragraph would reach this length, the current buffer is emitted as a
// chunk. A single paragraph longer than the threshold is emitted whole; no
// hard truncation is applied.
const MaxChunkRunes = 500

// paragraphSep matches blank-line paragraph boundaries, including lines that
// contain only whitespace.
var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// =============================================================================
// CHUNKER
// =============================================================================

// Chunk splits raw text into paragraph-aligned chunks of bounded size.
// Paragraphs are accumulated into a buffer; when appending the next paragraph
// would make the buffer reach MaxChunkRunes, the buffer is flushed as one
// chunk and the paragraph starts a new buffer. Positions are sequential,
// starting at 0. Empty input yields no chunks.
func Chunk(text string) []model.RAGChunk {
	paragraphs := paragraphSep.Split(text, -1)

	var chunks []model.RAGChunk
	current := ""

	flush := func() {
		if current == "" {
			return
		}
		chunks = append(chunks, model.RAGChunk{
			ID:       fmt.Sprintf("chunk-%d", len(chunks)),
			Content:  current,
			Position: len(chunks),
		})
		current = ""
	}

	for _, para := range paragraphs {
		if para == "" {
			continue
		}
		if util.RuneLen(current)+util.RuneLen(para) < MaxChunkRunes {
			if current != "" {
				current += "\n\n"
			}
			current += para
		} else {
			flush()
			current = para
		}
	}
	flush()

	return chunks
}

// ChunkSource recomputes the chunks of a source from its raw content,
// assigning source-scoped chunk IDs. Sources are immutable after creation,
// so in practice this runs once when the source is added and again whenever
// the source is refetched from the remote store.
func ChunkSource(src *model.RAGSource) []model.RAGChunk {
	chunks := Chunk(src.Content)
	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s-chunk-%d", src.ID, i)
		chunks[i].SourceID = src.ID
	}
	src.Chunks = chunks
	return chunks
}
