// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"testing"

	"github.com/jeranaias/ragchat/internal/model"
)

func mkChunks(contents ...string) []model.RAGChunk {
	chunks := make([]model.RAGChunk, len(contents))
	for i, c := range contents {
		chunks[i] = model.RAGChunk{
			ID:       "c" + string(rune('0'+i)),
			Content:  c,
			Position: i,
		}
	}
	return chunks
}

// =============================================================================
// RANKER TESTS
// =============================================================================

func TestRank_EmptyQuery(t *testing.T) {
	chunks := mkChunks("anything at all", "more text")
	if got := Rank(chunks, ""); len(got) != 0 {
		t.Errorf("Rank with empty query = %d chunks, want 0", len(got))
	}
	if got := Rank(chunks, "   \t  "); len(got) != 0 {
		t.Errorf("Rank with whitespace query = %d chunks, want 0", len(got))
	}
}

func TestRank_NoMatches(t *testing.T) {
	chunks := mkChunks("alpha beta", "gamma delta")
	if got := Rank(chunks, "zebra"); len(got) != 0 {
		t.Errorf("Rank without matches = %d chunks, want 0 (zero scores dropped)", len(got))
	}
}

func TestRank_FullMatchScoresHighest(t *testing.T) {
	chunks := mkChunks(
		"RAG is retrieval augmented generation.",
		"retrieval has nothing else",
		"unrelated content",
	)
	got := Rank(chunks, "retrieval augmented")
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	// Chunk 0 matches both keywords (score 1.0), chunk 1 only one (0.5).
	if got[0].Position != 0 || got[1].Position != 1 {
		t.Errorf("order = [%d %d], want [0 1]", got[0].Position, got[1].Position)
	}
}

func TestRank_CaseInsensitive(t *testing.T) {
	chunks := mkChunks("The QUICK Brown Fox")
	got := Rank(chunks, "quick FOX")
	if len(got) != 1 {
		t.Fatalf("case-insensitive match failed, got %d chunks", len(got))
	}
}

func TestRank_TopThreeOnly(t *testing.T) {
	chunks := mkChunks(
		"needle one", "needle two", "needle three", "needle four", "needle five",
	)
	got := Rank(chunks, "needle")
	if len(got) != MaxRankedChunks {
		t.Errorf("got %d chunks, want at most %d", len(got), MaxRankedChunks)
	}
}

func TestRank_StableForEqualScores(t *testing.T) {
	// All chunks score identically; input order must be preserved.
	chunks := mkChunks("needle a", "needle b", "needle c")
	got := Rank(chunks, "needle")
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, c := range got {
		if c.Position != i {
			t.Errorf("position %d at index %d, stable sort violated", c.Position, i)
		}
	}
}

func TestRank_RepeatedKeywordsNotDeduplicated(t *testing.T) {
	// "needle needle other" has three keywords; a chunk containing only
	// "needle" matches two of them (each occurrence of the repeated keyword
	// counts against the total).
	chunks := mkChunks("needle here", "other here")
	got := Rank(chunks, "needle needle other")
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	// needle chunk: 2/3, other chunk: 1/3.
	if got[0].Position != 0 {
		t.Errorf("repeated keywords should weight the needle chunk first")
	}
}

func TestCollectChunks(t *testing.T) {
	s1 := model.RAGSource{ID: "s1", Content: "one"}
	s2 := model.RAGSource{ID: "s2", Content: "two"}
	ChunkSource(&s1)
	ChunkSource(&s2)

	all := CollectChunks([]model.RAGSource{s1, s2})
	if len(all) != 2 {
		t.Fatalf("got %d chunks, want 2", len(all))
	}
	if all[0].SourceID != "s1" || all[1].SourceID != "s2" {
		t.Errorf("source order not preserved: %q %q", all[0].SourceID, all[1].SourceID)
	}
}
