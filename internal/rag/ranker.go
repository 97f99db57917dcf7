// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"sort"
	"strings"

	"github.com/jeranaias/ragchat/internal/model"
)

// MaxRankedChunks is the number of chunks the ranker returns at most.
const MaxRankedChunks = 3

// =============================================================================
// RELEVANCE RANKER
// =============================================================================

// Rank scores chunks against a query by keyword overlap and returns the top
// MaxRankedChunks, best first. The query is lowercased and split on
// whitespace; each chunk scores the fraction of keywords found as substrings
// of its lowercased content. A keyword counts once regardless of repeated
// occurrence, and repeated keywords in the query are deliberately not
// de-duplicated. Chunks scoring zero are dropped. Ties keep input order.
// An empty query yields no results.
func Rank(chunks []model.RAGChunk, query string) []model.RAGChunk {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return nil
	}

	type scored struct {
		chunk model.RAGChunk
		score float64
	}

	var candidates []scored
	for _, chunk := range chunks {
		content := strings.ToLower(chunk.Content)
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				hits++
			}
		}
		score := float64(hits) / float64(len(keywords))
		if score > 0 {
			candidates = append(candidates, scored{chunk: chunk, score: score})
		}
	}

	// Stable sort keeps source/insertion order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > MaxRankedChunks {
		candidates = candidates[:MaxRankedChunks]
	}

	result := make([]model.RAGChunk, len(candidates))
	for i, c := range candidates {
		result[i] = c.chunk
	}
	return result
}

// CollectChunks flattens the chunks of all sources in order, the input the
// ranker operates on.
func CollectChunks(sources []model.RAGSource) []model.RAGChunk {
	var all []model.RAGChunk
	for _, src := range sources {
		all = append(all, src.Chunks...)
	}
	return all
}
