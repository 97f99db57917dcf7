// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// RAG SOURCE TYPE
// =============================================================================

// SourceType classifies a retrieval source.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceURL      SourceType = "url"
	SourceText     SourceType = "text"
)

// RAGSource is a retrieval source created by explicit user action (pasted
// text, submitted URL, or uploaded document). Sources are never mutated in
// place; chunks are recomputed wholesale from Content, in practice once at
// creation and again after each refetch from the remote store.
type RAGSource struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Type    SourceType `json:"type"`
	Content string     `json:"content"`
	URL     string     `json:"url,omitempty"`

	// Chunks are computed client-side and not persisted.
	Chunks []RAGChunk `json:"-"`
}

// NewSource creates a source with a locally generated ID.
func NewSource(name string, typ SourceType, content, url string) RAGSource {
	return RAGSource{
		ID:      newLocalID(),
		Name:    name,
		Type:    typ,
		Content: content,
		URL:     url,
	}
}

// =============================================================================
// RAG CHUNK TYPE
// =============================================================================

// RAGChunk is a bounded-size slice of a source's content, the unit of
// retrieval. Chunks are owned exclusively by their source.
type RAGChunk struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Content  string `json:"content"`

	// Position is the 0-based index of the chunk within its source.
	Position int `json:"position"`

	// Embedding is reserved for future semantic retrieval; the keyword
	// ranker does not use it.
	Embedding []float64 `json:"embedding,omitempty"`
}

// =============================================================================
// SEARCH RESULT TYPE
// =============================================================================

// SearchResult is a single web search hit. Results are ephemeral: they are
// not persisted as first-class entities but rendered into a synthetic
// assistant message for display.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// FormatSearchResults renders search results as the markdown body of a
// synthetic assistant message.
func FormatSearchResults(query string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Search results for: %q\n\n", query)
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "- **[%s](%s)**: %s", r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
