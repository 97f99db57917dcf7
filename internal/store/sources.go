// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jeranaias/ragchat/internal/model"
)

// =============================================================================
// SOURCE OPERATIONS
// =============================================================================

// ListSources returns all retrieval sources. Chunks are not stored remotely;
// the caller recomputes them from Content.
func (c *Client) ListSources(ctx context.Context) ([]model.RAGSource, error) {
	body, err := c.do(ctx, http.MethodGet, "/rag_sources?select=*", nil, false)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[sourceRow](body)
	if err != nil {
		return nil, err
	}
	sources := make([]model.RAGSource, 0, len(rows))
	for _, row := range rows {
		sources = append(sources, row.toModel())
	}
	return sources, nil
}

// CreateSource durably writes a source (without identifier or chunks) and
// returns the record with its server-assigned identifier.
func (c *Client) CreateSource(ctx context.Context, src model.RAGSource) (model.RAGSource, error) {
	body, err := c.do(ctx, http.MethodPost, "/rag_sources",
		[]sourceRow{{Name: src.Name, Type: string(src.Type), Content: src.Content, URL: src.URL}}, true)
	if err != nil {
		return model.RAGSource{}, err
	}
	row, err := decodeSingle[sourceRow](body)
	if err != nil {
		return model.RAGSource{}, err
	}
	return row.toModel(), nil
}

// DeleteSource deletes a source and, by cascade, anything derived from it.
func (c *Client) DeleteSource(ctx context.Context, id string) error {
	path := fmt.Sprintf("/rag_sources?id=eq.%s", url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodDelete, path, nil, false)
	return err
}
