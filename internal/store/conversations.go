// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jeranaias/ragchat/internal/model"
)

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// ListConversations returns all conversations, most recently updated first.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, "/conversations?select=*&order=updated_at.desc", nil, false)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[conversationRow](body)
	if err != nil {
		return nil, err
	}
	convs := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, row.toModel())
	}
	return convs, nil
}

// CreateConversation creates a conversation with the given title and returns
// the record with its server-assigned identifier and timestamps.
func (c *Client) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	body, err := c.do(ctx, http.MethodPost, "/conversations",
		[]conversationRow{{Title: title}}, true)
	if err != nil {
		return model.Conversation{}, err
	}
	row, err := decodeSingle[conversationRow](body)
	if err != nil {
		return model.Conversation{}, err
	}
	return row.toModel(), nil
}

// RenameConversation sets a conversation's title. Used once per
// conversation, when the first user message fixes the derived title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	path := fmt.Sprintf("/conversations?id=eq.%s", url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodPatch, path, map[string]string{"title": title}, false)
	return err
}

// TouchConversation bumps a conversation's updated_at timestamp. Called after
// every message create so the conversation list sorts by recency.
func (c *Client) TouchConversation(ctx context.Context, id string) error {
	path := fmt.Sprintf("/conversations?id=eq.%s", url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodPatch, path,
		map[string]string{"updated_at": time.Now().UTC().Format(time.RFC3339Nano)}, false)
	return err
}

// DeleteConversation deletes a conversation; the remote store cascades to
// its messages and their attachments.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	path := fmt.Sprintf("/conversations?id=eq.%s", url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodDelete, path, nil, false)
	return err
}
