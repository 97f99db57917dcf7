// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/jeranaias/ragchat/internal/model"
)

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// ListMessages returns a conversation's messages in chronological order,
// with their attachments embedded.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	path := fmt.Sprintf("/messages?select=*,attachments(*)&conversation_id=eq.%s&order=timestamp.asc",
		url.QueryEscape(conversationID))
	body, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[messageRow](body)
	if err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// CreateMessage durably writes a message, then its attachments, then bumps
// the owning conversation's updated_at. The returned message carries the
// server-assigned identifier and timestamp.
//
// The writes are sequential, not transactional: a failure after the message
// insert leaves the message durable without its attachments. The returned
// error tells the caller which stage failed.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string, role model.Role, attachments []model.Attachment) (model.Message, error) {
	body, err := c.do(ctx, http.MethodPost, "/messages",
		[]messageRow{{ConversationID: conversationID, Content: content, Role: role.String()}}, true)
	if err != nil {
		return model.Message{}, err
	}
	row, err := decodeSingle[messageRow](body)
	if err != nil {
		return model.Message{}, err
	}
	msg := row.toModel()

	if len(attachments) > 0 {
		attRows := make([]attachmentRow, 0, len(attachments))
		for _, att := range attachments {
			attRows = append(attRows, attachmentToRow(msg.ID, att))
		}
		attBody, err := c.do(ctx, http.MethodPost, "/attachments", attRows, true)
		if err != nil {
			return msg, fmt.Errorf("message stored but attachments failed: %w", err)
		}
		stored, err := decodeRows[attachmentRow](attBody)
		if err != nil {
			return msg, fmt.Errorf("message stored but attachments failed: %w", err)
		}
		for _, att := range stored {
			msg.Attachments = append(msg.Attachments, att.toModel())
		}
	}

	if err := c.TouchConversation(ctx, conversationID); err != nil {
		// The message is durable; a failed touch only affects list ordering.
		c.logger.Warn("failed to touch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}

	return msg, nil
}

// DeleteMessage deletes a message; the remote store cascades to its
// attachments.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	path := fmt.Sprintf("/messages?id=eq.%s", url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodDelete, path, nil, false)
	return err
}

// DeleteAttachment deletes a single attachment.
func (c *Client) DeleteAttachment(ctx context.Context, id string) error {
	path := fmt.Sprintf("/attachments?id=eq.%s", url.QueryEscape(id))
	_, err := c.do(ctx, http.MethodDelete, path, nil, false)
	return err
}
