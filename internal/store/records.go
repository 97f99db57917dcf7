// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"

	"github.com/jeranaias/ragchat/internal/model"
)

// Row types mirror the remote store's table shapes. They are kept separate
// from the model types so wire-format changes stay inside this package.

// conversationRow is a row of the conversations table.
type conversationRow struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (r conversationRow) toModel() model.Conversation {
	return model.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// messageRow is a row of the messages table, optionally with embedded
// attachment rows.
type messageRow struct {
	ID             string          `json:"id,omitempty"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
	Attachments    []attachmentRow `json:"attachments,omitempty"`
}

func (r messageRow) toModel() model.Message {
	msg := model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           model.Role(r.Role),
		Content:        r.Content,
		Status:         model.StatusFinal,
		Timestamp:      r.Timestamp,
	}
	for _, att := range r.Attachments {
		msg.Attachments = append(msg.Attachments, att.toModel())
	}
	return msg
}

// attachmentRow is a row of the attachments table.
type attachmentRow struct {
	ID        string `json:"id,omitempty"`
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	Data      string `json:"data,omitempty"`
	Name      string `json:"name"`
	Size      int64  `json:"size,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

func (r attachmentRow) toModel() model.Attachment {
	return model.Attachment{
		ID:        r.ID,
		MessageID: r.MessageID,
		Type:      model.AttachmentType(r.Type),
		URL:       r.URL,
		Data:      r.Data,
		Name:      r.Name,
		Size:      r.Size,
		MimeType:  r.MimeType,
	}
}

func attachmentToRow(messageID string, att model.Attachment) attachmentRow {
	return attachmentRow{
		MessageID: messageID,
		Type:      string(att.Type),
		URL:       att.URL,
		Data:      att.Data,
		Name:      att.Name,
		Size:      att.Size,
		MimeType:  att.MimeType,
	}
}

// sourceRow is a row of the rag_sources table. Chunks are computed
// client-side and never persisted.
type sourceRow struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
}

func (r sourceRow) toModel() model.RAGSource {
	return model.RAGSource{
		ID:      r.ID,
		Name:    r.Name,
		Type:    model.SourceType(r.Type),
		Content: r.Content,
		URL:     r.URL,
	}
}
