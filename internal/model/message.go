// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// newLocalID generates a client-side identifier for optimistic items. The
// server assigns the canonical identifier on the durable write.
func newLocalID() string {
	return "local_" + uuid.NewString()
}

// =============================================================================
// MESSAGE STATUS
// =============================================================================

// MessageStatus tracks the lifecycle of a message in the local cache.
type MessageStatus string

const (
	// StatusPending marks a transient placeholder message shown while a
	// model response is being produced. Pending messages are excluded from
	// retrieval and from final-message checks, and must always be replaced
	// (with a final or error message) before the send flow completes.
	StatusPending MessageStatus = "pending"

	// StatusFinal marks a real message.
	StatusFinal MessageStatus = "final"

	// StatusError marks a message that records a failed model call so the
	// placeholder is never left stuck.
	StatusError MessageStatus = "error"
)

// Placeholder display strings for pending assistant messages. These are
// user-visible content only; state checks use Status.
const (
	PlaceholderThinking       = "Thinking..."
	PlaceholderAnalyzingImage = "Analyzing image..."
)

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// AttachmentType classifies an attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
	AttachmentURL      AttachmentType = "url"
)

// Attachment is a file, image, or URL attached to a message. It is owned
// exclusively by its parent message; deleting the message cascades.
type Attachment struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id,omitempty"`
	Type      AttachmentType `json:"type"`

	// Exactly one of URL or Data is normally set: a remote location or an
	// inline base64 payload.
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`

	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation. Within a
// conversation, messages are totally ordered by timestamp.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
}

// NewMessage creates a message with a locally generated ID. The local ID is
// replaced by the server-assigned one when the durable write confirms.
func NewMessage(conversationID string, role Role, content string) Message {
	return Message{
		ID:             newLocalID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Status:         StatusFinal,
		Timestamp:      time.Now(),
	}
}

// NewUserMessage creates a user message with the given attachments.
func NewUserMessage(conversationID, content string, attachments []Attachment) Message {
	msg := NewMessage(conversationID, RoleUser, content)
	msg.Attachments = attachments
	return msg
}

// NewAssistantMessage creates a final assistant message.
func NewAssistantMessage(conversationID, content string) Message {
	return NewMessage(conversationID, RoleAssistant, content)
}

// NewPlaceholderMessage creates a transient pending assistant message with
// the given placeholder text.
func NewPlaceholderMessage(conversationID, placeholder string) Message {
	msg := NewMessage(conversationID, RoleAssistant, placeholder)
	msg.Status = StatusPending
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsPending reports whether the message is a transient placeholder.
func (m *Message) IsPending() bool {
	return m.Status == StatusPending
}

// HasImageAttachment reports whether any attachment is an image. This drives
// model selection: image-bearing messages use the vision model and never
// stream.
func (m *Message) HasImageAttachment() bool {
	for _, att := range m.Attachments {
		if att.Type == AttachmentImage {
			return true
		}
	}
	return false
}

// RemoveAttachment removes an attachment by ID, returning true if found.
func (m *Message) RemoveAttachment(id string) bool {
	for i, att := range m.Attachments {
		if att.ID == id {
			m.Attachments = append(m.Attachments[:i], m.Attachments[i+1:]...)
			return true
		}
	}
	return false
}
