// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"

	"github.com/jeranaias/ragchat/internal/util"
)

// TitleMaxRunes is the maximum conversation title length derived from the
// first user message. Longer content is cut and suffixed with "...".
const TitleMaxRunes = 30

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds conversation metadata. Messages are cached separately,
// keyed by conversation ID, so that each conversation's message list can be
// fetched and invalidated independently.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation with a locally generated ID and the
// given title. The local ID is replaced by the server-assigned one when the
// create confirms.
func NewConversation(title string) Conversation {
	now := time.Now()
	return Conversation{
		ID:        newLocalID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps the last-update timestamp.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// =============================================================================
// TITLE HELPERS
// =============================================================================

// TitleFromContent derives a conversation title from the first user message:
// the first TitleMaxRunes runes, plus "..." when the content is longer. The
// title is set once and never overwritten by later messages.
func TitleFromContent(content string) string {
	if util.RuneLen(content) <= TitleMaxRunes {
		return content
	}
	return util.TruncateRunesNoEllipsis(content, TitleMaxRunes) + "..."
}

// DefaultTitle returns the fallback title for conversation number n, used
// when a conversation is created before any user message exists.
func DefaultTitle(n int) string {
	return fmt.Sprintf("Conversation %d", n)
}

// Preview returns a truncated preview of the title for listings.
func (c *Conversation) Preview(maxRunes int) string {
	return util.TruncateRunes(c.Title, maxRunes)
}
