// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/ragchat/internal/cache"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/store"
)

// titlePreviewRunes bounds conversation titles in log fields; titles are
// user content and can be long.
const titlePreviewRunes = 40

// SelectConversation makes the conversation current and loads its messages
// if they are not cached yet. A failed load keeps whatever is cached.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	conv, ok := e.cache.Conversations.Get(cache.GlobalKey, id)
	if !ok {
		return ErrNoConversation
	}

	e.mu.Lock()
	e.selected = id
	e.mu.Unlock()
	e.logger.Debug("conversation selected",
		zap.String("conversation_id", id),
		zap.String("title", conv.Preview(titlePreviewRunes)))

	if _, loaded := e.cache.Messages.List(id); loaded || !e.store.IsConfigured() {
		return nil
	}
	if strings.HasPrefix(id, "local_") {
		// Never persisted; there is nothing to fetch.
		return nil
	}
	return e.refetchMessages(ctx, id)
}

// NewConversation creates an empty conversation, persists it, and selects
// it. With no store credentials the conversation is cache-only.
func (e *Engine) NewConversation(ctx context.Context, title string) (model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultTitle(e.cache.Conversations.Len(cache.GlobalKey) + 1)
	}

	conv := model.NewConversation(title)
	h := e.cache.Conversations.OptimisticAppend(cache.GlobalKey, conv)

	created, err := e.store.CreateConversation(ctx, title)
	switch {
	case err == nil:
		e.cache.Conversations.Confirm(h, created)
		conv = created
	case errors.Is(err, store.ErrNotConfigured):
		e.cache.Conversations.Release(h)
	case store.IsValidation(err):
		e.cache.Conversations.Rollback(h)
		return model.Conversation{}, err
	default:
		e.cache.Conversations.Release(h)
		e.notify(LevelWarn, "conversation not saved; it lives only in this session")
		e.logger.Warn("conversation persist failed", zap.Error(err))
	}

	e.mu.Lock()
	e.selected = conv.ID
	e.mu.Unlock()
	e.logger.Debug("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("title", conv.Preview(titlePreviewRunes)))
	return conv, nil
}

// DeleteConversation removes a conversation and its cached messages. The
// remote delete cascades to messages and attachments server-side; the local
// removal happens regardless so the user's intent always takes effect.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	if _, ok := e.cache.Conversations.Get(cache.GlobalKey, id); !ok {
		return ErrNoConversation
	}

	e.cache.Conversations.Remove(cache.GlobalKey, id)
	e.cache.Messages.Invalidate(id)

	e.mu.Lock()
	if e.selected == id {
		e.selected = ""
	}
	e.mu.Unlock()

	// Re-select the most recent remaining conversation.
	if convs, _ := e.cache.Conversations.List(cache.GlobalKey); len(convs) > 0 {
		e.mu.Lock()
		if e.selected == "" {
			e.selected = convs[0].ID
		}
		e.mu.Unlock()
	}

	if strings.HasPrefix(id, "local_") || !e.store.IsConfigured() {
		return nil
	}
	if err := e.store.DeleteConversation(ctx, id); err != nil && !store.IsValidation(err) {
		e.notify(LevelWarn, "conversation removed locally but the remote delete failed")
		e.logger.Warn("conversation delete failed", zap.String("conversation_id", id), zap.Error(err))
	}
	return nil
}

// DeleteMessage removes a single message from a conversation.
func (e *Engine) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if !e.cache.Messages.Remove(conversationID, messageID) {
		return errors.New("message not found")
	}
	if strings.HasPrefix(messageID, "local_") || !e.store.IsConfigured() {
		return nil
	}
	if err := e.store.DeleteMessage(ctx, messageID); err != nil && !store.IsValidation(err) {
		e.notify(LevelWarn, "message removed locally but the remote delete failed")
		e.logger.Warn("message delete failed", zap.String("message_id", messageID), zap.Error(err))
	}
	return nil
}

// DeleteAttachment removes one attachment from a cached message.
func (e *Engine) DeleteAttachment(ctx context.Context, conversationID, messageID, attachmentID string) error {
	removed := false
	e.cache.Messages.Mutate(conversationID, messageID, func(m *model.Message) {
		removed = m.RemoveAttachment(attachmentID)
	})
	if !removed {
		return errors.New("attachment not found")
	}
	if strings.HasPrefix(attachmentID, "local_") || !e.store.IsConfigured() {
		return nil
	}
	if err := e.store.DeleteAttachment(ctx, attachmentID); err != nil && !store.IsValidation(err) {
		e.notify(LevelWarn, "attachment removed locally but the remote delete failed")
		e.logger.Warn("attachment delete failed", zap.String("attachment_id", attachmentID), zap.Error(err))
	}
	return nil
}
