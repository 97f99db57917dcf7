// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/ragchat/internal/cache"
	"github.com/jeranaias/ragchat/internal/cloud"
	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/rag"
	"github.com/jeranaias/ragchat/internal/store"
)

// ErrorReply is the assistant-visible content of a failed model call.
const ErrorReply = "Sorry, there was an error processing your request."

// Send runs the full exchange for one user turn: persist the user message,
// retrieve context, call the model (streaming for text, non-streaming when
// images are attached), and persist the assistant reply. The placeholder
// assistant message is always resolved to a final or error message before
// Send returns.
//
// conversationID may be empty, in which case a conversation is created from
// the message content. At most one Send runs per conversation; concurrent
// calls return ErrBusy.
func (e *Engine) Send(ctx context.Context, conversationID, content string, attachments []model.Attachment) error {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return errors.New("empty message")
	}
	if !e.cloud.IsConfigured() {
		return ErrNotConfigured
	}

	convID, err := e.ensureConversation(ctx, conversationID, content)
	if err != nil {
		return err
	}

	if !e.acquire(convID) {
		return ErrBusy
	}
	defer e.release(convID)

	// The first user message fixes the title of a pre-existing empty
	// conversation; a conversation created by this send is already titled.
	if conversationID != "" && content != "" && e.cache.Messages.Len(convID) == 0 {
		e.retitle(ctx, convID, model.TitleFromContent(content))
	}

	userMsg := model.NewUserMessage(convID, content, attachments)
	hasImage := userMsg.HasImageAttachment()

	userHandle := e.cache.Messages.OptimisticAppend(convID, userMsg)
	userMsg, err = e.persistMessage(ctx, userHandle, userMsg)
	if err != nil {
		return err
	}

	placeholder := model.PlaceholderThinking
	if hasImage {
		placeholder = model.PlaceholderAnalyzingImage
	}
	pending := model.NewPlaceholderMessage(convID, placeholder)
	pendingHandle := e.cache.Messages.OptimisticAppend(convID, pending)

	reply, modelErr := e.runModel(ctx, convID, pendingHandle.LocalID(), userMsg)
	if modelErr != nil {
		e.logger.Error("model call failed",
			zap.String("conversation_id", convID),
			zap.Error(modelErr))
		e.cache.Messages.Mutate(convID, pendingHandle.LocalID(), func(m *model.Message) {
			m.Content = ErrorReply
			m.Status = model.StatusError
		})
		// The error message is memory-only and must survive reconciliation.
		e.cache.Messages.Release(pendingHandle)
		return modelErr
	}

	// Resolve the placeholder in place, then persist it. The identifier stays
	// stable until the durable write confirms, so the handle can settle it.
	e.cache.Messages.Mutate(convID, pendingHandle.LocalID(), func(m *model.Message) {
		m.Content = reply
		m.Status = model.StatusFinal
	})
	return e.persistReply(ctx, pendingHandle, convID, reply)
}

// ensureConversation resolves or creates the conversation for a send. A new
// conversation is created eagerly (before the busy slot is taken) so the
// server-assigned identifier keys all subsequent cache operations.
func (e *Engine) ensureConversation(ctx context.Context, conversationID, content string) (string, error) {
	if conversationID != "" {
		if _, ok := e.cache.Conversations.Get(cache.GlobalKey, conversationID); !ok {
			return "", ErrNoConversation
		}
		return conversationID, nil
	}

	title := model.TitleFromContent(content)
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
		return "", err
	default:
		e.cache.Conversations.Release(h)
		e.notify(LevelWarn, "conversation not saved; it lives only in this session")
	}

	e.mu.Lock()
	e.selected = conv.ID
	e.mu.Unlock()
	return conv.ID, nil
}

// persistMessage writes an optimistically cached message to the remote
// store and returns the canonical copy (server representation on success,
// the memory-only original otherwise). Validation rejections roll the item
// back and fail the send; transport failures degrade to a cache-only item
// with a warning notice.
func (e *Engine) persistMessage(ctx context.Context, h cache.Handle, msg model.Message) (model.Message, error) {
	created, err := e.store.CreateMessage(ctx, msg.ConversationID, msg.Content, msg.Role, msg.Attachments)
	switch {
	case err == nil:
		e.cache.Messages.Confirm(h, created)
		e.touchCached(msg.ConversationID)
		return created, nil
	case errors.Is(err, store.ErrNotConfigured):
		e.cache.Messages.Release(h)
		e.touchCached(msg.ConversationID)
		return msg, nil
	case store.IsValidation(err):
		e.cache.Messages.Rollback(h)
		return model.Message{}, err
	default:
		e.cache.Messages.Release(h)
		e.touchCached(msg.ConversationID)
		e.notify(LevelWarn, "message not saved; it lives only in this session")
		e.logger.Warn("message persist failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
		return msg, nil
	}
}

// persistReply persists the resolved assistant reply. Unlike the user turn,
// a reply is never rolled back: the user already received it, so even a
// validation rejection degrades to a memory-only message with a warning.
func (e *Engine) persistReply(ctx context.Context, h cache.Handle, convID, reply string) error {
	created, err := e.store.CreateMessage(ctx, convID, reply, model.RoleAssistant, nil)
	switch {
	case err == nil:
		e.cache.Messages.Confirm(h, created)
		e.touchCached(convID)
		return nil
	case errors.Is(err, store.ErrNotConfigured):
		e.cache.Messages.Release(h)
		e.touchCached(convID)
		return nil
	default:
		e.cache.Messages.Release(h)
		e.touchCached(convID)
		e.notify(LevelWarn, "reply not saved; it lives only in this session")
		e.logger.Warn("reply persist failed",
			zap.String("conversation_id", convID),
			zap.Error(err))
		return nil
	}
}

// retitle applies the derived title to the cached conversation and, when it
// has a server identity, to the remote store. A failed remote rename only
// affects other sessions' listings.
func (e *Engine) retitle(ctx context.Context, convID, title string) {
	e.cache.Conversations.Mutate(cache.GlobalKey, convID, func(c *model.Conversation) {
		c.Title = title
	})
	if strings.HasPrefix(convID, "local_") || !e.store.IsConfigured() {
		return
	}
	if err := e.store.RenameConversation(ctx, convID, title); err != nil {
		e.logger.Warn("conversation rename failed",
			zap.String("conversation_id", convID),
			zap.Error(err))
	}
}

// touchCached bumps the cached conversation's updated time so ordering in
// the sidebar tracks activity even when the store is unreachable.
func (e *Engine) touchCached(convID string) {
	e.cache.Conversations.Mutate(cache.GlobalKey, convID, func(c *model.Conversation) {
		c.Touch()
	})
}

// =============================================================================
// MODEL CALL
// =============================================================================

// runModel builds the prompt and calls the inference endpoint, streaming
// text replies into the pending placeholder as deltas arrive. It returns
// the complete reply text.
func (e *Engine) runModel(ctx context.Context, convID, pendingID string, userMsg model.Message) (string, error) {
	messages := e.buildPrompt(convID, userMsg)

	if userMsg.HasImageAttachment() {
		resp, err := e.cloud.Chat(ctx, e.cloud.VisionModel(), messages)
		if err != nil {
			return "", err
		}
		return resp.GetContent(), nil
	}

	var b strings.Builder
	err := e.cloud.ChatStream(ctx, e.cloud.TextModel(), messages, func(chunk cloud.StreamChunk) {
		delta := chunk.GetContent()
		if delta == "" {
			return
		}
		b.WriteString(delta)
		partial := b.String()
		e.cache.Messages.Mutate(convID, pendingID, func(m *model.Message) {
			m.Content = partial
		})
	})
	if err != nil {
		// A stalled stream keeps whatever arrived: the partial reply is
		// treated as the final text, with a warning notice.
		var se *cloud.StreamError
		if errors.As(err, &se) && errors.Is(err, cloud.ErrStreamStalled) && se.Partial != "" {
			e.notify(LevelWarn, "model response stalled; showing the partial reply")
			return se.Partial, nil
		}
		return "", err
	}
	return b.String(), nil
}

// buildPrompt assembles the system preamble, prior transcript, and current
// user turn into the model message list. Retrieval context, when any source
// chunk matches the user's text, is appended to the system preamble.
func (e *Engine) buildPrompt(convID string, userMsg model.Message) []cloud.ChatMessage {
	system := e.cfg.Chat.SystemPrompt
	if system == "" {
		system = config.DefaultSystemPrompt
	}

	sources, _ := e.cache.Sources.List(cache.GlobalKey)
	chunks := rag.CollectChunks(sources)
	ranked := rag.Rank(chunks, userMsg.Content)
	if ctxBlock := rag.Assemble(ranked); ctxBlock != "" {
		system = system + "\n\n" + ctxBlock
	}

	messages := []cloud.ChatMessage{cloud.NewSystemMessage(system)}

	history, _ := e.cache.Messages.List(convID)
	for _, m := range history {
		if m.ID == userMsg.ID || m.Status != model.StatusFinal {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			messages = append(messages, cloud.NewUserMessage(m.Content))
		case model.RoleAssistant:
			messages = append(messages, cloud.NewAssistantMessage(m.Content))
		}
	}

	messages = append(messages, e.userTurn(userMsg))
	return messages
}

// userTurn encodes the current user message, switching to multipart content
// when image attachments are present.
func (e *Engine) userTurn(msg model.Message) cloud.ChatMessage {
	if !msg.HasImageAttachment() {
		return cloud.NewUserMessage(msg.Content)
	}

	parts := make([]cloud.ContentPart, 0, len(msg.Attachments)+1)
	if msg.Content != "" {
		parts = append(parts, cloud.TextPart(msg.Content))
	}
	for _, att := range msg.Attachments {
		if att.Type != model.AttachmentImage {
			continue
		}
		if att.Data != "" {
			parts = append(parts, cloud.ImagePart(att.MimeType, att.Data))
		} else if att.URL != "" {
			parts = append(parts, cloud.ContentPart{
				Type:     "image_url",
				ImageURL: &cloud.ImageURL{URL: att.URL},
			})
		}
	}
	return cloud.NewMultipartMessage(parts...)
}
