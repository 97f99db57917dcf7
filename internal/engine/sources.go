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
	"github.com/jeranaias/ragchat/internal/rag"
	"github.com/jeranaias/ragchat/internal/store"
)

// AddSource registers a knowledge source: chunks its content, appends it
// optimistically, and persists it. Chunks are always recomputed client-side,
// including on the server's confirmed copy.
func (e *Engine) AddSource(ctx context.Context, name string, typ model.SourceType, content, url string) (model.RAGSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.RAGSource{}, errors.New("source name is required")
	}
	if strings.TrimSpace(content) == "" {
		return model.RAGSource{}, errors.New("source content is required")
	}

	src := model.NewSource(name, typ, content, url)
	rag.ChunkSource(&src)

	h := e.cache.Sources.OptimisticAppend(cache.GlobalKey, src)

	created, err := e.store.CreateSource(ctx, src)
	switch {
	case err == nil:
		rag.ChunkSource(&created)
		e.cache.Sources.Confirm(h, created)
		return created, nil
	case errors.Is(err, store.ErrNotConfigured):
		e.cache.Sources.Release(h)
		return src, nil
	case store.IsValidation(err):
		e.cache.Sources.Rollback(h)
		return model.RAGSource{}, err
	default:
		e.cache.Sources.Release(h)
		e.notify(LevelWarn, "knowledge source not saved; it lives only in this session")
		e.logger.Warn("source persist failed", zap.String("name", name), zap.Error(err))
		return src, nil
	}
}

// RemoveSource deletes a knowledge source. Its chunks disappear with it;
// subsequent sends no longer retrieve from it.
func (e *Engine) RemoveSource(ctx context.Context, id string) error {
	if !e.cache.Sources.Remove(cache.GlobalKey, id) {
		return errors.New("source not found")
	}
	if strings.HasPrefix(id, "local_") || !e.store.IsConfigured() {
		return nil
	}
	if err := e.store.DeleteSource(ctx, id); err != nil && !store.IsValidation(err) {
		e.notify(LevelWarn, "source removed locally but the remote delete failed")
		e.logger.Warn("source delete failed", zap.String("source_id", id), zap.Error(err))
	}
	return nil
}

// SearchInternet runs a web search and records the exchange in the
// conversation as a user turn plus a synthetic assistant message with the
// rendered results. The search itself never fails; provider errors surface
// as a fallback result.
func (e *Engine) SearchInternet(ctx context.Context, conversationID, query string) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}

	convID, err := e.ensureConversation(ctx, conversationID, "Internet search: "+query)
	if err != nil {
		return nil, err
	}

	if !e.acquire(convID) {
		return nil, ErrBusy
	}
	defer e.release(convID)

	userMsg := model.NewUserMessage(convID, "Internet search: "+query, nil)
	userHandle := e.cache.Messages.OptimisticAppend(convID, userMsg)
	if _, err := e.persistMessage(ctx, userHandle, userMsg); err != nil {
		return nil, err
	}

	results := e.search.Search(ctx, query)

	reply := model.NewAssistantMessage(convID, model.FormatSearchResults(query, results))
	replyHandle := e.cache.Messages.OptimisticAppend(convID, reply)
	if _, err := e.persistMessage(ctx, replyHandle, reply); err != nil {
		return nil, err
	}
	return results, nil
}
