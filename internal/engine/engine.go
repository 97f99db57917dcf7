// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/ragchat/internal/cache"
	"github.com/jeranaias/ragchat/internal/cloud"
	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/model"
	"github.com/jeranaias/ragchat/internal/rag"
	"github.com/jeranaias/ragchat/internal/realtime"
	"github.com/jeranaias/ragchat/internal/search"
	"github.com/jeranaias/ragchat/internal/store"
)

// Error variables for engine operations.
var (
	// ErrNotConfigured indicates the inference API key is missing; sends are
	// rejected up front instead of failing mid-flow.
	ErrNotConfigured = errors.New("inference API key not configured")

	// ErrBusy indicates a send is already in flight for the conversation.
	ErrBusy = errors.New("a send is already in progress for this conversation")

	// ErrNoConversation indicates the referenced conversation is not cached.
	ErrNoConversation = errors.New("conversation not found")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("engine is closed")
)

// =============================================================================
// NOTICES
// =============================================================================

// Level classifies a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a user-facing notification: errors and degraded-mode signals
// that a frontend should surface outside the message list.
type Notice struct {
	Level Level
	Text  string
}

// noticeBuffer bounds the notices channel; overflow is logged and dropped
// rather than blocking an engine goroutine on a slow frontend.
const noticeBuffer = 32

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the session orchestrator.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	cache    *cache.Cache
	store    *store.Client
	cloud    *cloud.Client
	search   *search.Client
	listener *realtime.Listener

	notices chan Notice
	flight  singleflight.Group

	mu       sync.Mutex
	busy     map[string]bool
	selected string
	started  bool
	closed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes engine construction, mainly for tests that point the
// clients at local servers.
type Option func(*Engine)

// WithLogger sets the engine logger; clients built by New inherit it.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStoreClient injects a pre-built remote store client.
func WithStoreClient(c *store.Client) Option {
	return func(e *Engine) { e.store = c }
}

// WithCloudClient injects a pre-built inference client.
func WithCloudClient(c *cloud.Client) Option {
	return func(e *Engine) { e.cloud = c }
}

// WithSearchClient injects a pre-built web search client.
func WithSearchClient(c *search.Client) Option {
	return func(e *Engine) { e.search = c }
}

// WithListener injects a pre-built realtime listener. Passing nil disables
// push notifications.
func WithListener(l *realtime.Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// New creates an engine from the configuration. Collaborator clients are
// built from cfg unless injected via options.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	e := &Engine{
		cfg:     cfg,
		logger:  zap.NewNop(),
		cache:   cache.New(),
		notices: make(chan Notice, noticeBuffer),
		busy:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")

	if e.store == nil {
		e.store = store.NewClient(cfg.Store.URL, cfg.Store.APIKey).WithLogger(e.logger)
	}
	if e.cloud == nil {
		e.cloud = cloud.NewClient(cfg.Cloud.OpenRouterKey).
			WithModels(cfg.Cloud.TextModel, cfg.Cloud.VisionModel).
			WithSampling(cfg.Cloud.Temperature, cfg.Cloud.MaxTokens).
			WithLogger(e.logger)
	}
	if e.search == nil {
		e.search = search.NewClient(cfg.Search.BraveKey).WithLogger(e.logger)
	}
	if e.listener == nil {
		if endpoint := cfg.RealtimeEndpoint(); endpoint != "" {
			e.listener = realtime.NewListener(endpoint, cfg.Store.APIKey).WithLogger(e.logger)
		}
	}
	return e, nil
}

// Start performs the initial load, auto-selects the first conversation, and
// starts the realtime listener and reconciliation loop. A failed initial
// load or listener connect degrades to memory-only operation rather than
// failing Start.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	if e.store.IsConfigured() {
		if err := e.refetchConversations(ctx); err != nil {
			e.notify(LevelWarn, "could not load conversations; working from local state")
		}
		if err := e.refetchSources(ctx); err != nil {
			e.notify(LevelWarn, "could not load knowledge sources; working from local state")
		}
	}

	// Auto-select the first (most recently updated) conversation.
	if convs, _ := e.cache.Conversations.List(cache.GlobalKey); len(convs) > 0 {
		e.mu.Lock()
		if e.selected == "" {
			e.selected = convs[0].ID
		}
		selected := e.selected
		e.mu.Unlock()
		if e.store.IsConfigured() {
			if err := e.refetchMessages(ctx, selected); err != nil {
				e.logger.Warn("initial message load failed",
					zap.String("conversation_id", selected),
					zap.Error(err))
			}
		}
	}

	realtimeUp := false
	if e.listener != nil {
		if err := e.listener.Start(runCtx); err != nil {
			e.logger.Warn("realtime listener unavailable", zap.Error(err))
			e.notify(LevelWarn, "live updates unavailable; changes from other sessions will not appear automatically")
			e.mu.Lock()
			e.listener = nil
			e.mu.Unlock()
		} else {
			realtimeUp = true
			e.wg.Add(1)
			go e.reconcileLoop(runCtx)
		}
	}

	e.logger.Info("engine started",
		zap.Bool("store", e.store.IsConfigured()),
		zap.Bool("realtime", realtimeUp),
		zap.Bool("inference", e.cloud.IsConfigured()))
	return nil
}

// Close tears down the listener and background goroutines and closes the
// notices channel. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	listener := e.listener
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		listener.Close()
	}
	e.wg.Wait()

	// notify holds mu for the channel send and drops once closed is set, so
	// closing under mu cannot race an in-flight send.
	e.mu.Lock()
	close(e.notices)
	e.mu.Unlock()
	return nil
}

// Notices returns the user-facing notification channel. It is closed by
// Close.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// notify emits a notice without blocking; overflow is logged and dropped,
// as are notices raced against Close.
func (e *Engine) notify(level Level, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.notices <- Notice{Level: level, Text: text}:
	default:
		e.logger.Warn("notice dropped", zap.String("level", string(level)), zap.String("text", text))
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Conversations returns the cached conversation list.
func (e *Engine) Conversations() []model.Conversation {
	items, _ := e.cache.Conversations.List(cache.GlobalKey)
	return items
}

// Messages returns the cached messages of a conversation in timestamp order.
func (e *Engine) Messages(conversationID string) []model.Message {
	items, _ := e.cache.Messages.List(conversationID)
	return items
}

// Sources returns the cached knowledge sources.
func (e *Engine) Sources() []model.RAGSource {
	items, _ := e.cache.Sources.List(cache.GlobalKey)
	return items
}

// CurrentConversation returns the selected conversation, if any.
func (e *Engine) CurrentConversation() (model.Conversation, bool) {
	e.mu.Lock()
	selected := e.selected
	e.mu.Unlock()
	if selected == "" {
		return model.Conversation{}, false
	}
	return e.cache.Conversations.Get(cache.GlobalKey, selected)
}

// =============================================================================
// BUSY TRACKING
// =============================================================================

// acquire marks a conversation busy; false means a send is in flight.
func (e *Engine) acquire(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[conversationID] {
		return false
	}
	e.busy[conversationID] = true
	return true
}

func (e *Engine) release(conversationID string) {
	e.mu.Lock()
	delete(e.busy, conversationID)
	e.mu.Unlock()
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// reconcileLoop turns realtime events into targeted invalidation plus
// refetch. Events are hints only; duplicates and stale hints collapse into
// idempotent reconciles.
func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.listener.Events():
			if !ok {
				return
			}
			e.handleChange(ctx, ev)
		}
	}
}

func (e *Engine) handleChange(ctx context.Context, ev realtime.ChangeEvent) {
	e.logger.Debug("change event",
		zap.String("table", ev.Table),
		zap.String("kind", string(ev.Kind)),
		zap.String("id", ev.ID))

	switch ev.Table {
	case realtime.TableConversations:
		e.cache.Conversations.Invalidate(cache.GlobalKey)
		e.refetchConversations(ctx)
	case realtime.TableMessages:
		if ev.ConversationID == "" {
			return
		}
		e.cache.Messages.Invalidate(ev.ConversationID)
		e.refetchMessages(ctx, ev.ConversationID)
	case realtime.TableSources:
		e.cache.Sources.Invalidate(cache.GlobalKey)
		e.refetchSources(ctx)
	}
}

// refetchConversations reloads the conversation list and reconciles it into
// the cache. Concurrent callers share one flight.
func (e *Engine) refetchConversations(ctx context.Context) error {
	_, err, _ := e.flight.Do("conversations", func() (any, error) {
		items, err := e.store.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		e.cache.Conversations.Reconcile(cache.GlobalKey, items)
		return nil, nil
	})
	if err != nil {
		e.logger.Warn("conversation refetch failed", zap.Error(err))
	}
	return err
}

func (e *Engine) refetchMessages(ctx context.Context, conversationID string) error {
	_, err, _ := e.flight.Do("messages:"+conversationID, func() (any, error) {
		items, err := e.store.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		e.cache.Messages.Reconcile(conversationID, items)
		return nil, nil
	})
	if err != nil {
		e.logger.Warn("message refetch failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
	return err
}

// refetchSources reloads sources and rechunks them client-side: chunks are
// never persisted, so every refetched source is rechunked from its content.
func (e *Engine) refetchSources(ctx context.Context) error {
	_, err, _ := e.flight.Do("sources", func() (any, error) {
		items, err := e.store.ListSources(ctx)
		if err != nil {
			return nil, err
		}
		for i := range items {
			rag.ChunkSource(&items[i])
		}
		e.cache.Sources.Reconcile(cache.GlobalKey, items)
		return nil, nil
	})
	if err != nil {
		e.logger.Warn("source refetch failed", zap.Error(err))
	}
	return err
}
