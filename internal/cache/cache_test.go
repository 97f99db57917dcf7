// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/model"
)

func newMessagePartition() *Partition[model.Message] {
	return NewPartition(func(m model.Message) string { return m.ID })
}

// =============================================================================
// OPTIMISTIC APPEND / CONFIRM / ROLLBACK
// =============================================================================

func TestOptimisticAppend_VisibleImmediately(t *testing.T) {
	p := newMessagePartition()
	msg := model.NewUserMessage("conv1", "hello", nil)

	h := p.OptimisticAppend("conv1", msg)
	require.True(t, h.Valid())

	items, _ := p.List("conv1")
	require.Len(t, items, 1)
	assert.Equal(t, msg.ID, items[0].ID)
}

func TestConfirm_RemapsIdentifier(t *testing.T) {
	p := newMessagePartition()
	msg := model.NewUserMessage("conv1", "hello", nil)
	h := p.OptimisticAppend("conv1", msg)

	server := msg
	server.ID = "srv-42"
	require.True(t, p.Confirm(h, server))

	items, _ := p.List("conv1")
	require.Len(t, items, 1, "exactly one item after confirm, no duplicate of the optimistic placeholder")
	assert.Equal(t, "srv-42", items[0].ID)
}

func TestConfirm_AfterRefetchDeliveredServerCopy(t *testing.T) {
	p := newMessagePartition()
	msg := model.NewUserMessage("conv1", "hello", nil)
	h := p.OptimisticAppend("conv1", msg)

	// A push-triggered refetch delivers the server copy before Confirm runs.
	server := msg
	server.ID = "srv-42"
	p.Reconcile("conv1", []model.Message{server})

	require.True(t, p.Confirm(h, server))

	items, _ := p.List("conv1")
	require.Len(t, items, 1, "confirm after refetch must not duplicate")
	assert.Equal(t, "srv-42", items[0].ID)
}

func TestRollback_RestoresPriorState(t *testing.T) {
	p := newMessagePartition()
	existing := model.NewUserMessage("conv1", "kept", nil)
	p.Reconcile("conv1", []model.Message{existing})

	msg := model.NewUserMessage("conv1", "doomed", nil)
	h := p.OptimisticAppend("conv1", msg)
	require.True(t, p.Rollback(h))

	items, _ := p.List("conv1")
	require.Len(t, items, 1)
	assert.Equal(t, existing.ID, items[0].ID, "partition must be exactly as before the append")
}

func TestRelease_KeepsDegradedItemVisible(t *testing.T) {
	p := newMessagePartition()
	msg := model.NewUserMessage("conv1", "not durably stored", nil)
	h := p.OptimisticAppend("conv1", msg)

	// Durable write failed; the item is kept in memory-only mode.
	p.Release(h)

	// A later refetch does not know the item, but it must survive.
	server := model.NewUserMessage("conv1", "from server", nil)
	server.ID = "srv-1"
	p.Reconcile("conv1", []model.Message{server})

	items, _ := p.List("conv1")
	require.Len(t, items, 2)
	assert.Equal(t, "srv-1", items[0].ID)
	assert.Equal(t, msg.ID, items[1].ID)
}

// =============================================================================
// REPLACE / REMOVE / MUTATE
// =============================================================================

func TestReplace_PlaceholderSubstitution(t *testing.T) {
	p := newMessagePartition()
	placeholder := model.NewPlaceholderMessage("conv1", model.PlaceholderThinking)
	p.OptimisticAppend("conv1", placeholder)

	final := model.NewAssistantMessage("conv1", "the real answer")
	require.True(t, p.Replace("conv1", placeholder.ID, final))

	items, _ := p.List("conv1")
	require.Len(t, items, 1, "replace must substitute, not append")
	assert.Equal(t, "the real answer", items[0].Content)
	assert.Equal(t, model.StatusFinal, items[0].Status)
}

func TestReplace_MissingItem(t *testing.T) {
	p := newMessagePartition()
	assert.False(t, p.Replace("conv1", "nope", model.Message{ID: "x"}))
}

func TestRemove(t *testing.T) {
	p := newMessagePartition()
	msg := model.NewUserMessage("conv1", "bye", nil)
	p.Reconcile("conv1", []model.Message{msg})

	require.True(t, p.Remove("conv1", msg.ID))
	assert.Equal(t, 0, p.Len("conv1"))
	assert.False(t, p.Remove("conv1", msg.ID))
}

func TestMutate(t *testing.T) {
	p := NewPartition(func(c model.Conversation) string { return c.ID })
	conv := model.NewConversation("untitled")
	p.OptimisticAppend(GlobalKey, conv)

	ok := p.Mutate(GlobalKey, conv.ID, func(c *model.Conversation) {
		c.Title = "renamed"
	})
	require.True(t, ok)

	got, found := p.Get(GlobalKey, conv.ID)
	require.True(t, found)
	assert.Equal(t, "renamed", got.Title)
}

// =============================================================================
// INVALIDATION AND RECONCILIATION
// =============================================================================

func TestInvalidate_MarksStale(t *testing.T) {
	p := newMessagePartition()
	p.Reconcile("conv1", []model.Message{model.NewUserMessage("conv1", "a", nil)})

	_, fresh := p.List("conv1")
	require.True(t, fresh)

	p.Invalidate("conv1")
	items, fresh := p.List("conv1")
	assert.False(t, fresh)
	assert.Len(t, items, 1, "stale data stays readable while the refetch is in flight")
	assert.True(t, p.IsStale("conv1"))
}

func TestInvalidate_IsTargeted(t *testing.T) {
	p := newMessagePartition()
	p.Reconcile("conv1", nil)
	p.Reconcile("conv2", nil)

	p.Invalidate("conv1")
	assert.True(t, p.IsStale("conv1"))
	assert.False(t, p.IsStale("conv2"), "invalidation must only hit the implicated key")
}

func TestReconcile_Idempotent(t *testing.T) {
	p := newMessagePartition()
	server := []model.Message{
		{ID: "srv-1", ConversationID: "conv1", Content: "one", Status: model.StatusFinal},
		{ID: "srv-2", ConversationID: "conv1", Content: "two", Status: model.StatusFinal},
	}

	p.Reconcile("conv1", server)
	p.Reconcile("conv1", server) // duplicate push delivery

	items, fresh := p.List("conv1")
	require.True(t, fresh)
	require.Len(t, items, 2, "duplicate reconciliation must not duplicate items")
	assert.Equal(t, "srv-1", items[0].ID)
	assert.Equal(t, "srv-2", items[1].ID)
}

func TestReconcile_DropsUnconfirmedForeignItems(t *testing.T) {
	p := newMessagePartition()
	// An item the server deleted elsewhere disappears on reconcile.
	p.Reconcile("conv1", []model.Message{{ID: "srv-1", Content: "old"}})
	p.Reconcile("conv1", []model.Message{{ID: "srv-2", Content: "new"}})

	items, _ := p.List("conv1")
	require.Len(t, items, 1)
	assert.Equal(t, "srv-2", items[0].ID)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPartition_ConcurrentReadersAndWriters(t *testing.T) {
	p := newMessagePartition()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("conv%d", n%2)
			msg := model.NewUserMessage(key, "concurrent", nil)
			h := p.OptimisticAppend(key, msg)
			server := msg
			server.ID = fmt.Sprintf("srv-%d", n)
			p.Confirm(h, server)
		}(i)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("conv%d", n%2)
			items, _ := p.List(key)
			for _, item := range items {
				// Readers must never observe a partially applied item.
				if item.Content != "concurrent" {
					t.Errorf("torn read: %+v", item)
				}
			}
		}(i)
	}
	wg.Wait()

	total := p.Len("conv0") + p.Len("conv1")
	assert.Equal(t, 8, total)
}

func TestCache_New(t *testing.T) {
	c := New()
	require.NotNil(t, c.Conversations)
	require.NotNil(t, c.Messages)
	require.NotNil(t, c.Sources)

	conv := model.NewConversation("t")
	c.Conversations.OptimisticAppend(GlobalKey, conv)
	assert.Equal(t, 1, c.Conversations.Len(GlobalKey))
}
