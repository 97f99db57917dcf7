// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/ragchat/internal/model"
)

// GlobalKey is the partition key for collections that are not subdivided
// (conversations and sources).
const GlobalKey = "global"

// =============================================================================
// CORRELATION HANDLE
// =============================================================================

// Handle correlates an optimistic append with its eventual confirmation or
// rollback. Zero-value handles are invalid.
type Handle struct {
	id      string
	key     string
	localID string
}

// LocalID returns the client-assigned identifier of the optimistic item.
func (h Handle) LocalID() string {
	return h.localID
}

// Valid reports whether the handle was produced by OptimisticAppend.
func (h Handle) Valid() bool {
	return h.id != ""
}

// =============================================================================
// PARTITION
// =============================================================================

// Partition is a keyed collection of ID-addressable items mirroring one
// remote table. All operations are safe for concurrent use.
type Partition[T any] struct {
	mu   sync.RWMutex
	idOf func(T) string

	items  map[string][]T
	loaded map[string]bool
	stale  map[string]bool

	// localOnly tracks items that were appended optimistically and never
	// confirmed: outstanding writes and degraded (memory-only) items. They
	// survive reconciliation against refetched server data.
	localOnly map[string]map[string]bool

	pending map[string]Handle
}

// NewPartition creates a partition whose items are addressed by idOf.
func NewPartition[T any](idOf func(T) string) *Partition[T] {
	return &Partition[T]{
		idOf:      idOf,
		items:     make(map[string][]T),
		loaded:    make(map[string]bool),
		stale:     make(map[string]bool),
		localOnly: make(map[string]map[string]bool),
		pending:   make(map[string]Handle),
	}
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// List returns a copy of the items under key and whether the key holds fresh
// data. ok is false when the key was never loaded or has been invalidated;
// the cached items are still returned so callers can render while a refetch
// is in flight.
func (p *Partition[T]) List(key string) ([]T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	src := p.items[key]
	out := make([]T, len(src))
	copy(out, src)
	return out, p.loaded[key] && !p.stale[key]
}

// Get returns the item with the given ID under key.
func (p *Partition[T]) Get(key, id string) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, item := range p.items[key] {
		if p.idOf(item) == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of items under key.
func (p *Partition[T]) Len(key string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items[key])
}

// -----------------------------------------------------------------------------
// Optimistic writes
// -----------------------------------------------------------------------------

// OptimisticAppend inserts item under key before the remote write resolves
// and returns a correlation handle for Confirm or Rollback.
func (p *Partition[T]) OptimisticAppend(key string, item T) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	localID := p.idOf(item)
	h := Handle{id: uuid.NewString(), key: key, localID: localID}

	p.items[key] = append(p.items[key], item)
	p.loaded[key] = true
	p.markLocalLocked(key, localID)
	p.pending[h.id] = h
	return h
}

// Confirm replaces the optimistic item with the canonical server copy. The
// server item may carry a different identifier and timestamp. If the server
// copy already arrived through a push-triggered refetch, the optimistic
// duplicate is dropped instead.
func (p *Partition[T]) Confirm(h Handle, serverItem T) bool {
	if !h.Valid() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, h.id)
	p.unmarkLocalLocked(h.key, h.localID)

	serverID := p.idOf(serverItem)
	list := p.items[h.key]

	// The refetch may have delivered the server copy already; reconcile by
	// identifier rather than appending blindly.
	serverIdx := -1
	localIdx := -1
	for i, item := range list {
		switch p.idOf(item) {
		case serverID:
			serverIdx = i
		case h.localID:
			localIdx = i
		}
	}

	switch {
	case serverIdx >= 0 && localIdx >= 0:
		list[serverIdx] = serverItem
		p.items[h.key] = append(list[:localIdx], list[localIdx+1:]...)
	case serverIdx >= 0:
		list[serverIdx] = serverItem
	case localIdx >= 0:
		list[localIdx] = serverItem
	default:
		return false
	}
	return true
}

// Rollback removes the optimistic item, restoring the partition to its state
// before the append.
func (p *Partition[T]) Rollback(h Handle) bool {
	if !h.Valid() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, h.id)
	p.unmarkLocalLocked(h.key, h.localID)
	return p.removeLocked(h.key, h.localID)
}

// Release marks an optimistic item as permanent without confirmation. Used
// when a durable write failed but the item must stay visible (memory-only,
// degraded mode); the item keeps its local identifier and still survives
// reconciliation.
func (p *Partition[T]) Release(h Handle) {
	if !h.Valid() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, h.id)
	// localOnly marker intentionally kept: the item has no server identity.
}

// -----------------------------------------------------------------------------
// Direct mutation
// -----------------------------------------------------------------------------

// Replace swaps the item with itemID for newItem in place, preserving list
// position. Used for placeholder-message substitution.
func (p *Partition[T]) Replace(key, itemID string, newItem T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.items[key]
	for i, item := range list {
		if p.idOf(item) == itemID {
			list[i] = newItem
			newID := p.idOf(newItem)
			if locals := p.localOnly[key]; locals != nil && locals[itemID] && newID != itemID {
				delete(locals, itemID)
				locals[newID] = true
			}
			return true
		}
	}
	return false
}

// Mutate applies fn to the item with itemID under the partition lock.
func (p *Partition[T]) Mutate(key, itemID string, fn func(*T)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.items[key]
	for i := range list {
		if p.idOf(list[i]) == itemID {
			fn(&list[i])
			return true
		}
	}
	return false
}

// Remove deletes the item with itemID under key.
func (p *Partition[T]) Remove(key, itemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unmarkLocalLocked(key, itemID)
	return p.removeLocked(key, itemID)
}

// -----------------------------------------------------------------------------
// Invalidation and reconciliation
// -----------------------------------------------------------------------------

// Invalidate marks key stale, forcing the next read to refetch from the
// remote store rather than serve cached data.
func (p *Partition[T]) Invalidate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stale[key] = true
}

// IsStale reports whether key needs a refetch.
func (p *Partition[T]) IsStale(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stale[key] || !p.loaded[key]
}

// Reconcile merges refetched server items into the partition. Server items
// win for every identifier they carry; local-only items (outstanding
// optimistic writes and degraded memory-only items) are preserved after
// them. Applying the same server list twice is a no-op, which keeps
// at-least-once push delivery idempotent.
func (p *Partition[T]) Reconcile(key string, serverItems []T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	serverIDs := make(map[string]bool, len(serverItems))
	merged := make([]T, 0, len(serverItems)+4)
	for _, item := range serverItems {
		serverIDs[p.idOf(item)] = true
		merged = append(merged, item)
	}

	locals := p.localOnly[key]
	for _, item := range p.items[key] {
		id := p.idOf(item)
		if serverIDs[id] {
			continue
		}
		if locals != nil && locals[id] {
			merged = append(merged, item)
		}
	}

	p.items[key] = merged
	p.loaded[key] = true
	p.stale[key] = false
}

// -----------------------------------------------------------------------------
// Internal helpers (lock held)
// -----------------------------------------------------------------------------

func (p *Partition[T]) removeLocked(key, itemID string) bool {
	list := p.items[key]
	for i, item := range list {
		if p.idOf(item) == itemID {
			p.items[key] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Partition[T]) markLocalLocked(key, id string) {
	if p.localOnly[key] == nil {
		p.localOnly[key] = make(map[string]bool)
	}
	p.localOnly[key][id] = true
}

func (p *Partition[T]) unmarkLocalLocked(key, id string) {
	if locals := p.localOnly[key]; locals != nil {
		delete(locals, id)
	}
}

// =============================================================================
// CACHE
// =============================================================================

// Cache bundles the three partitions mirroring the remote store.
type Cache struct {
	Conversations *Partition[model.Conversation]
	Messages      *Partition[model.Message]
	Sources       *Partition[model.RAGSource]
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		Conversations: NewPartition(func(c model.Conversation) string { return c.ID }),
		Messages:      NewPartition(func(m model.Message) string { return m.ID }),
		Sources:       NewPartition(func(s model.RAGSource) string { return s.ID }),
	}
}
