// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/model"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "test-key")
	c.retryBase = time.Millisecond
	return c
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", "")
	_, err := c.ListConversations(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_AuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListConversations(context.Background())
	require.NoError(t, err)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestCreateConversation_ServerAssignedIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/v1/conversations", r.URL.Path)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var rows []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "Conversation 1", rows[0]["title"])

		w.Write([]byte(`[{"id":"conv-srv-1","title":"Conversation 1","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	conv, err := newTestClient(srv.URL).CreateConversation(context.Background(), "Conversation 1")
	require.NoError(t, err)
	assert.Equal(t, "conv-srv-1", conv.ID)
	assert.Equal(t, "Conversation 1", conv.Title)
	assert.False(t, conv.CreatedAt.IsZero())
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestCreateMessage_WithAttachmentsAndTouch(t *testing.T) {
	var touched atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/v1/messages" && r.Method == http.MethodPost:
			w.Write([]byte(`[{"id":"msg-srv-1","conversation_id":"conv1","role":"user","content":"hi","timestamp":"2025-01-01T00:00:00Z"}]`))
		case r.URL.Path == "/rest/v1/attachments" && r.Method == http.MethodPost:
			var rows []map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
			require.Len(t, rows, 1)
			assert.Equal(t, "msg-srv-1", rows[0]["message_id"])
			w.Write([]byte(`[{"id":"att-srv-1","message_id":"msg-srv-1","type":"image","name":"cat.jpg"}]`))
		case r.URL.Path == "/rest/v1/conversations" && r.Method == http.MethodPatch:
			touched.Store(true)
			w.Write([]byte("[]"))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	atts := []model.Attachment{{Type: model.AttachmentImage, Name: "cat.jpg", Data: "aGVsbG8="}}
	msg, err := newTestClient(srv.URL).CreateMessage(context.Background(), "conv1", "hi", model.RoleUser, atts)
	require.NoError(t, err)

	assert.Equal(t, "msg-srv-1", msg.ID)
	assert.Equal(t, model.StatusFinal, msg.Status)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "att-srv-1", msg.Attachments[0].ID)
	assert.True(t, touched.Load(), "message create must bump the conversation's updated_at")
}

func TestListMessages_EmbedsAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "conversation_id=eq.conv1")
		w.Write([]byte(`[
			{"id":"m1","conversation_id":"conv1","role":"user","content":"q","timestamp":"2025-01-01T00:00:00Z",
			 "attachments":[{"id":"a1","message_id":"m1","type":"document","name":"spec.pdf"}]},
			{"id":"m2","conversation_id":"conv1","role":"assistant","content":"a","timestamp":"2025-01-01T00:00:01Z"}
		]`))
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv.URL).ListMessages(context.Background(), "conv1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, model.AttachmentDocument, msgs[0].Attachments[0].Type)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

// =============================================================================
// ERROR CLASSES
// =============================================================================

func TestValidationError_NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"23502","message":"null value in column \"content\""}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateConversation(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, "23502", se.Code)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestTransportError_RetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransportError_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListSources(context.Background())
	require.Error(t, err)
	assert.False(t, IsValidation(err), "5xx failures are transport-class, not validation")
	assert.Contains(t, err.Error(), "max retries exceeded")
}

// =============================================================================
// SOURCES
// =============================================================================

func TestCreateSource_StripsLocalIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rows []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		_, hasID := rows[0]["id"]
		assert.False(t, hasID, "local identifiers must not be sent to the store")
		w.Write([]byte(`[{"id":"src-srv-1","name":"notes","type":"text","content":"RAG is neat"}]`))
	}))
	defer srv.Close()

	src := model.NewSource("notes", model.SourceText, "RAG is neat", "")
	created, err := newTestClient(srv.URL).CreateSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "src-srv-1", created.ID)
	assert.Empty(t, created.Chunks)
}
