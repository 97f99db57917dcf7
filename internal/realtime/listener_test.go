// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// wsServer is a minimal push endpoint: it upgrades, records the subscribe
// frames, and hands the connection to the test for event injection.
type wsServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	subs  chan []string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		conns: make(chan *websocket.Conn, 4),
		subs:  make(chan []string, 4),
	}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var tables []string
		for i := 0; i < 3; i++ {
			var frame subscribeFrame
			if err := conn.ReadJSON(&frame); err != nil {
				conn.Close()
				return
			}
			tables = append(tables, frame.Table)
		}
		ws.subs <- tables
		ws.conns <- conn
		// Keep reading so client pings are consumed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ws.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket connection established")
		return nil
	}
}

func waitEvent(t *testing.T, events <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return ChangeEvent{}
	}
}

func TestListener_SubscribesAndDelivers(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(ws.url(), "key")
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	conn := ws.waitConn(t)
	assert.Equal(t, []string{TableConversations, TableMessages, TableSources}, <-ws.subs)

	require.NoError(t, conn.WriteJSON(ChangeEvent{
		Table:          TableMessages,
		Kind:           KindInsert,
		ID:             "m1",
		ConversationID: "c1",
	}))

	ev := waitEvent(t, l.Events())
	assert.Equal(t, TableMessages, ev.Table)
	assert.Equal(t, KindInsert, ev.Kind)
	assert.Equal(t, "m1", ev.ID)
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestListener_SkipsKeepaliveFrames(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(ws.url(), "key")
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	conn := ws.waitConn(t)
	require.NoError(t, conn.WriteJSON(map[string]string{"status": "ok"}))
	require.NoError(t, conn.WriteJSON(ChangeEvent{Table: TableSources, Kind: KindDelete, ID: "s1"}))

	ev := waitEvent(t, l.Events())
	assert.Equal(t, TableSources, ev.Table, "keepalive frames must be skipped")
}

func TestListener_ReconnectsAfterDrop(t *testing.T) {
	ws := newWSServer(t)

	l := NewListener(ws.url(), "key")
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	first := ws.waitConn(t)
	<-ws.subs
	first.Close() // drop the connection server-side

	// The listener reconnects and resubscribes on the new connection.
	second := ws.waitConn(t)
	assert.Equal(t, []string{TableConversations, TableMessages, TableSources}, <-ws.subs)

	require.NoError(t, second.WriteJSON(ChangeEvent{Table: TableConversations, Kind: KindUpdate, ID: "c9"}))
	ev := waitEvent(t, l.Events())
	assert.Equal(t, "c9", ev.ID)
}

func TestListener_StartFailsFastOnBadEndpoint(t *testing.T) {
	l := NewListener("ws://127.0.0.1:1", "key")
	err := l.Start(context.Background())
	require.Error(t, err)

	// Channel is closed so a ranging consumer terminates.
	_, ok := <-l.Events()
	assert.False(t, ok)
	require.NoError(t, l.Close())
}

func TestListener_CloseTearsDownGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ws := newWSServer(t)
	l := NewListener(ws.url(), "key")
	require.NoError(t, l.Start(context.Background()))

	conn := ws.waitConn(t)
	require.NoError(t, conn.WriteJSON(ChangeEvent{Table: TableMessages, Kind: KindInsert, ID: "m1"}))
	waitEvent(t, l.Events())

	require.NoError(t, l.Close())

	_, ok := <-l.Events()
	assert.False(t, ok, "event channel must be closed after Close")

	// Second Close is a no-op.
	require.NoError(t, l.Close())

	conn.Close()
	ws.srv.Close()
	// Give the server-side reader a moment to observe the closed socket.
	time.Sleep(50 * time.Millisecond)
}
