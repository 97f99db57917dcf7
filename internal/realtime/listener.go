// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Table names replicated over the push channel.
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
	TableSources       = "rag_sources"
)

// Kind classifies a row change.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Connection tuning constants.
const (
	// reconnectBaseDelay is the initial backoff after a dropped connection.
	reconnectBaseDelay = 1 * time.Second

	// reconnectMaxDelay caps the backoff.
	reconnectMaxDelay = 30 * time.Second

	// pingInterval keeps the connection alive through idle proxies.
	pingInterval = 30 * time.Second

	// readDeadline bounds a silent connection; pongs extend it.
	readDeadline = 90 * time.Second

	// writeTimeout bounds control and subscribe writes.
	writeTimeout = 10 * time.Second

	// eventBuffer absorbs bursts between reads by the consumer.
	eventBuffer = 64
)

// ErrAlreadyStarted indicates Start was called twice.
var ErrAlreadyStarted = errors.New("realtime listener already started")

// ChangeEvent is one decoded change notification. ConversationID is set
// only for message changes.
type ChangeEvent struct {
	Table          string `json:"table"`
	Kind           Kind   `json:"kind"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// subscribeFrame is the per-table subscription request.
type subscribeFrame struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

// Listener maintains the websocket and delivers change events. It survives
// dropped connections with capped-backoff reconnects and resubscribes on
// every new connection.
type Listener struct {
	url    string
	apiKey string
	tables []string
	dialer *websocket.Dialer
	logger *zap.Logger

	events chan ChangeEvent

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener creates a listener for the given websocket URL. It subscribes
// to the three replicated tables.
func NewListener(url, apiKey string) *Listener {
	return &Listener{
		url:    url,
		apiKey: apiKey,
		tables: []string{TableConversations, TableMessages, TableSources},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: zap.NewNop(),
		events: make(chan ChangeEvent, eventBuffer),
	}
}

// WithLogger sets the logger used for connection tracing.
func (l *Listener) WithLogger(logger *zap.Logger) *Listener {
	l.logger = logger.Named("realtime")
	return l
}

// Events returns the change event channel. It is closed when the listener
// shuts down.
func (l *Listener) Events() <-chan ChangeEvent {
	return l.events
}

// Start connects and begins delivering events. The initial dial happens
// synchronously so a misconfigured endpoint fails fast; later drops are
// handled by the reconnect loop.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.mu.Unlock()

	conn, err := l.connect(runCtx)
	if err != nil {
		cancel()
		close(l.done)
		close(l.events)
		return err
	}

	go l.run(runCtx, conn)
	return nil
}

// Close tears down the socket and the reconnect loop. It blocks until the
// run goroutine has exited and the event channel is closed. Safe to call
// more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// connect dials the endpoint and sends one subscribe frame per table.
func (l *Listener) connect(ctx context.Context) (*websocket.Conn, error) {
	header := make(map[string][]string)
	if l.apiKey != "" {
		header["Authorization"] = []string{"Bearer " + l.apiKey}
	}

	conn, _, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		return nil, err
	}

	for _, table := range l.tables {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(subscribeFrame{Action: "subscribe", Table: table}); err != nil {
			conn.Close()
			return nil, err
		}
	}

	l.logger.Info("realtime connected", zap.Strings("tables", l.tables))
	return conn, nil
}

// run owns the connection until shutdown, reconnecting on read failures.
func (l *Listener) run(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		l.mu.Lock()
		close(l.done)
		l.mu.Unlock()
		close(l.events)
	}()

	delay := reconnectBaseDelay
	for {
		err := l.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("realtime connection lost, reconnecting",
			zap.Duration("backoff", delay),
			zap.Error(err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			next, err := l.connect(ctx)
			if err == nil {
				conn = next
				delay = reconnectBaseDelay
				break
			}
			if ctx.Err() != nil {
				return
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			l.logger.Warn("realtime reconnect failed",
				zap.Duration("backoff", delay),
				zap.Error(err))
		}
	}
}

// readLoop reads frames until the connection drops or ctx is cancelled.
// A watcher goroutine closes the connection on cancellation to unblock
// the pending read.
func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var ev ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		if ev.Table == "" || ev.Kind == "" {
			// Ack or keepalive frame
			continue
		}

		select {
		case l.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
