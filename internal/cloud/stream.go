// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// DefaultStreamIdleTimeout aborts a stream that delivers no event for
	// this long. A stalled upstream otherwise hangs the request forever.
	DefaultStreamIdleTimeout = 60 * time.Second

	// MaxChunkSize is the maximum allowed size for a single SSE event.
	MaxChunkSize = 64 * 1024
)

// ErrStreamStalled indicates the idle watchdog fired mid-stream.
var ErrStreamStalled = errors.New("stream stalled: no data received before idle timeout")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is a single delta from a streaming completion.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the stream has finished.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// StreamCallback is called for each received chunk, in arrival order.
type StreamCallback func(chunk StreamChunk)

// StreamError is a mid-stream failure that preserves the content received
// before the connection broke.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// sseReader parses Server-Sent Events from a stream.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// readEvent reads the next SSE event and returns its data payload.
// Returns io.EOF when the stream ends.
func (s *sseReader) readEvent() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
			if totalLen(dataLines) > MaxChunkSize {
				return nil, fmt.Errorf("event too large: exceeds %d bytes", MaxChunkSize)
			}
		}
		// Ignore other fields (event:, id:, retry:, comments starting with :)
	}
}

func totalLen(lines [][]byte) int {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	return n
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion with the given model,
// invoking callback for each delta in arrival order. The stream is aborted
// with ErrStreamStalled if no event arrives within the idle timeout, and
// with ctx.Err() on cancellation.
func (c *Client) ChatStream(ctx context.Context, model string, messages []ChatMessage, callback StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(c.newRequest(model, messages, true))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// The watchdog cancels the request context when no event arrives in
	// time; the stalled flag distinguishes that from caller cancellation.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool
	watchdog := time.AfterFunc(c.idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if stalled.Load() {
			return ErrStreamStalled
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return c.handleErrorResponse(resp.StatusCode, body)
	}

	var received strings.Builder
	err = c.processStream(streamCtx, resp.Body, watchdog, func(chunk StreamChunk) {
		received.WriteString(chunk.GetContent())
		callback(chunk)
	})
	if err != nil {
		if stalled.Load() {
			err = ErrStreamStalled
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &StreamError{Partial: received.String(), Err: err}
	}
	return nil
}

// processStream reads the SSE stream until [DONE], a finish reason, or EOF.
// Each event resets the idle watchdog.
func (c *Client) processStream(ctx context.Context, body io.Reader, watchdog *time.Timer, callback StreamCallback) error {
	reader := newSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		watchdog.Reset(c.idleTimeout)

		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed events
			continue
		}

		callback(chunk)

		if chunk.IsDone() {
			return nil
		}
	}
}

// ChatStreamAccumulate performs a streaming chat and returns the complete
// response text. On a mid-stream failure the partial content received so
// far is returned alongside the error.
func (c *Client) ChatStreamAccumulate(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	var accumulated strings.Builder

	err := c.ChatStream(ctx, model, messages, func(chunk StreamChunk) {
		accumulated.WriteString(chunk.GetContent())
	})
	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return streamErr.Partial, err
		}
		return accumulated.String(), err
	}
	return accumulated.String(), nil
}
