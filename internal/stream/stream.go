// Package stream implements the server-sent-events session layer. Each
// chat session holds one connection; the orchestrators push phase, token
// and tool events through it while the client watches the answer build.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartcathome/whisker/pkg/models"
)

// Connection is one live SSE session. All senders are safe for
// concurrent use; sends after the client disconnects are dropped
// silently so a vanished browser never aborts a pipeline run.
type Connection struct {
	ID string

	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	closed   bool
	lastSend time.Time
	stopCh   chan struct{}
}

// NewConnection upgrades the response to an SSE stream and starts the
// heartbeat. Returns an error when the writer cannot flush.
func NewConnection(w http.ResponseWriter, id string, heartbeat time.Duration) (*Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &Connection{
		ID:       id,
		w:        w,
		flusher:  flusher,
		lastSend: time.Now(),
		stopCh:   make(chan struct{}),
	}
	c.SendMetadata(map[string]any{"connected": true, "connectionId": id})

	if heartbeat > 0 {
		go c.heartbeatLoop(heartbeat)
	}
	return c, nil
}

// heartbeatLoop writes an SSE comment on an interval so proxies keep the
// connection open between events.
func (c *Connection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			fmt.Fprint(c.w, ":heartbeat\n\n")
			c.flusher.Flush()
			c.mu.Unlock()
		}
	}
}

// Send writes one event. Returns false when the connection is closed or
// the write failed.
func (c *Connection) Send(event models.StreamEvent) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Str("connection", c.ID).Err(err).Msg("sse event marshal failed")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		c.closeLocked()
		return false
	}
	c.flusher.Flush()
	c.lastSend = time.Now()
	return true
}

func (c *Connection) SendPhase(phase, detail string, extra map[string]any) bool {
	data := map[string]any{"phase": phase, "detail": detail}
	for k, v := range extra {
		data[k] = v
	}
	return c.Send(models.StreamEvent{Type: models.EventPhase, Data: data})
}

func (c *Connection) SendToken(token string, tier models.Tier) bool {
	data := map[string]any{"token": token}
	if tier != "" {
		data["tier"] = tier
	}
	return c.Send(models.StreamEvent{Type: models.EventToken, Data: data})
}

func (c *Connection) SendTool(name string, args map[string]any, result any) bool {
	return c.Send(models.StreamEvent{Type: models.EventTool, Data: map[string]any{
		"toolName": name,
		"args":     args,
		"result":   result,
	}})
}

func (c *Connection) SendMetadata(data any) bool {
	return c.Send(models.StreamEvent{Type: models.EventMetadata, Data: data})
}

func (c *Connection) SendError(message, code string) bool {
	return c.Send(models.StreamEvent{Type: models.EventError, Data: map[string]any{
		"error": message,
		"code":  code,
	}})
}

// SendDone emits the final event and closes the session.
func (c *Connection) SendDone(final any) {
	if final == nil {
		final = map[string]any{}
	}
	c.Send(models.StreamEvent{Type: models.EventDone, Data: final})
	c.Close()
}

// Close ends the session. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.stopCh)
}

// Done returns a channel closed when the session ends, for handlers
// that must hold the HTTP response open until then.
func (c *Connection) Done() <-chan struct{} {
	return c.stopCh
}

// Active reports whether the session can still receive events.
func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IdleSince returns the time of the last successful send.
func (c *Connection) IdleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSend
}

// ── Text Streaming ───────────────────────────────────────────

// tokenRe splits text into CJK characters, latin words, number runs,
// punctuation runs and whitespace, in order.
var tokenRe = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]|[a-zA-Z]+|[0-9]+|[^\s\x{4e00}-\x{9fa5}a-zA-Z0-9]+|\s+`)

// Tokenize splits final answer text for typewriter-style delivery:
// CJK one character at a time, latin words and numbers whole.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(text, -1)
}

// StreamText sends text token by token with a fixed inter-token delay.
// Stops early when the context is canceled or the client disconnects.
func StreamText(ctx context.Context, c *Connection, text string, delay time.Duration) {
	for _, token := range Tokenize(text) {
		if !c.Active() {
			return
		}
		if !c.SendToken(token, "") {
			return
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}
