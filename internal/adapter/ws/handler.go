// Package ws streams swarm events to websocket observers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 5 * time.Second
	// sendBuffer is how many events an observer may fall behind before it
	// is disconnected.
	sendBuffer = 64
)

// Message is the envelope of every event frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// observer is one connected client. Its writer goroutine owns the socket.
type observer struct {
	send   chan []byte
	types  map[string]bool // nil: every type
	cancel context.CancelFunc
}

func (o *observer) wants(eventType string) bool {
	return o.types == nil || o.types[eventType]
}

// Hub fans events out to observers without ever blocking the publisher.
type Hub struct {
	mu        sync.Mutex
	observers map[*observer]struct{}
	origins   []string
}

// NewHub accepts upgrades from allowedOrigin's host in addition to
// same-origin requests.
func NewHub(allowedOrigin string) *Hub {
	h := &Hub{observers: make(map[*observer]struct{})}
	if u, err := url.Parse(allowedOrigin); err == nil && u.Host != "" {
		h.origins = []string{u.Host}
	}
	return h
}

// parseTypes reads ?types=a,b. Empty means all event types.
func parseTypes(r *http.Request) map[string]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

// HandleWS upgrades the request and streams events until the client goes
// away, falls sendBuffer events behind, or the hub closes. Observers may
// narrow the stream with ?types=task.status,karma.recorded.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	// Observers only listen; CloseRead discards their frames and cancels
	// ctx when they disconnect.
	ctx, cancel := context.WithCancel(c.CloseRead(context.WithoutCancel(r.Context())))
	o := &observer{send: make(chan []byte, sendBuffer), types: parseTypes(r), cancel: cancel}
	h.add(o)
	slog.Info("observer connected", "remote", r.RemoteAddr, "observers", h.ConnectionCount())

	go h.writeLoop(ctx, c, o)
}

func (h *Hub) writeLoop(ctx context.Context, c *websocket.Conn, o *observer) {
	defer func() {
		h.remove(o)
		_ = c.Close(websocket.StatusGoingAway, "")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-o.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("observer write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast queues msg for every observer subscribed to its type.
// Observers whose queue is full are dropped.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws event dropped", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		if !o.wants(msg.Type) {
			continue
		}
		select {
		case o.send <- data:
		default:
			slog.Warn("dropping slow observer", "type", msg.Type)
			o.cancel()
			delete(h.observers, o)
		}
	}
}

// ConnectionCount is the number of live observers.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		o.cancel()
		delete(h.observers, o)
	}
}

func (h *Hub) add(o *observer) {
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; ok {
		o.cancel()
		delete(h.observers, o)
	}
}
