package mcp

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/pageload"
	"navnerd-mcp-server/internal/stream"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// FeedMessage is a navigation event as sent to websocket clients.
type FeedMessage struct {
	Type      string `json:"type"`
	When      string `json:"when,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status,omitempty"`
	Code      int    `json:"code,omitempty"`
	Timestamp int64  `json:"ts"`
}

// EventHub broadcasts navigation events and page loads to websocket
// clients. Slow clients miss messages rather than holding up navigation.
type EventHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]chan FeedMessage
	closed  bool
}

func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		logger:  logger,
		clients: make(map[string]chan FeedMessage),
	}
}

// Follow broadcasts the runtime's navigation events and page loads until
// the returned supply is cut.
func (h *EventHub) Follow(rt *Runtime) *stream.Supply {
	supply := rt.Navigator.Events().On(func(ev navigation.Event) {
		msg := FeedMessage{
			Type: string(ev.Type),
			When: ev.When,
			From: pageURL(ev.From),
			To:   pageURL(ev.To),
		}
		if ev.Reason != nil {
			msg.Reason = ev.Reason.Error()
		}
		h.Broadcast(msg)
	})
	loads := rt.Requests.Add(rt.Navigator.Current(), pageload.Request{Receive: func(resp pageload.Response) {
		if !resp.Done() {
			return
		}
		msg := FeedMessage{Type: "page-load", To: pageURL(resp.Page), Status: resp.Status.String()}
		if resp.HTTP != nil {
			msg.Code = resp.HTTP.StatusCode
		}
		if resp.Err != nil {
			msg.Reason = resp.Err.Error()
		}
		h.Broadcast(msg)
	}})
	return supply.Cuts(loads)
}

func pageURL(p navigation.Page) string {
	if p == nil || p.URL() == nil {
		return ""
	}
	return p.URL().String()
}

// Broadcast queues msg for every client.
func (h *EventHub) Broadcast(msg FeedMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("Event feed client blocked", zap.String("client", id))
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventHub) register() (string, chan FeedMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	id := uuid.NewString()
	ch := make(chan FeedMessage, clientBuffer)
	h.clients[id] = ch
	return id, ch, true
}

func (h *EventHub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}

// ServeHTTP upgrades the connection and streams messages as JSON until the
// client goes away or the hub is closed.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Event feed upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, ch, ok := h.register()
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "closed"))
		return
	}
	defer h.unregister(id)
	h.logger.Debug("Event feed client connected", zap.String("client", id))

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("Event feed write failed", zap.String("client", id), zap.Error(err))
				return
			}
		}
	}
}
