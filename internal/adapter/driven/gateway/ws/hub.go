package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/core/domain"
)

// Hub tracks one live connection per user and implements
// port.MessageChannel on top of them. Sends are best-effort: an unknown or
// closed recipient swallows the event silently, and a write error evicts the
// connection rather than surfacing to the sender.
type Hub struct {
	mu         sync.Mutex
	conns      map[domain.UserID]Client
	register   chan Client
	unregister chan Client
	quit       chan struct{}

	// onDisconnect fires once per dropped connection, on its own goroutine,
	// after the connection is gone from the map.
	onDisconnect func(userID domain.UserID)
}

func NewHub() *Hub {
	return &Hub{
		conns:      make(map[domain.UserID]Client),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

// SetDisconnectListener installs the channel-closed callback. Must be called
// before Run.
func (h *Hub) SetDisconnectListener(fn func(userID domain.UserID)) {
	h.onDisconnect = fn
}

// Send implements port.MessageChannel. Fire-and-forget by contract.
func (h *Hub) Send(ctx context.Context, userID domain.UserID, event string, payload any) {
	h.mu.Lock()
	c, ok := h.conns[userID]
	h.mu.Unlock()
	if !ok {
		return
	}

	if err := c.Send(event, payload); err != nil {
		log.Warn().Err(err).
			Str("user_id", userID.String()).
			Str("event", event).
			Msg("send failed, evicting connection")
		h.Unregister(c)
	}
}

// IsOpen implements port.MessageChannel.
func (h *Hub) IsOpen(userID domain.UserID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[userID]
	return ok
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, c := range h.conns {
				c.Close()
				delete(h.conns, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if prev, ok := h.conns[c.UserID()]; ok && prev != c {
				// A reconnect supersedes the old connection.
				prev.Close()
			}
			h.conns[c.UserID()] = c
			h.mu.Unlock()
			log.Info().Str("user_id", c.UserID().String()).Msg("client connected")

		case c := <-h.unregister:
			h.removeAndNotify(c)
		}
	}
}

func (h *Hub) removeAndNotify(c Client) {
	h.mu.Lock()
	cur, ok := h.conns[c.UserID()]
	if !ok || cur != c {
		// Already replaced by a reconnect; the user is still reachable.
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.UserID())
	h.mu.Unlock()

	c.Close()
	log.Info().Str("user_id", c.UserID().String()).Msg("client disconnected")
	if h.onDisconnect != nil {
		// The listener sends through the hub, and a failed send re-enters the
		// unregister channel this loop drains. Must not run on the loop
		// goroutine.
		go h.onDisconnect(c.UserID())
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
