package statusapi

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-client/internal/models"
)

// wsClient wraps a connection with a write lock so the broadcaster and the
// late-joiner send never interleave frames.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(snap models.RideSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(snap)
}

// Broadcaster fans ride snapshots out to connected websocket observers.
// Dead connections are dropped on the first failed write.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*wsClient
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{logger: logger, clients: make(map[*websocket.Conn]*wsClient)}
}

func (b *Broadcaster) Add(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[conn] = &wsClient{conn: conn}
}

func (b *Broadcaster) Publish(snap models.RideSnapshot) {
	b.mu.Lock()
	targets := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.send(snap); err != nil {
			b.logger.Debug("ws_client_dropped", "error", err)
			b.remove(c.conn)
		}
	}
}

func (b *Broadcaster) SendTo(conn *websocket.Conn, snap models.RideSnapshot) {
	b.mu.Lock()
	c, ok := b.clients[conn]
	b.mu.Unlock()
	if !ok {
		return
	}
	if err := c.send(snap); err != nil {
		b.remove(conn)
	}
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	_ = conn.Close()
}
