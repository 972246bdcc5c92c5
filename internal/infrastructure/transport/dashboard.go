package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
)

// DashboardEvent is the frame pushed to connected dashboard clients.
type DashboardEvent struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Severity  string    `json:"severity"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type dashboardClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan *DashboardEvent
}

// DashboardHub fans notifications out to connected dashboard WebSocket
// clients and keeps a bounded in-memory feed so a freshly opened dashboard
// still sees recent activity. A notification counts as delivered once it is
// appended to the feed; live connections are best effort.
type DashboardHub struct {
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	clients     map[uuid.UUID]*dashboardClient
	clientsLock sync.RWMutex

	feed     []*DashboardEvent
	feedLock sync.RWMutex
	feedCap  int
}

func NewDashboardHub(logger *zap.Logger) *DashboardHub {
	return &DashboardHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*dashboardClient),
		feedCap: 200,
	}
}

// Deliver appends the notification to the feed and pushes it to every
// connected client. Slow clients are skipped rather than blocking the
// monitoring cycle.
func (h *DashboardHub) Deliver(ctx context.Context, n *notification.Notification) error {
	event := &DashboardEvent{
		ID:        n.NotificationID.String(),
		Recipient: n.Recipient,
		Severity:  string(n.Severity),
		Subject:   n.Subject,
		Body:      n.Body,
		Timestamp: n.CreatedAt,
	}

	h.feedLock.Lock()
	h.feed = append(h.feed, event)
	if len(h.feed) > h.feedCap {
		h.feed = h.feed[len(h.feed)-h.feedCap:]
	}
	h.feedLock.Unlock()

	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- event:
		default:
			h.logger.Warn("dashboard client send buffer full, dropping event",
				zap.String("client_id", client.id.String()))
		}
	}
	return nil
}

// Feed returns the most recent events, newest last.
func (h *DashboardHub) Feed() []*DashboardEvent {
	h.feedLock.RLock()
	defer h.feedLock.RUnlock()
	out := make([]*DashboardEvent, len(h.feed))
	copy(out, h.feed)
	return out
}

// ServeHTTP upgrades the request to a WebSocket connection and streams
// dashboard events until the client disconnects.
func (h *DashboardHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &dashboardClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan *DashboardEvent, 32),
	}

	h.clientsLock.Lock()
	h.clients[client.id] = client
	h.clientsLock.Unlock()

	h.logger.Info("dashboard client connected", zap.String("client_id", client.id.String()))

	go h.writePump(client)
	h.readPump(client)
}

func (h *DashboardHub) readPump(client *dashboardClient) {
	defer h.removeClient(client)
	client.conn.SetReadLimit(4096)
	for {
		// Clients only send control frames; any read error ends the session.
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *DashboardHub) writePump(client *dashboardClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *DashboardHub) removeClient(client *dashboardClient) {
	h.clientsLock.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.clientsLock.Unlock()
	client.conn.Close()
	h.logger.Info("dashboard client disconnected", zap.String("client_id", client.id.String()))
}
