// internal/socket/hub.go
package socket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/metrics"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

const hubPingInterval = 30 * time.Second

// Hub maintains the set of active clients and the meeting rooms they watch.
// Room membership changes and room sends are synchronous; only connection
// registration goes through the Run loop.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Subscribers indexed by room, then connection ID
	rooms map[string]map[string]service.Subscriber

	// The single room each connection is watching
	watching map[string]string

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done chan struct{}

	mu      sync.RWMutex
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHub creates a new Hub. m may be nil.
func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[string]service.Subscriber),
		watching:   make(map[string]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("hub"),
		metrics:    m,
		now:        time.Now,
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing every
// remaining client.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("websocket hub started")

	pingTicker := time.NewTicker(hubPingInterval)
	defer pingTicker.Stop()
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-pingTicker.C:
			h.pingClients()

		case <-ctx.Done():
			h.shutdown()
			h.log.Info("websocket hub stopped")
			return
		}
	}
}

// Register hands a new client to the Run loop.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	if h.metrics != nil {
		h.metrics.WebSocketConnections.Inc()
	}

	h.log.Info("client registered",
		zap.String("user", client.Identity.UserID),
		zap.String("conn", client.ID),
		zap.Int("total_clients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.leaveLocked(client)
	client.close()
	if h.metrics != nil {
		h.metrics.WebSocketConnections.Dec()
	}

	h.log.Info("client disconnected",
		zap.String("user", client.Identity.UserID),
		zap.String("conn", client.ID),
		zap.Int("total_clients", len(h.clients)))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.leaveLocked(client)
		client.close()
		delete(h.clients, client)
		if h.metrics != nil {
			h.metrics.WebSocketConnections.Dec()
		}
	}
}

// pingClients sends an application ping to every client and drops those that
// cannot take it or have not answered within pongWait.
func (h *Hub) pingClients() {
	now := h.now()
	data, err := models.EncodeMessage(models.MessagePing, nil, now)
	if err != nil {
		return
	}

	h.mu.RLock()
	var stale []*Client
	for client := range h.clients {
		if idle := client.idleFor(now); idle > pongWait {
			h.log.Info("dropping idle client", zap.String("conn", client.ID), zap.Duration("idle", idle))
			stale = append(stale, client)
			continue
		}
		if !client.Deliver(data) {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.unregisterClient(client)
	}
}

// ============================================
// Rooms
// ============================================

// JoinRoom moves sub into room, leaving whatever room it watched before.
func (h *Hub) JoinRoom(room string, sub service.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(sub)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]service.Subscriber)
	}
	h.rooms[room][sub.ConnID()] = sub
	h.watching[sub.ConnID()] = room

	h.log.Debug("client joined room", zap.String("conn", sub.ConnID()), zap.String("room", room))
}

// LeaveRoom removes sub from the room it is watching, if any.
func (h *Hub) LeaveRoom(sub service.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub)
}

func (h *Hub) leaveLocked(sub service.Subscriber) {
	room, ok := h.watching[sub.ConnID()]
	if !ok {
		return
	}
	delete(h.watching, sub.ConnID())
	if subs, ok := h.rooms[room]; ok {
		delete(subs, sub.ConnID())
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	h.log.Debug("client left room", zap.String("conn", sub.ConnID()), zap.String("room", room))
}

// SendToRoom delivers data to every subscriber of room before returning.
// A subscriber that cannot take the message is dropped from the room; it has
// to rejoin for a fresh snapshot.
func (h *Hub) SendToRoom(room string, data []byte) int {
	h.mu.RLock()
	var (
		sent int
		slow []service.Subscriber
	)
	for _, sub := range h.rooms[room] {
		if sub.Deliver(data) {
			sent++
		} else {
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.evict(sub)
	}
	return sent
}

func (h *Hub) evict(sub service.Subscriber) {
	if h.metrics != nil {
		h.metrics.PatchesDropped.Inc()
	}
	h.log.Warn("send buffer full, dropping connection", zap.String("conn", sub.ConnID()))

	if client, ok := sub.(*Client); ok {
		h.unregisterClient(client)
		return
	}
	h.LeaveRoom(sub)
}

// ============================================
// Query Methods
// ============================================

// RoomSize returns the number of subscribers in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Watching returns the room a connection is in.
func (h *Hub) Watching(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.watching[connID]
	return room, ok
}

// GetConnectedClientsCount returns total connected clients.
func (h *Hub) GetConnectedClientsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
