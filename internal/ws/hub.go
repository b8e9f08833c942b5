package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/observability"
)

// Conn is the subset of a websocket connection the hub needs. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub maintains per-campaign rooms of long-lived push connections:
// campaign id → user id → connection. Connects and disconnects are rare,
// broadcasts are frequent, so sends only hold the lock long enough to
// snapshot connection pointers.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn

	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger, metrics observability.MetricsRegistry) *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]Conn),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds a connection to a campaign room. An existing connection for
// the same (campaign, user) pair is closed and replaced.
func (h *Hub) Register(campaignID, userID string, conn Conn) {
	var old Conn

	h.mu.Lock()
	room, ok := h.rooms[campaignID]
	if !ok {
		room = make(map[string]Conn)
		h.rooms[campaignID] = room
	}
	old = room[userID]
	room[userID] = conn
	size := len(room)
	h.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	h.metrics.SetWSConnections(campaignID, size)
	h.logger.Info("websocket connected",
		zap.String("campaign_id", campaignID),
		zap.String("user_id", userID),
		zap.Int("room_size", size))
}

// Unregister removes a connection from its room. The conn argument guards
// against removing a replacement that raced in after this connection was
// superseded; pass nil to remove unconditionally. Empty rooms are dropped.
func (h *Hub) Unregister(campaignID, userID string, conn Conn) {
	h.mu.Lock()
	room, ok := h.rooms[campaignID]
	if ok {
		if existing, found := room[userID]; found && (conn == nil || existing == conn) {
			delete(room, userID)
		}
		if len(room) == 0 {
			delete(h.rooms, campaignID)
		}
	}
	size := 0
	if room != nil {
		size = len(room)
	}
	h.mu.Unlock()

	h.metrics.SetWSConnections(campaignID, size)
	h.logger.Info("websocket disconnected",
		zap.String("campaign_id", campaignID),
		zap.String("user_id", userID))
}

// SendToUser delivers an event to one user. Best effort: a failed write
// closes and removes the connection. Returns whether the event was written.
func (h *Hub) SendToUser(campaignID, userID string, event Event) bool {
	h.mu.RLock()
	var conn Conn
	if room, ok := h.rooms[campaignID]; ok {
		conn = room[userID]
	}
	h.mu.RUnlock()

	if conn == nil {
		return false
	}
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Warn("websocket send failed",
			zap.String("campaign_id", campaignID),
			zap.String("user_id", userID),
			zap.Error(err))
		_ = conn.Close()
		h.Unregister(campaignID, userID, conn)
		return false
	}
	return true
}

// Broadcast fans an event out to every connection in a campaign room
// concurrently. Failed connections are closed and removed. Returns the
// number of successful sends.
func (h *Hub) Broadcast(campaignID string, event Event) int {
	h.mu.RLock()
	room := h.rooms[campaignID]
	conns := make(map[string]Conn, len(room))
	for userID, conn := range room {
		conns[userID] = conn
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for userID, conn := range conns {
		wg.Add(1)
		go func(userID string, conn Conn) {
			defer wg.Done()
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Warn("websocket broadcast failed",
					zap.String("campaign_id", campaignID),
					zap.String("user_id", userID),
					zap.Error(err))
				_ = conn.Close()
				h.Unregister(campaignID, userID, conn)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(userID, conn)
	}
	wg.Wait()
	return sent
}

// ActiveCampaigns returns the campaign ids with at least one subscriber.
func (h *Hub) ActiveCampaigns() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// ConnectedUsers returns the user ids subscribed to a campaign.
func (h *Hub) ConnectedUsers(campaignID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[campaignID]
	users := make([]string, 0, len(room))
	for id := range room {
		users = append(users, id)
	}
	return users
}

// RoomSize returns the number of subscribers in a campaign room.
func (h *Hub) RoomSize(campaignID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[campaignID])
}
