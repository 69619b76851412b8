package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/metrics"
	"socialchat/internal/models"
	"socialchat/internal/realtime/events"
	"socialchat/internal/storage"
	"socialchat/pkg/logger"
)

// Directory resolves conversations for routing and authorization
type Directory interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// Hub maintains the set of active clients, their users and their rooms.
// A client may be in many rooms and a user may have many clients.
type Hub struct {
	cfg       config.WebSocketConfig
	pollCfg   config.PollingConfig
	directory Directory
	presence  storage.PresenceStore

	// Registered clients by socket id
	clients map[string]*Client

	// Clients organized by user ID
	userClients map[string]map[*Client]struct{}

	// Clients organized by room ID
	roomClients map[string]map[*Client]struct{}

	mu sync.RWMutex
}

// HubStats is a point-in-time view of the hub
type HubStats struct {
	TotalClients int            `json:"totalClients"`
	OnlineUsers  int            `json:"onlineUsers"`
	ActiveRooms  int            `json:"activeRooms"`
	Transports   map[string]int `json:"transports"`
	LastUpdated  time.Time      `json:"lastUpdated"`
}

// NewHub creates a hub. presence may be shared between relay nodes.
func NewHub(cfg config.WebSocketConfig, pollCfg config.PollingConfig, directory Directory, presence storage.PresenceStore) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	return &Hub{
		cfg:         cfg,
		pollCfg:     pollCfg,
		directory:   directory,
		presence:    presence,
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[*Client]struct{}),
		roomClients: make(map[string]map[*Client]struct{}),
	}
}

// Run expires idle sessions until ctx is done, then drops every client
func (h *Hub) Run(ctx context.Context) {
	interval := h.pollCfg.SessionTTL / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	cleanup := time.NewTicker(interval)
	defer cleanup.Stop()

	for {
		select {
		case <-cleanup.C:
			h.cleanupInactiveClients()
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Register adds a client. The caller queues the connected frame first.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	if h.userClients[c.UserID] == nil {
		h.userClients[c.UserID] = make(map[*Client]struct{})
	}
	h.userClients[c.UserID][c] = struct{}{}
	h.updateGaugesLocked()
	total := len(h.clients)
	h.mu.Unlock()

	metrics.Connections.WithLabelValues(c.Transport).Inc()
	logger.LogConnectionEvent("client_registered", c.ID, map[string]interface{}{
		"user_id":       c.UserID,
		"transport":     c.Transport,
		"total_clients": total,
	})
}

// Unregister removes a client from every room and closes its queue. The
// user's last socket going away flips presence and notifies friends.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	if set, ok := h.userClients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.userClients, c.UserID)
		}
	}
	for _, room := range c.Rooms() {
		h.leaveLocked(c, room)
	}
	c.close()
	h.updateGaugesLocked()
	h.mu.Unlock()

	metrics.Connections.WithLabelValues(c.Transport).Dec()
	logger.LogConnectionEvent("client_unregistered", c.ID, map[string]interface{}{
		"user_id":          c.UserID,
		"duration_seconds": time.Since(c.ConnectedAt).Seconds(),
	})

	if !c.isAnnounced() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, err := h.presence.Disconnect(ctx, c.UserID, c.ID)
	if err != nil {
		logger.LogError(err, "presence_disconnect", map[string]interface{}{"user_id": c.UserID})
		return
	}
	if last {
		h.notifyFriends(ctx, c.UserID, events.FriendOffline{UserID: c.UserID})
	}
}

// Client returns the registered client with socket id sid
func (h *Hub) Client(sid string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sid]
	return c, ok
}

// Join adds c to roomID
func (h *Hub) Join(c *Client, roomID string) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	if h.roomClients[roomID] == nil {
		h.roomClients[roomID] = make(map[*Client]struct{})
	}
	h.roomClients[roomID][c] = struct{}{}
	c.setRoom(roomID, true)
	size := len(h.roomClients[roomID])
	h.updateGaugesLocked()
	h.mu.Unlock()

	logger.LogChatEvent("user_joined_room", roomID, c.UserID, map[string]interface{}{
		"socket_id": c.ID,
		"room_size": size,
	})
}

// Leave removes c from roomID
func (h *Hub) Leave(c *Client, roomID string) {
	h.mu.Lock()
	h.leaveLocked(c, roomID)
	h.updateGaugesLocked()
	h.mu.Unlock()

	logger.LogChatEvent("user_left_room", roomID, c.UserID, map[string]interface{}{"socket_id": c.ID})
}

func (h *Hub) leaveLocked(c *Client, roomID string) {
	if set, ok := h.roomClients[roomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.roomClients, roomID)
		}
	}
	c.setRoom(roomID, false)
}

// BroadcastToRoom sends ev to every client in roomID except exclude
func (h *Hub) BroadcastToRoom(roomID string, ev events.Event, exclude *Client) int {
	return h.Deliver(roomID, nil, ev, exclude)
}

// BroadcastToUsers sends ev to every client of userIDs except exclude
func (h *Hub) BroadcastToUsers(userIDs []string, ev events.Event, exclude *Client) int {
	return h.Deliver("", userIDs, ev, exclude)
}

// Deliver sends ev once to each client that is in roomID or belongs to
// one of userIDs. It returns the number of clients the frame was queued on.
func (h *Hub) Deliver(roomID string, userIDs []string, ev events.Event, exclude *Client) int {
	data, err := encodeFrame(ev)
	if err != nil {
		logger.WithError(err).Error("Failed to encode frame")
		return 0
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	if roomID != "" {
		for c := range h.roomClients[roomID] {
			targets[c] = struct{}{}
		}
	}
	for _, id := range userIDs {
		for c := range h.userClients[id] {
			targets[c] = struct{}{}
		}
	}
	delete(targets, exclude)
	h.mu.RUnlock()

	delivered := 0
	var slow []*Client
	for c := range targets {
		if c.queue(data) {
			delivered++
			continue
		}
		if !c.Closed() {
			slow = append(slow, c)
		}
	}

	if delivered > 0 {
		metrics.EventsRelayed.WithLabelValues(ev.EventName()).Add(float64(delivered))
	}
	for _, c := range slow {
		metrics.DroppedFrames.Inc()
		logger.WithFields(map[string]interface{}{
			"socket_id": c.ID,
			"user_id":   c.UserID,
			"event":     ev.EventName(),
		}).Warn("Client send buffer full, dropping client")
		go h.Unregister(c)
	}
	return delivered
}

// IsUserOnline reports whether userID has a client on this node
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userClients[userID]
	return ok
}

// RoomMembers returns the user ids with a client in roomID
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	for c := range h.roomClients[roomID] {
		seen[c.UserID] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		TotalClients: len(h.clients),
		OnlineUsers:  len(h.userClients),
		ActiveRooms:  len(h.roomClients),
		Transports:   make(map[string]int),
		LastUpdated:  time.Now(),
	}
	for _, c := range h.clients {
		stats.Transports[c.Transport]++
	}
	return stats
}

func (h *Hub) updateGaugesLocked() {
	metrics.OnlineUsers.Set(float64(len(h.userClients)))
	metrics.Rooms.Set(float64(len(h.roomClients)))
}

// friendsOf returns the active participants of userID's conversations
func (h *Hub) friendsOf(ctx context.Context, userID string) []string {
	convs, err := h.directory.ListConversations(ctx, userID)
	if err != nil {
		logger.LogError(err, "list_friends", map[string]interface{}{"user_id": userID})
		return nil
	}

	seen := make(map[string]struct{})
	for i := range convs {
		for _, id := range convs[i].ActiveParticipantIDs() {
			if id != userID {
				seen[id] = struct{}{}
			}
		}
	}
	friends := make([]string, 0, len(seen))
	for id := range seen {
		friends = append(friends, id)
	}
	sort.Strings(friends)
	return friends
}

func (h *Hub) notifyFriends(ctx context.Context, userID string, ev events.Event) {
	friends := h.friendsOf(ctx, userID)
	if len(friends) == 0 {
		return
	}
	h.BroadcastToUsers(friends, ev, nil)
}

// cleanupInactiveClients drops long-poll sessions nobody polled within
// the session TTL and websocket clients that stopped answering pings.
func (h *Hub) cleanupInactiveClients() {
	now := time.Now()

	h.mu.RLock()
	var inactive []*Client
	for _, c := range h.clients {
		limit := h.cfg.PongWait
		if c.Transport == TransportPolling {
			limit = h.pollCfg.SessionTTL
		}
		if limit > 0 && now.Sub(c.idleSince()) > limit {
			inactive = append(inactive, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range inactive {
		logger.WithFields(map[string]interface{}{
			"socket_id": c.ID,
			"user_id":   c.UserID,
			"transport": c.Transport,
		}).Info("Removing inactive client")
		h.Unregister(c)
	}
}

func (h *Hub) shutdown() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Unregister(c)
	}
}
