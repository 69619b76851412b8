package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Transport names reported by clients
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Client is one event-stream connection. Outbound frames are queued on
// Send and drained either by WritePump or by the long-poll handler.
type Client struct {
	ID        string
	UserID    string
	Transport string

	Hub  *Hub
	Conn *websocket.Conn // nil for long-poll sessions

	Send chan []byte

	ConnectedAt time.Time

	mu         sync.Mutex
	rooms      map[string]struct{}
	announced  bool
	closed     bool
	lastActive time.Time
}

// NewClient creates a client with a fresh socket id
func NewClient(hub *Hub, userID, transport string, conn *websocket.Conn) *Client {
	now := time.Now()
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		Transport:   transport,
		Hub:         hub,
		Conn:        conn,
		Send:        make(chan []byte, hub.cfg.SendBufferSize),
		ConnectedAt: now,
		rooms:       make(map[string]struct{}),
		lastActive:  now,
	}
}

// ConnectedFrame is the handshake frame carrying the socket id
func (c *Client) ConnectedFrame() events.Frame {
	return events.MustEncode(events.Connected{SocketID: c.ID})
}

// Emit queues ev; false means the client is gone or too slow
func (c *Client) Emit(ev events.Event) bool {
	data, err := encodeFrame(ev)
	if err != nil {
		logger.WithError(err).Error("Failed to encode frame")
		return false
	}
	return c.queue(data)
}

func (c *Client) queue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// close stops accepting frames. Only the hub calls it, once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Closed reports whether the hub has dropped the client
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Touch records activity for idle session expiry
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Rooms returns the rooms the client has joined
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

func (c *Client) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) setRoom(roomID string, in bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in {
		c.rooms[roomID] = struct{}{}
	} else {
		delete(c.rooms, roomID)
	}
}

// announce marks the identity as announced and reports whether it was new
func (c *Client) announce() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.announced {
		return false
	}
	c.announced = true
	return true
}

func (c *Client) isAnnounced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announced
}

// ReadPump pumps frames from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	cfg := c.Hub.cfg
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Touch()
		c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.WithFields(map[string]interface{}{
					"socket_id": c.ID,
					"user_id":   c.UserID,
					"error":     err.Error(),
				}).Warn("WebSocket read error")
			}
			return
		}
		c.Touch()

		var frame events.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Emit(events.ServerError{Message: "invalid frame"})
			continue
		}
		c.Hub.HandleFrame(c, frame)
	}
}

// WritePump writes one frame per WebSocket message. Frames are never
// concatenated since each message is decoded as a single JSON value.
func (c *Client) WritePump() {
	cfg := c.Hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Drain waits up to wait for the first queued frame, then takes whatever
// else is queued up to max. closed is true once the hub dropped the client
// and the queue is empty.
func (c *Client) Drain(done <-chan struct{}, wait time.Duration, max int) (frames []json.RawMessage, closed bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case data, ok := <-c.Send:
		if !ok {
			return nil, true
		}
		frames = append(frames, data)
	case <-timer.C:
		return nil, false
	case <-done:
		return nil, false
	}

	for len(frames) < max {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return frames, false
			}
			frames = append(frames, data)
		default:
			return frames, false
		}
	}
	return frames, false
}

func encodeFrame(ev events.Event) ([]byte, error) {
	f, err := events.Encode(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}
