package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"socialchat/internal/config"
	"socialchat/internal/middleware"
	"socialchat/internal/realtime/events"
	"socialchat/internal/utils"
	"socialchat/internal/websocket"
	"socialchat/pkg/logger"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader
	polling  config.PollingConfig
	maxBody  int64
}

func NewWebSocketHandler(hub *websocket.Hub, wsCfg config.WebSocketConfig, pollCfg config.PollingConfig, cors config.CORSConfig) *WebSocketHandler {
	if pollCfg.MaxBatch <= 0 {
		pollCfg.MaxBatch = 64
	}
	maxBody := wsCfg.MaxMessageSize * int64(pollCfg.MaxBatch)
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  wsCfg.ReadBufferSize,
			WriteBufferSize: wsCfg.WriteBufferSize,
			CheckOrigin:     middleware.CheckOrigin(cors),
		},
		polling: pollCfg,
		maxBody: maxBody,
	}
}

// HandleWebSocket upgrades an authenticated request to the event stream.
// The connected frame is queued before the pumps start so it is always
// the first frame the client reads.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := websocket.NewClient(h.hub, userID, websocket.TransportWebSocket, conn)
	client.Emit(events.Connected{SocketID: client.ID})
	h.hub.Register(client)

	logger.LogConnectionEvent("websocket_connected", client.ID, map[string]interface{}{
		"user_id":    userID,
		"ip":         c.ClientIP(),
		"user_agent": c.GetHeader("User-Agent"),
	})

	go client.WritePump()
	go client.ReadPump()
}

// OpenPoll starts a long-poll session and answers with the handshake
func (h *WebSocketHandler) OpenPoll(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	client := websocket.NewClient(h.hub, userID, websocket.TransportPolling, nil)
	h.hub.Register(client)

	logger.LogConnectionEvent("polling_connected", client.ID, map[string]interface{}{
		"user_id": userID,
		"ip":      c.ClientIP(),
	})

	c.JSON(http.StatusOK, []events.Frame{client.ConnectedFrame()})
}

// Poll holds the request until frames are queued or the wait elapses.
// An empty wait answers 204; a session the hub dropped answers 410.
func (h *WebSocketHandler) Poll(c *gin.Context) {
	client, ok := h.session(c)
	if !ok {
		return
	}

	client.Touch()
	frames, closed := client.Drain(c.Request.Context().Done(), h.polling.Wait, h.polling.MaxBatch)
	client.Touch()

	if closed {
		utils.ErrorResponse(c, http.StatusGone, "Session closed")
		return
	}
	if len(frames) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, frames)
}

// PollSend routes a batch of frames sent over a long-poll session
func (h *WebSocketHandler) PollSend(c *gin.Context) {
	client, ok := h.session(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	var frames []events.Frame
	if err := json.NewDecoder(c.Request.Body).Decode(&frames); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, "Frame batch too large")
			return
		}
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid frame batch")
		return
	}

	client.Touch()
	for _, f := range frames {
		h.hub.HandleFrame(client, f)
	}
	c.Status(http.StatusNoContent)
}

// ClosePoll ends a long-poll session
func (h *WebSocketHandler) ClosePoll(c *gin.Context) {
	client, ok := h.session(c)
	if !ok {
		return
	}
	h.hub.Unregister(client)
	c.Status(http.StatusNoContent)
}

func (h *WebSocketHandler) session(c *gin.Context) (*websocket.Client, bool) {
	client, ok := h.hub.Client(c.Param("sid"))
	if !ok || client.Transport != websocket.TransportPolling {
		utils.NotFoundResponse(c, "Session not found")
		return nil, false
	}
	if client.UserID != c.GetString(middleware.ContextUserID) {
		utils.ForbiddenResponse(c, "Session belongs to another user")
		return nil, false
	}
	if client.Closed() {
		utils.ErrorResponse(c, http.StatusGone, "Session closed")
		return nil, false
	}
	return client, true
}
