package handlers

import (
	"socialchat/internal/middleware"
	"socialchat/internal/services"
	"socialchat/internal/utils"

	"github.com/gin-gonic/gin"
)

type ICEHandler struct {
	iceService *services.ICEService
}

func NewICEHandler(iceService *services.ICEService) *ICEHandler {
	return &ICEHandler{iceService: iceService}
}

// GetICEServers returns STUN servers and, when configured, fresh TURN
// credentials for the caller.
func (h *ICEHandler) GetICEServers(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	utils.SuccessResponse(c, h.iceService.ServersFor(c.GetString(middleware.ContextUserID)))
}
