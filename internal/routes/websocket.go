package routes

import (
	"socialchat/internal/config"
	"socialchat/internal/handlers"
	"socialchat/internal/middleware"
	"socialchat/internal/websocket"

	"github.com/gin-gonic/gin"
)

func SetupWebSocketRoutes(router *gin.Engine, hub *websocket.Hub, cfg *config.Config) {
	wsHandler := handlers.NewWebSocketHandler(hub, cfg.Server.WebSocket, cfg.Server.Polling, cfg.Server.CORS)

	socket := router.Group("/socket", middleware.JWTAuth(cfg.Security.JWT))
	{
		// Streaming transport
		socket.GET("", wsHandler.HandleWebSocket)

		// Long-poll fallback
		socket.POST("/poll", wsHandler.OpenPoll)
		socket.GET("/poll/:sid", wsHandler.Poll)
		socket.POST("/poll/:sid", wsHandler.PollSend)
		socket.DELETE("/poll/:sid", wsHandler.ClosePoll)
	}
}
