package routes

import (
	"socialchat/internal/config"
	"socialchat/internal/handlers"
	"socialchat/internal/metrics"
	"socialchat/internal/middleware"
	"socialchat/internal/services"
	"socialchat/internal/storage"
	"socialchat/internal/websocket"

	"github.com/gin-gonic/gin"
)

// Deps are the long-lived components routes are built from
type Deps struct {
	Config *config.Config
	Hub    *websocket.Hub
	Store  storage.Store
	Checks map[string]handlers.HealthChecker
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	cfg := deps.Config

	// Initialize services
	chatService := services.NewChatService(deps.Store, deps.Hub)
	iceService := services.NewICEService(cfg.WebRTC)

	// Initialize handlers with dependencies
	chatHandler := handlers.NewChatHandler(chatService)
	iceHandler := handlers.NewICEHandler(iceService)
	healthHandler := handlers.NewHealthHandler(cfg.App, deps.Hub, deps.Checks)

	// Global middleware
	router.Use(middleware.CORS(cfg.Server.CORS))
	router.Use(middleware.RequestLogger())

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	SetupWebSocketRoutes(router, deps.Hub, cfg)

	api := router.Group("/api", middleware.JWTAuth(cfg.Security.JWT))
	{
		conversations := api.Group("/conversations")
		{
			conversations.GET("", chatHandler.ListConversations)
			conversations.POST("", chatHandler.CreateConversation)
			conversations.GET("/:id/messages", chatHandler.GetMessages)
			conversations.POST("/:id/messages", chatHandler.SendMessage)
			conversations.POST("/:id/read", chatHandler.MarkRead)
		}

		messages := api.Group("/messages")
		{
			messages.PUT("/:id/reactions", chatHandler.ToggleReaction)
			messages.DELETE("/:id", chatHandler.RecallMessage)
		}

		api.GET("/calls/ice-servers", iceHandler.GetICEServers)
	}
}
