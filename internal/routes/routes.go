package routes

import (
	"social_backend/internal/auth"
	"social_backend/internal/handlers"
	"social_backend/internal/logger"
	"social_backend/internal/middleware"
	"social_backend/ws"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "social_backend/docs"
)

// RegisterRoutes registers every HTTP and websocket route.
func RegisterRoutes(
	ginRouter *gin.Engine,
	appHandlers *handlers.AppHandlers,
	wsHandler *ws.WebSocketHandler,
	tokens *auth.Manager,
) {
	ginRouter.GET("/health", appHandlers.HealthHandler.Health)
	ginRouter.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := ginRouter.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(tokens))
	{
		appHandlers.ChatHandler.RegisterRoutes(api)
		appHandlers.PresenceHandler.RegisterRoutes(api)
	}

	// The upgrade authenticates by itself: browsers cannot set headers on
	// websocket requests, so the token may also come as ?token=.
	ginRouter.GET("/ws", wsHandler.ServeWS)
	logger.Info("WebSocket route /ws registered")
}
