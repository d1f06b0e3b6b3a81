package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/middleware"
)

type RouterDeps struct {
	Chat      *ChatHandler
	Documents *DocumentHandler
	// ChatWindow is the minimum gap between two chat requests of a client.
	ChatWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/chat", middleware.RateLimit(deps.ChatWindow), deps.Chat.Chat)
	api.GET("/conversations/:session_id", deps.Chat.History)
	api.POST("/conversations/:session_id/archive", deps.Chat.Archive)
	api.POST("/messages/:id/feedback", deps.Chat.Feedback)

	api.POST("/documents", deps.Documents.Scrape)
	api.GET("/stats", deps.Documents.Stats)
}
