package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/shini559/Gaming-advisor/internal/api/handlers"
	"github.com/shini559/Gaming-advisor/internal/api/middleware"
)

type Deps struct {
	Batch *handlers.BatchHandler
	Chat  *handlers.ChatHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.POST("/games/:game_id/images/batch", d.Batch.Create)
	auth.GET("/batches/:batch_id/status", d.Batch.GetStatus)
	auth.POST("/batches/:batch_id/retry", d.Batch.Retry)
	auth.GET("/images/:image_id/status", d.Batch.GetImageStatus)

	auth.POST("/chat/conversations", d.Chat.CreateConversation)
	auth.GET("/games/:game_id/conversations", d.Chat.ListConversations)
	auth.POST("/chat/messages", d.Chat.SendMessage)
	auth.GET("/chat/conversations/:conversation_id/history", d.Chat.GetHistory)
	auth.POST("/chat/messages/:message_id/feedback", d.Chat.AddFeedback)
}
