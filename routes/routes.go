package routes

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"playmate-chat/config"
	"playmate-chat/controllers"
	"playmate-chat/middlewares"
	"playmate-chat/services"
	"playmate-chat/ws"
)

// Deps are the long-lived components the routes are wired to.
type Deps struct {
	Config *config.Config
	Chat   *services.ChatService
	Hub    *ws.Hub
	Tokens middlewares.TokenVerifier
	Log    *zap.Logger
}

// RegisterRoutes builds the gin engine.
func RegisterRoutes(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(d.Log))

	corsConfig := cors.Config{
		AllowOrigins:     d.Config.CORS.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	if len(corsConfig.AllowOrigins) == 0 || (len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*") {
		// wildcard origins cannot be combined with credentials
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middlewares.TokenAuthMiddleware(d.Tokens, d.Log)
	r.GET("/ws", auth, controllers.WSController(d.Hub))

	chat := controllers.NewChatController(d.Chat, d.Log)
	protected := r.Group("/chat")
	protected.Use(auth, middlewares.RateLimitMiddleware(d.Config.RateLimit, d.Log))
	{
		protected.GET("/me", chat.GetUserInfo)
		protected.GET("/conversations", chat.GetConversations)
		protected.POST("/conversations", chat.CreateConversation)
		protected.GET("/conversations/:id/messages", chat.GetMessages)
		protected.POST("/conversations/:id/messages", chat.SendMessage)
		protected.POST("/conversations/:id/read", chat.MarkRead)
	}

	internal := controllers.NewInternalController(d.Chat, d.Log)
	collaborators := r.Group("/internal/chat")
	collaborators.Use(middlewares.ServiceKeyMiddleware(d.Config.Auth.ServiceKey, d.Log))
	{
		collaborators.POST("/conversations", internal.OpenConversation)
		collaborators.POST("/conversations/:id/end", internal.EndConversation)
	}

	return r
}
