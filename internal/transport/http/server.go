package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"triagechat/internal/bootstrap"
	"triagechat/internal/pkg/logger"
	"triagechat/internal/transport/http/handler"
	"triagechat/internal/transport/http/middleware"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Chat   *handler.ChatHandler
	Health *handler.HealthHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	return NewEngine(app.Config.App.Name, app.Config.Auth.JWTSecret, app.Log, Handlers{
		Auth:   handler.NewAuthHandler(app.Auth),
		Chat:   handler.NewChatHandler(app.Chats, app.Turns),
		Health: handler.NewHealthHandler(app),
	})
}

// NewEngine mounts the API on a fresh gin engine. Health is optional so the
// API can be served without live infrastructure.
func NewEngine(serviceName, jwtSecret string, log *logger.Logger, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(serviceName),
		middleware.RequestLogger(log),
	)

	if h.Health != nil {
		router.GET("/healthz", h.Health.Check)
	}

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.GET("/me", middleware.AuthJWT(jwtSecret), h.Auth.Me)

	chats := v1.Group("/chats")
	chats.Use(middleware.AuthJWT(jwtSecret))
	chats.GET("", h.Chat.ListChats)
	chats.POST("", h.Chat.CreateChat)
	chats.GET("/:id", h.Chat.GetChat)
	chats.DELETE("/:id", h.Chat.DeleteChat)
	chats.POST("/:id/messages", h.Chat.PostMessage)
	chats.POST("/:id/retry", h.Chat.RetryTurn)
	chats.GET("/:id/audits", h.Chat.ListAudits)

	return router
}
