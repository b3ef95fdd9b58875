package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/auth"
	"github.com/avdeyev/chatline/internal/config"
	"github.com/avdeyev/chatline/internal/core"
	"github.com/avdeyev/chatline/internal/metrics"
	"github.com/avdeyev/chatline/internal/store"
)

// Deps bundles the collaborators the HTTP layer needs.
type Deps struct {
	Registry    *core.Registry
	Inbound     *core.InboundHandler
	Broadcaster *core.Broadcaster
	AuthService *auth.Service
	Store       store.Store
	Metrics     *metrics.Metrics
	Log         *zerolog.Logger
}

// NewServer builds the HTTP server: REST API, metrics, and the WebSocket
// upgrade endpoint.
func NewServer(cfg config.Config, deps Deps) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(deps.Log))

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	apiHandlers := NewAPIHandlers(deps.AuthService, deps.Log)
	msgHandlers := NewMessageHandlers(deps.Store, deps.Broadcaster, deps.Log)

	api := engine.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authorized := api.Group("")
	authorized.Use(AuthMiddleware(deps.AuthService, deps.Log))
	authorized.GET("/channels/:id/messages", msgHandlers.ListMessages)
	authorized.POST("/channels/:id/messages", msgHandlers.PostMessage)
	authorized.GET("/channels/:id/read", msgHandlers.GetReadMark)

	wsHandler := NewWSHandler(deps.Registry, deps.Inbound, deps.AuthService, deps.Log, cfg.WSRateLimit)
	engine.GET("/ws", gin.WrapH(wsHandler))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
