package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/auth"
	"github.com/vovakirdan/wirechat-session/internal/config"
	"github.com/vovakirdan/wirechat-session/internal/core"
	"github.com/vovakirdan/wirechat-session/internal/store"
)

// JWTConfig converts dev server settings into token parameters.
func JWTConfig(cfg config.DevServerConfig) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
}

// NewServer builds the dev server: health check, WebSocket endpoint and the
// message history API. st may be nil, in which case history is unavailable.
func NewServer(hub core.Hub, st store.Store, cfg config.DevServerConfig, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	jwtCfg := JWTConfig(cfg)

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	if st != nil {
		history := NewHistoryHandlers(st, logger)
		api := router.Group("/api", AuthMiddleware(jwtCfg, logger))
		api.GET("/chats/:chatId/messages", history.ListMessages)
	}

	// /ws is served outside gin so the upgrade can hijack the connection.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, WSConfig{
		JWT:               jwtCfg,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerMinute: cfg.MessagesPerMinute,
	}, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
