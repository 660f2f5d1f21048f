package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/auth"
	"github.com/vovakirdan/wiremesh/internal/config"
	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/store"
)

// NewServer builds the relay HTTP server. The WebSocket endpoint sits on the
// mux beside the gin API router. tickets and audit are optional.
func NewServer(hub *core.Hub, tickets *auth.Tickets, audit store.AuditStore, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	rooms := NewRoomHandlers(hub, audit, logger)
	api := router.Group("/api")
	api.GET("/rooms", rooms.ListRooms)
	api.GET("/rooms/:id", rooms.GetRoom)
	if audit != nil {
		api.GET("/rooms/:id/audit", rooms.ListAudit)
	}
	if tickets != nil {
		api.POST("/tickets", NewTicketHandlers(tickets, logger).Issue)
	}

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, tickets, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}
