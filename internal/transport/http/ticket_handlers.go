package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/auth"
)

// TicketHandlers issues join tickets.
type TicketHandlers struct {
	tickets *auth.Tickets
	log     *zerolog.Logger
}

// NewTicketHandlers creates a new ticket handlers instance.
func NewTicketHandlers(tickets *auth.Tickets, logger *zerolog.Logger) *TicketHandlers {
	return &TicketHandlers{tickets: tickets, log: logger}
}

// TicketRequest represents the ticket request body.
type TicketRequest struct {
	UserID   string `json:"userId" binding:"required,max=128"`
	UserName string `json:"userName" binding:"max=128"`
}

// TicketResponse carries a signed ticket.
type TicketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresAt string `json:"expiresAt"`
}

// Issue signs a join ticket for the requested participant id.
// POST /api/tickets
func (h *TicketHandlers) Issue(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid ticket request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ticket, expires, err := h.tickets.Issue(req.UserID, req.UserName)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to issue ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Debug().Str("user_id", req.UserID).Msg("ticket issued")
	c.JSON(http.StatusCreated, TicketResponse{
		Ticket:    ticket,
		ExpiresAt: expires.UTC().Format(time.RFC3339),
	})
}
