package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/proto"
	"github.com/vovakirdan/wiremesh/internal/store"
)

// RoomHandlers serves the read-only room inspection endpoints.
type RoomHandlers struct {
	hub   *core.Hub
	audit store.AuditStore
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *core.Hub, audit store.AuditStore, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub:   hub,
		audit: audit,
		log:   logger,
	}
}

// RoomResponse summarizes a live room.
type RoomResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// RoomDetailResponse is a room with its roster.
type RoomDetailResponse struct {
	RoomResponse
	Users []proto.User `json:"users"`
}

// AuditEntryResponse is one moderation audit record.
type AuditEntryResponse struct {
	ID        int64  `json:"id"`
	ActorID   string `json:"actorId"`
	TargetID  string `json:"targetId"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	CreatedAt string `json:"createdAt"`
}

func roomResponse(info core.RoomInfo) RoomResponse {
	return RoomResponse{
		ID:       info.ID,
		OwnerID:  info.OwnerID,
		Size:     info.Size,
		Capacity: info.Capacity,
	}
}

// ListRooms lists live rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.hub.Rooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "relay unavailable"})
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response = append(response, roomResponse(room))
	}
	c.JSON(http.StatusOK, response)
}

// GetRoom returns one room with its roster.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	id := c.Param("id")
	room, found, err := h.hub.Room(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", id).Msg("failed to get room")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "relay unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	c.JSON(http.StatusOK, RoomDetailResponse{
		RoomResponse: roomResponse(room),
		Users:        toUsers(room.Members),
	})
}

// ListAudit returns the latest moderation entries of a room.
// GET /api/rooms/:id/audit?limit=N
func (h *RoomHandlers) ListAudit(c *gin.Context) {
	id := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := h.audit.ListActions(c.Request.Context(), id, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", id).Msg("failed to list audit entries")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, AuditEntryResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			TargetID:  e.TargetID,
			Action:    e.Action,
			Outcome:   string(e.Outcome),
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, response)
}
