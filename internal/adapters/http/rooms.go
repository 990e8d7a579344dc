package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
	"github.com/hireloop/signaling/internal/store"
)

type createRoomRequest struct {
	MaxParticipants int `json:"max_participants" binding:"omitempty,min=2,max=16"`
}

type roomsAPI struct {
	store           *store.Rooms
	maxParticipants int
}

func (a *roomsAPI) create(c *gin.Context) {
	// body is optional; an empty request takes the configured default
	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = a.maxParticipants
	}

	creator := domain.UserID(c.GetString("user_id"))
	meta, err := a.store.Create(c.Request.Context(), creator, req.MaxParticipants)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_id": meta.ID, "code": meta.Code})
}

func (a *roomsAPI) get(c *gin.Context) {
	meta, err := a.store.Resolve(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (a *roomsAPI) delete(c *gin.Context) {
	requester := domain.UserID(c.GetString("user_id"))
	err := a.store.Delete(c.Request.Context(), domain.RoomID(c.Param("roomId")), requester)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case errors.Is(err, core.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, core.ErrNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the creator may delete a room"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
	}
}
