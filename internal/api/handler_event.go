package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartqueue-backend/internal/dispatch"
	"smartqueue-backend/internal/model"
)

type eventRequest struct {
	PlaceID string     `json:"place_id" binding:"required"`
	Event   string     `json:"event" binding:"required"`
	EventID string     `json:"event_id"`
	Time    *time.Time `json:"time"`
}

// PostEvent handles the POST /api/event request from gate sensors.
func (h *Handler) PostEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := dispatch.Input{
		PlaceID: req.PlaceID,
		Kind:    model.EventKind(req.Event),
		EventID: req.EventID,
	}
	if req.Time != nil {
		in.Timestamp = *req.Time
	}

	out, err := h.dispatcher.HandleEvent(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownKind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	// FULL is a normal outcome with its own response shape, not an
	// HTTP error.
	c.JSON(http.StatusOK, out)
}
