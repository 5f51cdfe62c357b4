package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartqueue-backend/internal/reservation"
)

type confirmRequest struct {
	Token   string `json:"token" binding:"required"`
	PlaceID string `json:"place_id" binding:"required"`
}

// PostConfirm handles the POST /api/confirm request presented at the
// redirect destination's gate.
func (h *Handler) PostConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.reservations.Confirm(c.Request.Context(), req.Token, req.PlaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to confirm reservation"})
		return
	}

	body := gin.H{"status": outcome, "place_id": req.PlaceID}
	switch outcome {
	case reservation.Confirmed:
		c.JSON(http.StatusOK, body)
	case reservation.Invalid:
		c.JSON(http.StatusNotFound, body)
	case reservation.Expired:
		c.JSON(http.StatusGone, body)
	default: // ALREADY_CONFIRMED, WRONG_PLACE
		c.JSON(http.StatusConflict, body)
	}
}
