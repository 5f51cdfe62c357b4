package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReservationResponse is the dashboard-facing view of one reservation.
type ReservationResponse struct {
	Token     string    `json:"token"`
	FromPlace string    `json:"from_place"`
	ToPlace   string    `json:"to_place"`
	ExpiresAt time.Time `json:"expires_at"`
	Confirmed bool      `json:"confirmed"`
}

// GetReservations handles the GET /api/reservations request. The list
// is ascending by expiry and never contains stale entries; the manager
// sweeps before answering.
func (h *Handler) GetReservations(c *gin.Context) {
	active, err := h.reservations.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list reservations"})
		return
	}

	responses := make([]ReservationResponse, 0, len(active))
	for _, r := range active {
		responses = append(responses, ReservationResponse{
			Token:     r.Token,
			FromPlace: r.FromPlace,
			ToPlace:   r.ToPlace,
			ExpiresAt: r.ExpiresAt,
			Confirmed: r.Confirmed,
		})
	}
	c.JSON(http.StatusOK, responses)
}
