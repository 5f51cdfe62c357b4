package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartqueue-backend/internal/model"
)

// GetPlaceStatus handles the GET /api/places/{place_id} request.
func (h *Handler) GetPlaceStatus(c *gin.Context) {
	placeID := c.Param("place_id")

	status, err := h.registry.Status(c.Request.Context(), placeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve place status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// visitEventResponse is the flattened history entry for the API.
type visitEventResponse struct {
	Event          model.EventKind `json:"event"`
	Time           time.Time       `json:"time"`
	ResultingCount int             `json:"resulting_count"`
}

// GetPlaceEvents handles the GET /api/places/{place_id}/events request,
// paginated, most recent first.
func (h *Handler) GetPlaceEvents(c *gin.Context) {
	placeID := c.Param("place_id")

	page, err := parsePositiveInt(c.DefaultQuery("page", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}
	pageSize, err := parsePositiveInt(c.DefaultQuery("page_size", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page_size"})
		return
	}

	events, err := h.events.Query(c.Request.Context(), placeID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve events"})
		return
	}

	responses := make([]visitEventResponse, 0, len(events))
	for _, ev := range events {
		responses = append(responses, visitEventResponse{
			Event:          ev.Kind,
			Time:           ev.ObservedAt,
			ResultingCount: ev.ResultingCount,
		})
	}
	c.JSON(http.StatusOK, responses)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
