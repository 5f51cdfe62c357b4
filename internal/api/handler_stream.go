package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const keepaliveInterval = 25 * time.Second

// StreamPlace handles the GET /api/stream/{place_id} request: a
// long-lived SSE channel carrying occupancy updates for one place. The
// first event is a snapshot of the current state so dashboards render
// immediately; afterwards the connection only carries changes and
// keepalives.
func (h *Handler) StreamPlace(c *gin.Context) {
	placeID := c.Param("place_id")

	status, err := h.registry.Status(c.Request.Context(), placeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve place status"})
		return
	}

	sub := h.hub.Subscribe(placeID)
	defer h.hub.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", status)
	c.Writer.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("update", update)
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", gin.H{"ts": time.Now().UTC()})
			return true
		case <-clientGone:
			return false
		}
	})
}
