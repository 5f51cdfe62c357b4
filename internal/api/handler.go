package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"smartqueue-backend/internal/dispatch"
	"smartqueue-backend/internal/eventlog"
	"smartqueue-backend/internal/notify"
	"smartqueue-backend/internal/registry"
	"smartqueue-backend/internal/reservation"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	dispatcher   *dispatch.Dispatcher
	reservations *reservation.Manager
	registry     *registry.Registry
	events       *eventlog.Log
	hub          *notify.Hub
	db           *gorm.DB
	webpush      *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(
	dispatcher *dispatch.Dispatcher,
	reservations *reservation.Manager,
	reg *registry.Registry,
	events *eventlog.Log,
	hub *notify.Hub,
	db *gorm.DB,
	webpushOptions *webpush.Options,
) *Handler {
	return &Handler{
		dispatcher:   dispatcher,
		reservations: reservations,
		registry:     reg,
		events:       events,
		hub:          hub,
		db:           db,
		webpush:      webpushOptions,
	}
}
