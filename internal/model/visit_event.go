package model

import "time"

// EventKind is the direction of a gate event.
type EventKind string

const (
	KindEnter EventKind = "enter"
	KindExit  EventKind = "exit"
)

// VisitEvent is one append-only record of a processed gate event.
// ExternalID is the client-supplied identifier used for duplicate
// suppression; it is unique when present and NULL otherwise.
type VisitEvent struct {
	ID             int64     `gorm:"autoIncrement;primaryKey" json:"-"`
	PlaceID        string    `gorm:"size:128;not null;index" json:"place_id"`
	Kind           EventKind `gorm:"size:16;not null" json:"event"`
	ExternalID     *string   `gorm:"size:128;uniqueIndex" json:"event_id,omitempty"`
	ObservedAt     time.Time `gorm:"not null;index" json:"time"`
	ResultingCount int       `gorm:"not null" json:"resulting_count"`
}
