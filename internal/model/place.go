package model

import "time"

// PlaceState is the derived occupancy state of a place. It is computed
// from capacity and current count, never stored.
type PlaceState string

const (
	StateNormal PlaceState = "NORMAL"
	StateFull   PlaceState = "FULL"
)

// Place represents a tracked physical zone with a capacity limit.
// Places are created lazily on first reference and never deleted.
type Place struct {
	PlaceID      string    `gorm:"primaryKey;size:128" json:"place_id"`
	Capacity     int       `gorm:"not null" json:"capacity"`
	CurrentCount int       `gorm:"not null;default:0" json:"current_count"`
	CreatedAt    time.Time `gorm:"not null" json:"-"`
	UpdatedAt    time.Time `gorm:"not null" json:"-"`
}

// StateFor derives the state for a given count and capacity. Counts at
// or above capacity are FULL; a compensating restore can push a count
// past capacity and it must still read as FULL.
func StateFor(count, capacity int) PlaceState {
	if count >= capacity {
		return StateFull
	}
	return StateNormal
}

// State derives NORMAL/FULL from the counters.
func (p *Place) State() PlaceState {
	return StateFor(p.CurrentCount, p.Capacity)
}
