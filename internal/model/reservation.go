package model

import "time"

// Reservation is a time-boxed redirect offer from a full place to an
// alternative one. Creating it holds one occupancy unit at the
// destination; the hold converts to a real entry on confirmation or is
// released when the reservation expires.
type Reservation struct {
	Token     string    `gorm:"primaryKey;size:64" json:"token"`
	FromPlace string    `gorm:"size:128;not null;index" json:"from_place"`
	ToPlace   string    `gorm:"size:128;not null;index" json:"to_place"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	Confirmed bool      `gorm:"not null;default:false" json:"confirmed"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// Expired reports whether the reservation's TTL has passed at the given
// instant.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
