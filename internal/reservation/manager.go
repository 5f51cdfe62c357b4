package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"smartqueue-backend/internal/clock"
	"smartqueue-backend/internal/model"
	"smartqueue-backend/internal/registry"
)

// ErrDestinationFull is returned by Create when the destination place
// has no spare capacity for the hold. Nothing is persisted in that case.
var ErrDestinationFull = errors.New("destination place is full")

// Outcome is the result of a confirmation attempt.
type Outcome string

const (
	Confirmed        Outcome = "CONFIRMED"
	Invalid          Outcome = "INVALID"
	AlreadyConfirmed Outcome = "ALREADY_CONFIRMED"
	WrongPlace       Outcome = "WRONG_PLACE"
	Expired          Outcome = "EXPIRED"
)

// Manager owns the reservation lifecycle. Creating a reservation claims
// one occupancy unit at the destination through the registry; that unit
// is released exactly once, either by expiry or never (a confirmation
// converts it into a real entry). Races between confirm and sweep on the
// same token are decided by conditional updates on the reservation row,
// so exactly one of the two wins.
type Manager struct {
	db       *gorm.DB
	registry *registry.Registry
	clk      clock.Clock
	ttl      time.Duration
	interval time.Duration
}

// New creates a manager with the given TTL for new reservations and
// sweep interval for the background sweeper.
func New(db *gorm.DB, reg *registry.Registry, clk clock.Clock, ttl, sweepInterval time.Duration) *Manager {
	return &Manager{
		db:       db,
		registry: reg,
		clk:      clk,
		ttl:      ttl,
		interval: sweepInterval,
	}
}

// Create redirects a visitor from a full place by holding one slot at
// the destination and persisting a reservation for it. Returns
// ErrDestinationFull when the destination cannot take the hold.
func (m *Manager) Create(ctx context.Context, fromPlace, toPlace string) (*model.Reservation, error) {
	result, _, err := m.registry.Hold(ctx, toPlace)
	if err != nil {
		return nil, fmt.Errorf("hold slot at %s: %w", toPlace, err)
	}
	if result == registry.Full {
		return nil, ErrDestinationFull
	}

	now := m.clk.Now()
	res := model.Reservation{
		Token:     uuid.NewString(),
		FromPlace: fromPlace,
		ToPlace:   toPlace,
		ExpiresAt: now.Add(m.ttl),
		Confirmed: false,
		CreatedAt: now,
	}
	if err := m.db.WithContext(ctx).Create(&res).Error; err != nil {
		// The hold was already taken; give it back so the failed
		// create leaves no partial state.
		if _, _, relErr := m.registry.Release(ctx, toPlace); relErr != nil {
			log.Printf("Failed to release hold at %s after create error: %v", toPlace, relErr)
		}
		return nil, fmt.Errorf("persist reservation: %w", err)
	}
	return &res, nil
}

// Confirm resolves a token presented at a gate. The held occupancy unit
// is NOT released on success: it converts into the visitor's entry.
func (m *Manager) Confirm(ctx context.Context, token, placeID string) (Outcome, error) {
	var res model.Reservation
	err := m.db.WithContext(ctx).First(&res, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Invalid, nil
	}
	if err != nil {
		return "", fmt.Errorf("load reservation: %w", err)
	}

	if res.Confirmed {
		return AlreadyConfirmed, nil
	}
	if res.ToPlace != placeID {
		return WrongPlace, nil
	}

	if res.Expired(m.clk.Now()) {
		released, err := m.retireExpired(ctx, res)
		if err != nil {
			return "", err
		}
		if !released {
			// The sweeper got there first and already reverted the
			// hold; the outcome for the caller is the same.
			log.Printf("Reservation %s already swept during confirm", token)
		}
		return Expired, nil
	}

	result := m.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("token = ? AND confirmed = ?", token, false).
		Update("confirmed", true)
	if result.Error != nil {
		return "", fmt.Errorf("confirm reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race: either a concurrent confirm flipped the flag
		// or the sweeper removed the row between our read and update.
		var again model.Reservation
		err := m.db.WithContext(ctx).First(&again, "token = ?", token).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Expired, nil
		}
		if err != nil {
			return "", fmt.Errorf("re-read reservation: %w", err)
		}
		if again.Confirmed {
			return AlreadyConfirmed, nil
		}
		return "", fmt.Errorf("confirm reservation %s: update had no effect", token)
	}
	return Confirmed, nil
}

// retireExpired deletes an unconfirmed expired reservation and, when
// this call is the one that removed the row, releases the held slot.
// The conditional delete is what decides the confirm-vs-sweep race:
// only the caller whose delete affected a row may release.
func (m *Manager) retireExpired(ctx context.Context, res model.Reservation) (bool, error) {
	result := m.db.WithContext(ctx).
		Where("token = ? AND confirmed = ?", res.Token, false).
		Delete(&model.Reservation{})
	if result.Error != nil {
		return false, fmt.Errorf("delete expired reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if _, _, err := m.registry.Release(ctx, res.ToPlace); err != nil {
		return true, fmt.Errorf("release expired hold at %s: %w", res.ToPlace, err)
	}
	return true, nil
}

// SweepExpired releases holds for all expired unconfirmed reservations
// and retires expired confirmed ones (their hold already became a real
// entry, so only the record is removed). Returns the number of holds
// released.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := m.clk.Now()
	var expired []model.Reservation
	err := m.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Find(&expired).Error
	if err != nil {
		return 0, fmt.Errorf("scan expired reservations: %w", err)
	}

	released := 0
	for _, res := range expired {
		if res.Confirmed {
			if err := m.db.WithContext(ctx).
				Where("token = ? AND confirmed = ?", res.Token, true).
				Delete(&model.Reservation{}).Error; err != nil {
				return released, fmt.Errorf("retire confirmed reservation: %w", err)
			}
			continue
		}
		ok, err := m.retireExpired(ctx, res)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	return released, nil
}

// ListActive returns all live reservations ascending by expiry. A sweep
// runs first so the list never shows stale entries.
func (m *Manager) ListActive(ctx context.Context) ([]model.Reservation, error) {
	if _, err := m.SweepExpired(ctx); err != nil {
		return nil, err
	}

	var active []model.Reservation
	err := m.db.WithContext(ctx).
		Order("expires_at ASC").
		Find(&active).Error
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return active, nil
}

// Run sweeps expired reservations periodically until the context is
// cancelled. Expiry is also enforced lazily whenever a reservation is
// touched; this loop bounds how long an abandoned hold ties up capacity.
func (m *Manager) Run(ctx context.Context) {
	log.Printf("Reservation sweeper started (interval: %s)", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := m.SweepExpired(ctx)
			if err != nil {
				log.Printf("Reservation sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Reservation sweep released %d expired hold(s)", n)
			}
		case <-ctx.Done():
			log.Println("Reservation sweeper shutting down")
			return
		}
	}
}
