package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smartqueue-backend/internal/model"
)

// Result is the outcome of a capacity-checked admission.
type Result string

const (
	Admitted Result = "ADMITTED"
	Full     Result = "FULL"
)

// Status is a read-only snapshot of a place.
type Status struct {
	PlaceID      string           `json:"place_id"`
	CurrentCount int              `json:"current_count"`
	Capacity     int              `json:"capacity"`
	State        model.PlaceState `json:"state"`
}

// Registry owns per-place occupancy counters. All count mutations for a
// given place are serialized through a per-place mutex; operations on
// different places never contend. Places are created lazily on first
// reference with the configured default capacity and are never deleted,
// so lock entries are never removed either.
type Registry struct {
	db              *gorm.DB
	defaultCapacity int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry persisting places through the given gorm DB.
func New(db *gorm.DB, defaultCapacity int) *Registry {
	return &Registry{
		db:              db,
		defaultCapacity: defaultCapacity,
		locks:           make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one place's counter.
func (r *Registry) lockFor(placeID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[placeID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[placeID] = lock
	}
	return lock
}

// getOrCreateTx loads a place inside tx, creating it with count 0 if it
// does not exist yet. The OnConflict clause makes the create a no-op
// when another instance races us on first reference.
func (r *Registry) getOrCreateTx(tx *gorm.DB, placeID string) (model.Place, error) {
	place := model.Place{PlaceID: placeID, Capacity: r.defaultCapacity}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&place).Error; err != nil {
		return model.Place{}, fmt.Errorf("create place %s: %w", placeID, err)
	}
	if err := tx.First(&place, "place_id = ?", placeID).Error; err != nil {
		return model.Place{}, fmt.Errorf("load place %s: %w", placeID, err)
	}
	return place, nil
}

// GetOrCreate returns the place, creating it on first reference.
func (r *Registry) GetOrCreate(ctx context.Context, placeID string) (model.Place, error) {
	lock := r.lockFor(placeID)
	lock.Lock()
	defer lock.Unlock()

	var place model.Place
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		place, err = r.getOrCreateTx(tx, placeID)
		return err
	})
	return place, err
}

// TryEnter atomically admits one visitor if the place is below capacity.
// It returns the admission result and the resulting count.
func (r *Registry) TryEnter(ctx context.Context, placeID string) (Result, int, error) {
	lock := r.lockFor(placeID)
	lock.Lock()
	defer lock.Unlock()

	var (
		result Result
		count  int
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		place, err := r.getOrCreateTx(tx, placeID)
		if err != nil {
			return err
		}
		if place.CurrentCount >= place.Capacity {
			result, count = Full, place.CurrentCount
			return nil
		}
		place.CurrentCount++
		if err := tx.Model(&model.Place{}).Where("place_id = ?", placeID).
			Update("current_count", place.CurrentCount).Error; err != nil {
			return fmt.Errorf("increment place %s: %w", placeID, err)
		}
		result, count = Admitted, place.CurrentCount
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return result, count, nil
}

// Exit decrements the place's count, floored at zero. An exit from an
// empty place is a no-op, not an error; gate sensors are unreliable.
// The second return reports whether a unit was actually removed.
func (r *Registry) Exit(ctx context.Context, placeID string) (int, bool, error) {
	lock := r.lockFor(placeID)
	lock.Lock()
	defer lock.Unlock()

	var (
		count       int
		decremented bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		place, err := r.getOrCreateTx(tx, placeID)
		if err != nil {
			return err
		}
		if place.CurrentCount == 0 {
			count = 0
			return nil
		}
		place.CurrentCount--
		if err := tx.Model(&model.Place{}).Where("place_id = ?", placeID).
			Update("current_count", place.CurrentCount).Error; err != nil {
			return fmt.Errorf("decrement place %s: %w", placeID, err)
		}
		count, decremented = place.CurrentCount, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, decremented, nil
}

// Restore re-adds one occupancy unit unconditionally. It is the exact
// inverse of a decrement that has to be taken back, so it skips the
// capacity check; the count may transiently sit above capacity when the
// place refilled in between, and State reports FULL for such counts.
func (r *Registry) Restore(ctx context.Context, placeID string) (int, error) {
	lock := r.lockFor(placeID)
	lock.Lock()
	defer lock.Unlock()

	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		place, err := r.getOrCreateTx(tx, placeID)
		if err != nil {
			return err
		}
		place.CurrentCount++
		if err := tx.Model(&model.Place{}).Where("place_id = ?", placeID).
			Update("current_count", place.CurrentCount).Error; err != nil {
			return fmt.Errorf("restore place %s: %w", placeID, err)
		}
		count = place.CurrentCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Hold claims one occupancy unit for a reservation. A hold IS an
// occupancy unit, so the semantics are exactly those of TryEnter.
func (r *Registry) Hold(ctx context.Context, placeID string) (Result, int, error) {
	return r.TryEnter(ctx, placeID)
}

// Release reverts a hold; identical semantics to Exit.
func (r *Registry) Release(ctx context.Context, placeID string) (int, bool, error) {
	return r.Exit(ctx, placeID)
}

// Status returns a snapshot of the place, creating it lazily if this is
// its first reference.
func (r *Registry) Status(ctx context.Context, placeID string) (Status, error) {
	place, err := r.GetOrCreate(ctx, placeID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		PlaceID:      place.PlaceID,
		CurrentCount: place.CurrentCount,
		Capacity:     place.Capacity,
		State:        place.State(),
	}, nil
}

// FirstAvailable picks the redirect target for an overflowing place: the
// place with spare capacity and the lowest identifier, excluding the
// source. The lowest-id tie-break keeps target selection deterministic.
func (r *Registry) FirstAvailable(ctx context.Context, excludePlaceID string) (string, bool, error) {
	var place model.Place
	err := r.db.WithContext(ctx).
		Where("place_id <> ? AND current_count < capacity", excludePlaceID).
		Order("place_id").
		First(&place).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select redirect target: %w", err)
	}
	return place.PlaceID, true, nil
}
