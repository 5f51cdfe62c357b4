package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"smartqueue-backend/internal/model"
)

// ErrDuplicateEvent is returned by Record when the external event id has
// already been recorded. Callers treat it as "already handled".
var ErrDuplicateEvent = errors.New("duplicate event id")

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Log is the append-only record of processed gate events. Duplicate
// suppression relies on the unique index on the external event id, not
// on a prior read, so two racing submissions of the same id cannot both
// commit.
type Log struct {
	db *gorm.DB
}

// New creates an event log backed by the given gorm DB.
func New(db *gorm.DB) *Log {
	return &Log{db: db}
}

// IsDuplicate reports whether an event with this external id was already
// recorded. An empty id is never a duplicate; without a client-supplied
// identifier there is no idempotency guarantee.
func (l *Log) IsDuplicate(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var n int64
	err := l.db.WithContext(ctx).Model(&model.VisitEvent{}).
		Where("external_id = ?", externalID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("duplicate lookup: %w", err)
	}
	return n > 0, nil
}

// Lookup returns the previously recorded event for an external id, for
// the duplicate-suppression response path.
func (l *Log) Lookup(ctx context.Context, externalID string) (model.VisitEvent, error) {
	var ev model.VisitEvent
	err := l.db.WithContext(ctx).First(&ev, "external_id = ?", externalID).Error
	if err != nil {
		return model.VisitEvent{}, fmt.Errorf("lookup event %s: %w", externalID, err)
	}
	return ev, nil
}

// Record appends one VisitEvent. It returns ErrDuplicateEvent when the
// external id is already present, including when a concurrent writer won
// the insert race.
func (l *Log) Record(ctx context.Context, placeID string, kind model.EventKind, externalID string, ts time.Time, resultingCount int) error {
	ev := model.VisitEvent{
		PlaceID:        placeID,
		Kind:           kind,
		ObservedAt:     ts,
		ResultingCount: resultingCount,
	}
	if externalID != "" {
		ev.ExternalID = &externalID
	}

	if err := l.db.WithContext(ctx).Create(&ev).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Query returns the place's events newest first, paginated. Page numbers
// start at 1; out-of-range parameters fall back to defaults.
func (l *Log) Query(ctx context.Context, placeID string, page, pageSize int) ([]model.VisitEvent, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var events []model.VisitEvent
	err := l.db.WithContext(ctx).
		Where("place_id = ?", placeID).
		Order("observed_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", placeID, err)
	}
	return events, nil
}

// isUniqueViolation matches unique-constraint failures across the two
// supported drivers (sqlite and postgres) without importing either.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}
