package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"smartqueue-backend/internal/clock"
	"smartqueue-backend/internal/eventlog"
	"smartqueue-backend/internal/model"
	"smartqueue-backend/internal/notify"
	"smartqueue-backend/internal/registry"
	"smartqueue-backend/internal/reservation"
)

// ErrUnknownKind reports an unrecognized event kind. It is a client
// error; nothing is mutated.
var ErrUnknownKind = errors.New("unknown event kind")

// Statuses of a processed gate event.
const (
	StatusOK   = "OK"
	StatusFull = "FULL"
)

// Input is one inbound gate event.
type Input struct {
	PlaceID   string
	Kind      model.EventKind
	EventID   string // optional client-supplied id for idempotency
	Timestamp time.Time
}

// Outcome is the end-to-end result of processing a gate event.
type Outcome struct {
	Status       string           `json:"status"`
	PlaceID      string           `json:"place_id"`
	CurrentCount int              `json:"current_count"`
	State        model.PlaceState `json:"state"`
	RedirectTo   string           `json:"redirect_to,omitempty"`
	Token        string           `json:"token,omitempty"`
	Message      string           `json:"message"`
}

// FreedNotifier is told when an exit opens a slot in a previously full
// place, so waiting visitors can be pushed a notification.
type FreedNotifier interface {
	Dispatch(placeID string)
}

// Dispatcher sequences one gate event end-to-end: duplicate check,
// occupancy update, overflow redirect, logging and live notification.
type Dispatcher struct {
	registry     *registry.Registry
	events       *eventlog.Log
	reservations *reservation.Manager
	hub          *notify.Hub
	freed        FreedNotifier // may be nil
	clk          clock.Clock
}

// New wires a dispatcher. The freed notifier is optional; pass nil when
// push notifications are not configured.
func New(reg *registry.Registry, events *eventlog.Log, resv *reservation.Manager, hub *notify.Hub, freed FreedNotifier, clk clock.Clock) *Dispatcher {
	return &Dispatcher{
		registry:     reg,
		events:       events,
		reservations: resv,
		hub:          hub,
		freed:        freed,
		clk:          clk,
	}
}

// HandleEvent processes one gate event. FULL is a normal outcome, not an
// error; only client errors and internal faults return a non-nil error.
func (d *Dispatcher) HandleEvent(ctx context.Context, in Input) (Outcome, error) {
	if in.Kind != model.KindEnter && in.Kind != model.KindExit {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = d.clk.Now()
	}

	if in.EventID != "" {
		dup, err := d.events.IsDuplicate(ctx, in.EventID)
		if err != nil {
			return Outcome{}, err
		}
		if dup {
			return d.priorOutcome(ctx, in.EventID)
		}
	}

	switch in.Kind {
	case model.KindExit:
		return d.handleExit(ctx, in)
	default:
		return d.handleEnter(ctx, in)
	}
}

func (d *Dispatcher) handleExit(ctx context.Context, in Input) (Outcome, error) {
	count, decremented, err := d.registry.Exit(ctx, in.PlaceID)
	if err != nil {
		return Outcome{}, err
	}

	status, err := d.registry.Status(ctx, in.PlaceID)
	if err != nil {
		return Outcome{}, err
	}
	state := model.StateFor(count, status.Capacity)

	var undo func()
	if decremented {
		undo = func() {
			// Restore, not TryEnter: the place may have refilled to
			// capacity in between and the unit must come back anyway.
			if _, err := d.registry.Restore(ctx, in.PlaceID); err != nil {
				log.Printf("Failed to revert exit on %s after losing duplicate race: %v", in.PlaceID, err)
			}
		}
	}
	if out, done, err := d.record(ctx, in, count, undo); done {
		return out, err
	}

	d.hub.Broadcast(notify.Update{
		PlaceID:      in.PlaceID,
		CurrentCount: count,
		State:        state,
	})
	// One slot opened in a place that was full: wake up push
	// subscribers waiting on it.
	if d.freed != nil && decremented && count == status.Capacity-1 {
		d.freed.Dispatch(in.PlaceID)
	}

	return Outcome{
		Status:       StatusOK,
		PlaceID:      in.PlaceID,
		CurrentCount: count,
		State:        state,
		Message:      "Event registered",
	}, nil
}

func (d *Dispatcher) handleEnter(ctx context.Context, in Input) (Outcome, error) {
	result, count, err := d.registry.TryEnter(ctx, in.PlaceID)
	if err != nil {
		return Outcome{}, err
	}

	if result == registry.Full {
		return d.handleOverflow(ctx, in, count)
	}

	status, err := d.registry.Status(ctx, in.PlaceID)
	if err != nil {
		return Outcome{}, err
	}
	state := model.StateFor(count, status.Capacity)

	undo := func() {
		if _, _, err := d.registry.Exit(ctx, in.PlaceID); err != nil {
			log.Printf("Failed to revert enter on %s after losing duplicate race: %v", in.PlaceID, err)
		}
	}
	if out, done, err := d.record(ctx, in, count, undo); done {
		return out, err
	}

	d.hub.Broadcast(notify.Update{
		PlaceID:      in.PlaceID,
		CurrentCount: count,
		State:        state,
	})

	return Outcome{
		Status:       StatusOK,
		PlaceID:      in.PlaceID,
		CurrentCount: count,
		State:        state,
		Message:      "Event registered",
	}, nil
}

// handleOverflow offers the visitor a held slot at an alternative place.
// No VisitEvent is logged on this path: the visitor did not enter.
func (d *Dispatcher) handleOverflow(ctx context.Context, in Input, count int) (Outcome, error) {
	out := Outcome{
		Status:       StatusFull,
		PlaceID:      in.PlaceID,
		CurrentCount: count,
		State:        model.StateFull,
		Message:      "Capacity reached",
	}

	target, found, err := d.registry.FirstAvailable(ctx, in.PlaceID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return out, nil
	}

	res, err := d.reservations.Create(ctx, in.PlaceID, target)
	if errors.Is(err, reservation.ErrDestinationFull) {
		// The candidate filled up between selection and hold.
		return out, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	out.RedirectTo = res.ToPlace
	out.Token = res.Token
	out.Message = fmt.Sprintf("Capacity reached, redirect to %s", res.ToPlace)

	d.hub.Broadcast(notify.Update{
		PlaceID:      in.PlaceID,
		CurrentCount: count,
		State:        model.StateFull,
		RedirectHint: res.ToPlace,
	})
	return out, nil
}

// record appends the VisitEvent. When a concurrent request with the same
// external id won the insert race, this request's occupancy change is
// rolled back via undo and the winner's result is returned instead of an
// error; done reports whether the caller should return the outcome
// immediately.
func (d *Dispatcher) record(ctx context.Context, in Input, count int, undo func()) (Outcome, bool, error) {
	err := d.events.Record(ctx, in.PlaceID, in.Kind, in.EventID, in.Timestamp, count)
	if errors.Is(err, eventlog.ErrDuplicateEvent) {
		if undo != nil {
			undo()
		}
		out, perr := d.priorOutcome(ctx, in.EventID)
		return out, true, perr
	}
	if err != nil {
		return Outcome{}, true, err
	}
	return Outcome{}, false, nil
}

// priorOutcome reconstructs the response for an already-handled event id.
func (d *Dispatcher) priorOutcome(ctx context.Context, eventID string) (Outcome, error) {
	prior, err := d.events.Lookup(ctx, eventID)
	if err != nil {
		return Outcome{}, err
	}
	status, err := d.registry.Status(ctx, prior.PlaceID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Status:       StatusOK,
		PlaceID:      prior.PlaceID,
		CurrentCount: prior.ResultingCount,
		State:        model.StateFor(prior.ResultingCount, status.Capacity),
		Message:      "Duplicate event ignored",
	}, nil
}
