package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/payments"
	"github.com/example/shuttle-bot/internal/storage"
)

// TicketLedger owns reservation records: creation, retargeting,
// boarding/absence transitions and the aggregate queries the
// orchestrator asks at a stop. Fare holds are optional; with a nil
// FareProcessor tickets are free.
type TicketLedger struct {
	tickets storage.TicketStore
	rides   storage.RideStore
	fares   payments.FareProcessor
	fare    int64
	curr    string
	log     *slog.Logger
}

func NewTicketLedger(tickets storage.TicketStore, rides storage.RideStore, fares payments.FareProcessor, logger *slog.Logger) *TicketLedger {
	return &TicketLedger{
		tickets: tickets,
		rides:   rides,
		fares:   fares,
		fare:    200, // minor units; flat fare per seat
		curr:    "usd",
		log:     logger,
	}
}

// HasWaitingPassengers reports whether any PENDING ticket is reserved
// at the stop on an active ride.
func (l *TicketLedger) HasWaitingPassengers(ctx context.Context, stopID uuid.UUID) (bool, error) {
	n, err := l.tickets.CountPendingAtStop(ctx, stopID)
	if err != nil {
		return false, fmt.Errorf("count pending tickets at stop %s: %w", stopID, err)
	}
	return n > 0, nil
}

// ActiveTicket returns the user's live PENDING reservation, if any.
func (l *TicketLedger) ActiveTicket(ctx context.Context, userID int64) (*models.Ticket, error) {
	return l.tickets.GetActiveByUser(ctx, userID)
}

// CreateOrUpdate reserves a stop for the user against the currently
// active ride. A passenger holds at most one live ticket: re-selecting
// a stop retargets the existing PENDING ticket instead of creating a
// duplicate.
func (l *TicketLedger) CreateOrUpdate(ctx context.Context, userID int64, stopID uuid.UUID) (*models.Ticket, error) {
	t, err := l.tickets.GetActiveByUser(ctx, userID)
	switch {
	case err == nil:
		if err := l.tickets.UpdateStop(ctx, t.ID, stopID); err != nil {
			return nil, fmt.Errorf("retarget ticket %s: %w", t.ID, err)
		}
		t.StopID = stopID
		l.log.Info("ticket retargeted", "ticket_id", t.ID, "user_id", userID, "stop_id", stopID)
		return t, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup active ticket for user %d: %w", userID, err)
	}

	r, err := l.rides.GetFirstByStatus(ctx, models.RideInProgress)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveRide
		}
		return nil, fmt.Errorf("lookup active ride: %w", err)
	}

	t = &models.Ticket{
		ID:        uuid.New(),
		Status:    models.TicketPending,
		RideID:    r.ID,
		StopID:    stopID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if l.fares != nil {
		piID, err := l.fares.Hold(ctx, l.fare, l.curr, "")
		if err != nil {
			// a failed hold never blocks the reservation
			l.log.Error("fare hold failed", "user_id", userID, "error", err)
		} else {
			t.PaymentIntentID = piID
		}
	}
	if err := l.tickets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket for user %d: %w", userID, err)
	}
	l.log.Info("ticket created", "ticket_id", t.ID, "user_id", userID, "ride_id", r.ID, "stop_id", stopID)
	return t, nil
}

// MarkAsBoarded records that the passenger boarded and captures the
// fare hold, if one exists.
func (l *TicketLedger) MarkAsBoarded(ctx context.Context, ticketID uuid.UUID) error {
	t, err := l.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("lookup ticket %s: %w", ticketID, err)
	}
	if err := l.tickets.ChangeStatus(ctx, ticketID, models.TicketBoarded); err != nil {
		return fmt.Errorf("mark ticket %s boarded: %w", ticketID, err)
	}
	if l.fares != nil && t.PaymentIntentID != "" {
		if err := l.fares.Capture(ctx, t.PaymentIntentID); err != nil {
			l.log.Error("fare capture failed", "ticket_id", ticketID, "error", err)
		}
	}
	return nil
}

// MarkAsAbsent records a self-cancel and releases the fare hold.
func (l *TicketLedger) MarkAsAbsent(ctx context.Context, ticketID uuid.UUID) error {
	t, err := l.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("lookup ticket %s: %w", ticketID, err)
	}
	if err := l.tickets.ChangeStatus(ctx, ticketID, models.TicketAbsent); err != nil {
		return fmt.Errorf("mark ticket %s absent: %w", ticketID, err)
	}
	l.releaseHold(ctx, t)
	return nil
}

// MarkAbsentNotBoarded bulk-transitions every ticket for the ride at
// the stop that never made it to BOARDED into ABSENT, releasing any
// outstanding fare holds.
func (l *TicketLedger) MarkAbsentNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) error {
	if l.fares != nil {
		left, err := l.tickets.GetNotBoarded(ctx, rideID, stopID)
		if err != nil {
			l.log.Error("fare release lookup failed", "ride_id", rideID, "stop_id", stopID, "error", err)
		} else {
			for _, t := range left {
				l.releaseHold(ctx, &t)
			}
		}
	}
	if err := l.tickets.MarkAbsentNotBoarded(ctx, rideID, stopID); err != nil {
		return fmt.Errorf("mark not-boarded tickets absent for ride %s stop %s: %w", rideID, stopID, err)
	}
	return nil
}

func (l *TicketLedger) releaseHold(ctx context.Context, t *models.Ticket) {
	if l.fares == nil || t.PaymentIntentID == "" {
		return
	}
	if err := l.fares.Cancel(ctx, t.PaymentIntentID); err != nil {
		l.log.Error("fare release failed", "ticket_id", t.ID, "error", err)
	}
}
