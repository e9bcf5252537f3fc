package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
)

func seedRide(t *testing.T, m *Memory, status models.RideStatus) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:         uuid.New(),
		Status:     status,
		DriverID:   7,
		NextStopID: uuid.New(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.Create(context.Background(), r); err != nil {
		t.Fatalf("seed ride: %v", err)
	}
	return r
}

func seedTicket(t *testing.T, m *Memory, rideID, stopID uuid.UUID, userID int64, status models.TicketStatus) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{
		ID:        uuid.New(),
		Status:    status,
		RideID:    rideID,
		StopID:    stopID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Tickets().Create(context.Background(), tk); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return tk
}

func TestCountPendingAtStopOnlyCountsRunningRides(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	stopID := uuid.New()

	finished := seedRide(t, m, models.RideFinished)
	seedTicket(t, m, finished.ID, stopID, 101, models.TicketPending)

	n, err := m.Tickets().CountPendingAtStop(ctx, stopID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count = %d for a ticket on a FINISHED ride, want 0", n)
	}

	running := seedRide(t, m, models.RideInProgress)
	seedTicket(t, m, running.ID, stopID, 102, models.TicketPending)
	seedTicket(t, m, running.ID, stopID, 103, models.TicketBoarded)

	n, err = m.Tickets().CountPendingAtStop(ctx, stopID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1 (the running ride's pending ticket)", n)
	}
}

func TestGetAllByStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := seedRide(t, m, models.RideInProgress)
	b := seedRide(t, m, models.RideInProgress)
	seedRide(t, m, models.RideFinished)

	rides, err := m.GetAllByStatus(ctx, models.RideInProgress)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rides) != 2 {
		t.Fatalf("rides = %d, want 2", len(rides))
	}
	seen := map[uuid.UUID]bool{}
	for _, r := range rides {
		seen[r.ID] = true
	}
	if !seen[a.ID] || !seen[b.ID] {
		t.Fatalf("missing a running ride: %v", seen)
	}

	rides, err = m.GetAllByStatus(ctx, models.RideCancelled)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rides) != 0 {
		t.Fatalf("rides = %d, want none", len(rides))
	}
}
