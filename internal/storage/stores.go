package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on duplicate creation.
	ErrAlreadyExists = errors.New("already exists")
)

// RideStore defines persistence operations for rides.
type RideStore interface {
	Create(ctx context.Context, r *models.Ride) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
	GetActiveByDriver(ctx context.Context, driverID int64) (*models.Ride, error)
	GetFirstByStatus(ctx context.Context, status models.RideStatus) (*models.Ride, error)
	GetAllByStatus(ctx context.Context, status models.RideStatus) ([]models.Ride, error)
	Save(ctx context.Context, r *models.Ride) error
	UpdateStops(ctx context.Context, rideID uuid.UUID, currentStopID *uuid.UUID, nextStopID uuid.UUID) error
}

// StopStore defines persistence operations for route stops.
type StopStore interface {
	Create(ctx context.Context, s *models.Stop) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stop, error)
	GetByName(ctx context.Context, name string) (*models.Stop, error)
	GetByOrder(ctx context.Context, order int) (*models.Stop, error)
	GetActive(ctx context.Context) ([]models.Stop, error)
	GetAll(ctx context.Context) ([]models.Stop, error)
	Save(ctx context.Context, s *models.Stop) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TicketStore defines persistence operations for reservations,
// including the aggregate queries the orchestrator depends on.
type TicketStore interface {
	Create(ctx context.Context, t *models.Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	GetActiveByUser(ctx context.Context, userID int64) (*models.Ticket, error)
	UpdateStop(ctx context.Context, ticketID, stopID uuid.UUID) error
	ChangeStatus(ctx context.Context, ticketID uuid.UUID, status models.TicketStatus) error
	CountPendingAtStop(ctx context.Context, stopID uuid.UUID) (int, error)
	GetNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) ([]models.Ticket, error)
	MarkAbsentNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) error
}

// UserStore defines persistence operations for users.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetAll(ctx context.Context) ([]models.User, error)
	GetByRide(ctx context.Context, rideID uuid.UUID) ([]models.User, error)
	Save(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id int64) error
}
