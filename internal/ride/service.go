package ride

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/storage"
	"github.com/example/shuttle-bot/internal/timer"
)

// Service covers the ride operations that happen outside a window:
// starting a traversal, finishing or cancelling it. Window-time
// mutation belongs to the Orchestrator.
type Service struct {
	rides  storage.RideStore
	engine *timer.Engine
	log    *slog.Logger
}

func NewService(rides storage.RideStore, engine *timer.Engine, logger *slog.Logger) *Service {
	return &Service{rides: rides, engine: engine, log: logger}
}

// Start creates a new IN_PROGRESS ride for the driver heading to
// nextStopID.
func (s *Service) Start(ctx context.Context, driverID int64, nextStopID uuid.UUID) (*models.Ride, error) {
	r := &models.Ride{
		ID:         uuid.New(),
		Status:     models.RideInProgress,
		DriverID:   driverID,
		NextStopID: nextStopID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.rides.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("start ride for driver %d: %w", driverID, err)
	}
	s.log.Info("ride started", "ride_id", r.ID, "driver_id", driverID)
	return r, nil
}

// ActiveByDriver returns the driver's IN_PROGRESS ride.
func (s *Service) ActiveByDriver(ctx context.Context, driverID int64) (*models.Ride, error) {
	return s.rides.GetActiveByDriver(ctx, driverID)
}

// FirstActive returns the oldest IN_PROGRESS ride.
func (s *Service) FirstActive(ctx context.Context) (*models.Ride, error) {
	return s.rides.GetFirstByStatus(ctx, models.RideInProgress)
}

// Finish closes the ride. Any live countdown for it is stopped and its
// durable record removed.
func (s *Service) Finish(ctx context.Context, rideID uuid.UUID) error {
	return s.close(ctx, rideID, models.RideFinished)
}

// Cancel aborts the ride, likewise tearing down any live countdown.
func (s *Service) Cancel(ctx context.Context, rideID uuid.UUID) error {
	return s.close(ctx, rideID, models.RideCancelled)
}

func (s *Service) close(ctx context.Context, rideID uuid.UUID, status models.RideStatus) error {
	r, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return fmt.Errorf("lookup ride %s: %w", rideID, err)
	}
	s.engine.Stop(ctx, r.ID)
	r.Status = status
	r.TimerStarted = false
	r.CurrentStopID = nil
	if err := s.rides.Save(ctx, r); err != nil {
		return fmt.Errorf("close ride %s: %w", rideID, err)
	}
	s.log.Info("ride closed", "ride_id", rideID, "status", status)
	return nil
}
