package ride

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/storage"
)

// StopService manages the route's stop records.
type StopService struct {
	stops storage.StopStore
	log   *slog.Logger
}

func NewStopService(stops storage.StopStore, logger *slog.Logger) *StopService {
	return &StopService{stops: stops, log: logger}
}

func (s *StopService) Create(ctx context.Context, name string, lat, lon float64, order int) (*models.Stop, error) {
	st := &models.Stop{
		ID:        uuid.New(),
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		Order:     order,
		IsActive:  true,
	}
	if err := s.stops.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create stop %q: %w", name, err)
	}
	s.log.Info("stop created", "stop_id", st.ID, "name", name, "order", order)
	return st, nil
}

func (s *StopService) ByID(ctx context.Context, id uuid.UUID) (*models.Stop, error) {
	return s.stops.GetByID(ctx, id)
}

func (s *StopService) ByName(ctx context.Context, name string) (*models.Stop, error) {
	return s.stops.GetByName(ctx, name)
}

func (s *StopService) Active(ctx context.Context) ([]models.Stop, error) {
	return s.stops.GetActive(ctx)
}

func (s *StopService) All(ctx context.Context) ([]models.Stop, error) {
	return s.stops.GetAll(ctx)
}

func (s *StopService) Activate(ctx context.Context, id uuid.UUID) error {
	return s.setActive(ctx, id, true)
}

func (s *StopService) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.setActive(ctx, id, false)
}

func (s *StopService) setActive(ctx context.Context, id uuid.UUID, active bool) error {
	st, err := s.stops.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup stop %s: %w", id, err)
	}
	if st.IsActive == active {
		return nil
	}
	st.IsActive = active
	if err := s.stops.Save(ctx, st); err != nil {
		return fmt.Errorf("save stop %s: %w", id, err)
	}
	return nil
}

func (s *StopService) Rename(ctx context.Context, id uuid.UUID, name string) error {
	return s.update(ctx, id, func(st *models.Stop) { st.Name = name })
}

func (s *StopService) SetCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64) error {
	return s.update(ctx, id, func(st *models.Stop) { st.Latitude, st.Longitude = lat, lon })
}

func (s *StopService) SetOrder(ctx context.Context, id uuid.UUID, order int) error {
	return s.update(ctx, id, func(st *models.Stop) { st.Order = order })
}

func (s *StopService) update(ctx context.Context, id uuid.UUID, apply func(*models.Stop)) error {
	st, err := s.stops.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup stop %s: %w", id, err)
	}
	apply(st)
	if err := s.stops.Save(ctx, st); err != nil {
		return fmt.Errorf("save stop %s: %w", id, err)
	}
	return nil
}

func (s *StopService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.stops.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete stop %s: %w", id, err)
	}
	s.log.Info("stop deleted", "stop_id", id)
	return nil
}
