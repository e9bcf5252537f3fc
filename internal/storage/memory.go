package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
)

// Memory keeps everything in process; used in tests and as a fallback
// when PG_DSN is not configured.
type Memory struct {
	mu      sync.RWMutex
	rides   map[uuid.UUID]models.Ride
	stops   map[uuid.UUID]models.Stop
	tickets map[uuid.UUID]models.Ticket
	users   map[int64]models.User
}

func NewMemory() *Memory {
	return &Memory{
		rides:   make(map[uuid.UUID]models.Ride),
		stops:   make(map[uuid.UUID]models.Stop),
		tickets: make(map[uuid.UUID]models.Ticket),
		users:   make(map[int64]models.User),
	}
}

// Rides

func (m *Memory) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrAlreadyExists
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) GetActiveByDriver(ctx context.Context, driverID int64) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status == models.RideInProgress {
			r := r
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetFirstByStatus(ctx context.Context, status models.RideStatus) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Ride
	for _, r := range m.rides {
		if r.Status != status {
			continue
		}
		r := r
		if best == nil || r.CreatedAt.Before(best.CreatedAt) {
			best = &r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *Memory) GetAllByStatus(ctx context.Context, status models.RideStatus) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Save(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *Memory) UpdateStops(ctx context.Context, rideID uuid.UUID, currentStopID *uuid.UUID, nextStopID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.CurrentStopID = currentStopID
	r.NextStopID = nextStopID
	m.rides[rideID] = r
	return nil
}

// Stops

type MemoryStops struct{ m *Memory }

func (m *Memory) Stops() *MemoryStops { return &MemoryStops{m: m} }

func (s *MemoryStops) Create(ctx context.Context, st *models.Stop) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.stops[st.ID]; ok {
		return ErrAlreadyExists
	}
	s.m.stops[st.ID] = *st
	return nil
}

func (s *MemoryStops) GetByID(ctx context.Context, id uuid.UUID) (*models.Stop, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	st, ok := s.m.stops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryStops) GetByName(ctx context.Context, name string) (*models.Stop, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, st := range s.m.stops {
		if st.Name == name {
			st := st
			return &st, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStops) GetByOrder(ctx context.Context, order int) (*models.Stop, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, st := range s.m.stops {
		if st.Order == order {
			st := st
			return &st, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStops) GetActive(ctx context.Context) ([]models.Stop, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]models.Stop, 0, len(s.m.stops))
	for _, st := range s.m.stops {
		if st.IsActive {
			out = append(out, st)
		}
	}
	sortStops(out)
	return out, nil
}

func (s *MemoryStops) GetAll(ctx context.Context) ([]models.Stop, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]models.Stop, 0, len(s.m.stops))
	for _, st := range s.m.stops {
		out = append(out, st)
	}
	sortStops(out)
	return out, nil
}

func (s *MemoryStops) Save(ctx context.Context, st *models.Stop) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.stops[st.ID] = *st
	return nil
}

func (s *MemoryStops) Delete(ctx context.Context, id uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.stops[id]; !ok {
		return ErrNotFound
	}
	delete(s.m.stops, id)
	return nil
}

func sortStops(stops []models.Stop) {
	for i := 1; i < len(stops); i++ {
		for j := i; j > 0 && stops[j].Order < stops[j-1].Order; j-- {
			stops[j], stops[j-1] = stops[j-1], stops[j]
		}
	}
}

// Tickets

type MemoryTickets struct{ m *Memory }

func (m *Memory) Tickets() *MemoryTickets { return &MemoryTickets{m: m} }

func (t *MemoryTickets) Create(ctx context.Context, tk *models.Ticket) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, ex := range t.m.tickets {
		if ex.UserID == tk.UserID && ex.RideID == tk.RideID {
			return ErrAlreadyExists
		}
	}
	t.m.tickets[tk.ID] = *tk
	return nil
}

func (t *MemoryTickets) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	tk, ok := t.m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tk, nil
}

func (t *MemoryTickets) GetActiveByUser(ctx context.Context, userID int64) (*models.Ticket, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	for _, tk := range t.m.tickets {
		if tk.UserID == userID && tk.Status == models.TicketPending {
			tk := tk
			return &tk, nil
		}
	}
	return nil, ErrNotFound
}

func (t *MemoryTickets) UpdateStop(ctx context.Context, ticketID, stopID uuid.UUID) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	tk, ok := t.m.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	tk.StopID = stopID
	t.m.tickets[ticketID] = tk
	return nil
}

func (t *MemoryTickets) ChangeStatus(ctx context.Context, ticketID uuid.UUID, status models.TicketStatus) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	tk, ok := t.m.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	tk.Status = status
	t.m.tickets[ticketID] = tk
	return nil
}

func (t *MemoryTickets) CountPendingAtStop(ctx context.Context, stopID uuid.UUID) (int, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	n := 0
	for _, tk := range t.m.tickets {
		if tk.StopID != stopID || tk.Status != models.TicketPending {
			continue
		}
		// only tickets on a running ride count as waiting
		if r, ok := t.m.rides[tk.RideID]; !ok || r.Status != models.RideInProgress {
			continue
		}
		n++
	}
	return n, nil
}

func (t *MemoryTickets) GetNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) ([]models.Ticket, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	var out []models.Ticket
	for _, tk := range t.m.tickets {
		if tk.RideID == rideID && tk.StopID == stopID && tk.Status != models.TicketBoarded {
			out = append(out, tk)
		}
	}
	return out, nil
}

func (t *MemoryTickets) MarkAbsentNotBoarded(ctx context.Context, rideID, stopID uuid.UUID) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for id, tk := range t.m.tickets {
		if tk.RideID == rideID && tk.StopID == stopID && tk.Status != models.TicketBoarded {
			tk.Status = models.TicketAbsent
			t.m.tickets[id] = tk
		}
	}
	return nil
}

// Users

type MemoryUsers struct{ m *Memory }

func (m *Memory) Users() *MemoryUsers { return &MemoryUsers{m: m} }

func (u *MemoryUsers) Create(ctx context.Context, usr *models.User) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	if _, ok := u.m.users[usr.ID]; ok {
		return ErrAlreadyExists
	}
	u.m.users[usr.ID] = *usr
	return nil
}

func (u *MemoryUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	usr, ok := u.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &usr, nil
}

func (u *MemoryUsers) GetAll(ctx context.Context) ([]models.User, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	out := make([]models.User, 0, len(u.m.users))
	for _, usr := range u.m.users {
		out = append(out, usr)
	}
	return out, nil
}

func (u *MemoryUsers) GetByRide(ctx context.Context, rideID uuid.UUID) ([]models.User, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	seen := make(map[int64]bool)
	var out []models.User
	for _, tk := range u.m.tickets {
		if tk.RideID != rideID || seen[tk.UserID] {
			continue
		}
		if usr, ok := u.m.users[tk.UserID]; ok {
			out = append(out, usr)
			seen[tk.UserID] = true
		}
	}
	return out, nil
}

func (u *MemoryUsers) Save(ctx context.Context, usr *models.User) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	u.m.users[usr.ID] = *usr
	return nil
}

func (u *MemoryUsers) Delete(ctx context.Context, id int64) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	if _, ok := u.m.users[id]; !ok {
		return ErrNotFound
	}
	delete(u.m.users, id)
	return nil
}
