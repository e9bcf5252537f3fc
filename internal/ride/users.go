package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/storage"
)

// UserService manages passenger/driver/admin accounts. A user's id is
// their chat id.
type UserService struct {
	users storage.UserStore
	log   *slog.Logger
}

func NewUserService(users storage.UserStore, logger *slog.Logger) *UserService {
	return &UserService{users: users, log: logger}
}

func (s *UserService) Create(ctx context.Context, id int64, fullName, nickname string, role models.UserRole) (*models.User, error) {
	if role == "" {
		role = models.RolePassenger
	}
	u := &models.User{ID: id, FullName: fullName, Nickname: nickname, Role: role, IsActive: true}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("user %d: %w", id, storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create user %d: %w", id, err)
	}
	s.log.Info("user created", "user_id", id, "role", role)
	return u, nil
}

func (s *UserService) ByID(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) All(ctx context.Context) ([]models.User, error) {
	return s.users.GetAll(ctx)
}

// ChatIDsByRide lists the distinct chats of riders holding tickets on
// the ride — the recipients of countdown messages.
func (s *UserService) ChatIDsByRide(ctx context.Context, rideID uuid.UUID) ([]int64, error) {
	riders, err := s.users.GetByRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("lookup riders for ride %s: %w", rideID, err)
	}
	ids := make([]int64, 0, len(riders))
	for _, u := range riders {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (s *UserService) Activate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *UserService) Deactivate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

func (s *UserService) setActive(ctx context.Context, id int64, active bool) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", id, err)
	}
	if u.IsActive == active {
		return nil
	}
	u.IsActive = active
	if err := s.users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user %d: %w", id, err)
	}
	return nil
}

func (s *UserService) ChangeRole(ctx context.Context, id int64, role models.UserRole) error {
	return s.update(ctx, id, func(u *models.User) { u.Role = role })
}

func (s *UserService) ChangeNickname(ctx context.Context, id int64, nickname string) error {
	return s.update(ctx, id, func(u *models.User) { u.Nickname = nickname })
}

func (s *UserService) ChangeFullName(ctx context.Context, id int64, fullName string) error {
	return s.update(ctx, id, func(u *models.User) { u.FullName = fullName })
}

func (s *UserService) update(ctx context.Context, id int64, apply func(*models.User)) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", id, err)
	}
	apply(u)
	if err := s.users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user %d: %w", id, err)
	}
	return nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	s.log.Info("user deleted", "user_id", id)
	return nil
}
