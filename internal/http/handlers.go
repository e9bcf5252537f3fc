package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/ride"
	"github.com/example/shuttle-bot/internal/storage"
)

// writeDomainError maps domain errors to a status and a short message.
// Storage internals never leak to clients.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrAlreadyExists):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, ride.ErrNoActiveRide):
		status, msg = http.StatusConflict, "no ride is currently running"
	case errors.Is(err, ride.ErrRouteGap):
		status, msg = http.StatusInternalServerError, "route is misconfigured"
	default:
		status, msg = http.StatusInternalServerError, "something went wrong, please try again"
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// Locations

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID int64           `json:"driver_id"`
		Location models.Location `json:"location"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// hand off to kafka when configured; the consumer does the rest
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(req.DriverID, req.Location); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.Orchestrator.ProcessDriverLocation(r.Context(), req.Location, req.DriverID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rides

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID   int64     `json:"driver_id"`
		NextStopID uuid.UUID `json:"next_stop_id"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rd, err := s.Rides.Start(r.Context(), req.DriverID, req.NextStopID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	var (
		rd  *models.Ride
		err error
	)
	if v := r.URL.Query().Get("driver_id"); v != "" {
		driverID, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			http.Error(w, "bad driver_id", http.StatusBadRequest)
			return
		}
		rd, err = s.Rides.ActiveByDriver(r.Context(), driverID)
	} else {
		rd, err = s.Rides.FirstActive(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleRideRiders(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	chats, err := s.Users.ChatIDsByRide(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"chat_ids": chats})
}

func (s *Server) handleFinishRide(w http.ResponseWriter, r *http.Request) {
	s.closeRide(w, r, s.Rides.Finish)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	s.closeRide(w, r, s.Rides.Cancel)
}

func (s *Server) closeRide(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	id, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	if err := op(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tickets

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64     `json:"user_id"`
		StopID uuid.UUID `json:"stop_id"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.Ledger.CreateOrUpdate(r.Context(), req.UserID, req.StopID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, s.Ledger.MarkAsBoarded)
}

func (s *Server) handleAbsent(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, s.Ledger.MarkAsAbsent)
}

func (s *Server) ticketTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	id, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "bad ticket id", http.StatusBadRequest)
		return
	}
	if err := op(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stops

func (s *Server) handleListStops(w http.ResponseWriter, r *http.Request) {
	var (
		stops []models.Stop
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		stops, err = s.Stops.Active(r.Context())
	} else {
		stops, err = s.Stops.All(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

func (s *Server) handleCreateStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Order     int     `json:"order"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.Stops.Create(r.Context(), req.Name, req.Latitude, req.Longitude, req.Order)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleUpdateStop(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "bad stop id", http.StatusBadRequest)
		return
	}
	var req struct {
		Name      *string  `json:"name"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Order     *int     `json:"order"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if req.Name != nil {
		err = s.Stops.Rename(ctx, id, *req.Name)
	}
	if err == nil && req.Latitude != nil && req.Longitude != nil {
		err = s.Stops.SetCoordinates(ctx, id, *req.Latitude, *req.Longitude)
	}
	if err == nil && req.Order != nil {
		err = s.Stops.SetOrder(ctx, id, *req.Order)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			http.Error(w, "bad stop id", http.StatusBadRequest)
			return
		}
		op := s.Stops.Deactivate
		if active {
			op = s.Stops.Activate
		}
		if err := op(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteStop(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		http.Error(w, "bad stop id", http.StatusBadRequest)
		return
	}
	if err := s.Stops.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Users

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       int64           `json:"id"`
		FullName string          `json:"full_name"`
		Nickname string          `json:"nickname"`
		Role     models.UserRole `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := s.Users.Create(r.Context(), req.ID, req.FullName, req.Nickname, req.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Users.All(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	u, err := s.Users.ByID(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	var req struct {
		FullName *string `json:"full_name"`
		Nickname *string `json:"nickname"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if req.FullName != nil {
		err = s.Users.ChangeFullName(ctx, id, *req.FullName)
	}
	if err == nil && req.Nickname != nil {
		err = s.Users.ChangeNickname(ctx, id, *req.Nickname)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	var req struct {
		Role models.UserRole `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Users.ChangeRole(r.Context(), id, req.Role); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt64(r, "id")
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}
		op := s.Users.Deactivate
		if active {
			op = s.Users.Activate
		}
		if err := op(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	if err := s.Users.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
