package models

import (
	"time"

	"github.com/google/uuid"
)

type RideStatus string

const (
	RideCreated    RideStatus = "CREATED"
	RideInProgress RideStatus = "IN_PROGRESS"
	RideFinished   RideStatus = "FINISHED"
	RideCancelled  RideStatus = "CANCELLED"
)

type TicketStatus string

const (
	TicketPending TicketStatus = "PENDING"
	TicketBoarded TicketStatus = "BOARDED"
	TicketAbsent  TicketStatus = "ABSENT"
)

type UserRole string

const (
	RolePassenger UserRole = "PASSENGER"
	RoleDriver    UserRole = "DRIVER"
	RoleAdmin     UserRole = "ADMIN"
)

// Ride is one driver's traversal of the stop sequence. CurrentStopID is
// nil between stops; it is set only while a wait/grace window is open at
// a stop. TimerStarted mirrors whether a live countdown exists for the
// ride — the timer engine's registry is the authoritative check.
type Ride struct {
	ID            uuid.UUID  `json:"id"`
	Status        RideStatus `json:"status"`
	DriverID      int64      `json:"driver_id"`
	CurrentStopID *uuid.UUID `json:"current_stop_id,omitempty"`
	NextStopID    uuid.UUID  `json:"next_stop_id"`
	TimerStarted  bool       `json:"timer_started"`
	ArrivedAt     *time.Time `json:"arrived_at,omitempty"`
	DepartedAt    *time.Time `json:"departed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Stop is a point on the fixed route. Order defines the sequence: the
// stop after order N is the stop with order N+1.
type Stop struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Order     int       `json:"order"`
	IsActive  bool      `json:"is_active"`
}

// Ticket is a passenger reservation against a ride at a stop. At most
// one live ticket exists per (user, ride) pair.
type Ticket struct {
	ID              uuid.UUID    `json:"id"`
	Status          TicketStatus `json:"status"`
	RideID          uuid.UUID    `json:"ride_id"`
	StopID          uuid.UUID    `json:"stop_id"`
	UserID          int64        `json:"user_id"`
	PaymentIntentID string       `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// A user's ID doubles as the chat id countdown messages are sent to.
type User struct {
	ID       int64    `json:"id"`
	FullName string   `json:"full_name"`
	Nickname string   `json:"nickname"`
	Role     UserRole `json:"role"`
	IsActive bool     `json:"is_active"`
}

// Location is a driver position report. LivePeriod is non-zero only for
// live-share updates; one-off pins are ignored by the orchestrator.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	LivePeriod int     `json:"live_period"`
}
