package timer

import (
	"context"

	"github.com/example/shuttle-bot/internal/models"
)

// Timer kinds. The kind is the symbolic key restored timers dispatch
// on: callables are never serialized, only this tag plus the payload.
const (
	KindWait  = "wait"
	KindGrace = "grace"
)

// Payload carries everything a tick or expiry callback needs: a
// snapshot of the ride and stop the window belongs to and, for wait
// timers, the chat→message ids of the in-flight countdown messages.
type Payload struct {
	Ride     models.Ride     `json:"ride"`
	Stop     models.Stop     `json:"stop"`
	Messages map[int64]int64 `json:"messages,omitempty"`
}

// Record is the durable shape persisted to the key-value store under
// "timer:<ride-id>", with TTL = duration + a safety margin.
type Record struct {
	Type     string  `json:"type"`
	Duration int     `json:"duration"`
	EndAt    int64   `json:"end_at"`
	Payload  Payload `json:"payload"`
}

// TickFunc is invoked once per second with the remaining seconds.
type TickFunc func(ctx context.Context, remaining int, p Payload)

// ExpireFunc is invoked once when a countdown reaches zero.
type ExpireFunc func(ctx context.Context, p Payload)
