package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/shuttle-bot/internal/dispatch"
	"github.com/example/shuttle-bot/internal/geo"
	"github.com/example/shuttle-bot/internal/kv"
	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/observability"
	"github.com/example/shuttle-bot/internal/storage"
	"github.com/example/shuttle-bot/internal/timer"
)

const debouncePrefix = "gps:last:"

// Options carries the lifecycle knobs the orchestrator runs with.
type Options struct {
	WaitTimerSeconds    int
	BoardedGraceSeconds int
	StopRadiusMeters    float64
	GPSDebounceSeconds  int
}

// Orchestrator is the ride state machine. It reacts to debounced
// driver locations, advances stop pointers, opens wait/grace windows
// through the timer engine and finalizes stops when a window closes.
// It is the only writer of ride and ticket records while a window is
// open.
type Orchestrator struct {
	rides  storage.RideStore
	stops  storage.StopStore
	users  storage.UserStore
	ledger *TicketLedger
	engine *timer.Engine
	bot    dispatch.Messenger
	kv     kv.Store
	log    *slog.Logger
	opts   Options
}

func NewOrchestrator(
	rides storage.RideStore,
	stops storage.StopStore,
	users storage.UserStore,
	ledger *TicketLedger,
	engine *timer.Engine,
	bot dispatch.Messenger,
	store kv.Store,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	o := &Orchestrator{
		rides:  rides,
		stops:  stops,
		users:  users,
		ledger: ledger,
		engine: engine,
		bot:    bot,
		kv:     store,
		log:    logger,
		opts:   opts,
	}
	// Restored timers re-dispatch by their persisted kind tag; only
	// data crosses a restart, never a callable.
	engine.Handle(timer.KindWait, o.onWaitExpired)
	engine.Handle(timer.KindGrace, o.onGraceExpired)
	return o
}

// Restore rebuilds outstanding countdowns from the durable registry
// and reconciles the timer_started mirror on every active ride: the
// engine's liveness is authoritative, so a flag with no live timer
// behind it is stale state from a crash and gets cleared. Call once at
// startup, before serving any events.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if err := o.engine.RestoreAll(ctx); err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}

	active, err := o.rides.GetAllByStatus(ctx, models.RideInProgress)
	if err != nil {
		return fmt.Errorf("reconcile active rides: %w", err)
	}
	for i := range active {
		r := &active[i]
		if !r.TimerStarted || o.engine.IsLive(r.ID) {
			continue
		}
		o.log.Warn("clearing stale timer flag", "ride_id", r.ID)
		r.TimerStarted = false
		r.CurrentStopID = nil
		if err := o.rides.Save(ctx, r); err != nil {
			return fmt.Errorf("clear stale timer flag on ride %s: %w", r.ID, err)
		}
	}
	return nil
}

// ProcessDriverLocation ingests one driver position report. Non-live
// pins are ignored; live updates are debounced per driver through a
// short-TTL key so a flood of pings collapses to one accepted update
// per debounce window. An accepted update inside the next stop's
// geofence becomes an arrival.
func (o *Orchestrator) ProcessDriverLocation(ctx context.Context, loc models.Location, driverID int64) error {
	if loc.LivePeriod == 0 {
		return nil
	}

	if o.opts.GPSDebounceSeconds > 0 {
		key := debouncePrefix + strconv.FormatInt(driverID, 10)
		if _, err := o.kv.Get(ctx, key); err == nil {
			observability.DebounceDropped.Inc()
			return nil
		}
		ttl := time.Duration(o.opts.GPSDebounceSeconds) * time.Second
		if err := o.kv.SetTTL(ctx, key, strconv.FormatInt(time.Now().Unix(), 10), ttl); err != nil {
			o.log.Error("debounce marker write failed", "driver_id", driverID, "error", err)
		}
	}

	r, err := o.rides.GetActiveByDriver(ctx, driverID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // location shared outside a ride; nothing to do
		}
		return fmt.Errorf("lookup active ride for driver %d: %w", driverID, err)
	}

	stop, err := o.stops.GetByID(ctx, r.NextStopID)
	if err != nil {
		return fmt.Errorf("lookup next stop %s: %w", r.NextStopID, err)
	}

	if !geo.WithinRadius(loc.Latitude, loc.Longitude, *stop, o.opts.StopRadiusMeters) {
		return nil
	}
	return o.ArriveAtStop(ctx, r, *stop)
}

// ArriveAtStop advances the ride onto the stop and, if passengers are
// reserved there, opens a wait window. Duplicate arrival events for
// the same dwell are no-ops: the engine's live-timer check (with the
// ride's flag as a fallback mirror) guards re-entrancy.
func (o *Orchestrator) ArriveAtStop(ctx context.Context, r *models.Ride, stop models.Stop) error {
	if r.TimerStarted || o.engine.IsLive(r.ID) {
		return nil
	}

	next, err := o.stops.GetByOrder(ctx, stop.Order+1)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.log.Error("route misconfigured: next stop missing", "stop_id", stop.ID, "order", stop.Order+1)
			return fmt.Errorf("after stop %q (order %d): %w", stop.Name, stop.Order, ErrRouteGap)
		}
		return fmt.Errorf("lookup stop with order %d: %w", stop.Order+1, err)
	}

	if err := o.rides.UpdateStops(ctx, r.ID, &stop.ID, next.ID); err != nil {
		return fmt.Errorf("advance ride %s onto stop %s: %w", r.ID, stop.ID, err)
	}
	r.CurrentStopID = &stop.ID
	r.NextStopID = next.ID
	now := time.Now().UTC()
	r.ArrivedAt = &now
	observability.ArrivalsTotal.Inc()
	o.log.Info("ride arrived at stop", "ride_id", r.ID, "stop", stop.Name, "next_stop", next.Name)

	waiting, err := o.ledger.HasWaitingPassengers(ctx, stop.ID)
	if err != nil {
		return err
	}
	if !waiting {
		// pointer advanced, no window to open
		return nil
	}
	return o.openWaitWindow(ctx, r, stop)
}

func (o *Orchestrator) openWaitWindow(ctx context.Context, r *models.Ride, stop models.Stop) error {
	chats, err := o.users.GetByRide(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("lookup rider chats for ride %s: %w", r.ID, err)
	}

	text := timerText(o.opts.WaitTimerSeconds)
	messages := make(map[int64]int64)
	for _, u := range chats {
		msgID, err := o.bot.SendTimerMessage(u.ID, text)
		if err != nil {
			// one unreachable chat must not block the rest
			o.log.Error("countdown message failed", "chat_id", u.ID, "error", err)
			continue
		}
		messages[u.ID] = msgID
	}

	p := timer.Payload{Ride: *r, Stop: stop, Messages: messages}
	if err := o.engine.Start(ctx, r.ID, timer.KindWait, o.opts.WaitTimerSeconds, o.onWaitTick, o.onWaitExpired, p); err != nil {
		// best-effort scheduling: no timer, but the ride keeps moving
		o.log.Error("wait timer not scheduled", "ride_id", r.ID, "error", err)
		return nil
	}

	r.TimerStarted = true
	if err := o.rides.Save(ctx, r); err != nil {
		return fmt.Errorf("persist timer flag on ride %s: %w", r.ID, err)
	}
	o.log.Info("wait window opened", "ride_id", r.ID, "stop", stop.Name, "chats", len(messages), "seconds", o.opts.WaitTimerSeconds)
	return nil
}

// onWaitTick edits every chat's countdown message with the new
// remaining time; a failure for one chat never blocks the others.
func (o *Orchestrator) onWaitTick(ctx context.Context, remaining int, p timer.Payload) {
	text := timerText(remaining)
	for chatID, msgID := range p.Messages {
		if err := o.bot.EditTimer(chatID, msgID, text); err != nil {
			o.log.Warn("countdown edit failed", "chat_id", chatID, "message_id", msgID, "error", err)
		}
	}
}

// onWaitExpired chains straight into a grace window: same ride, same
// stop, no more chat messages.
func (o *Orchestrator) onWaitExpired(ctx context.Context, p timer.Payload) {
	err := o.engine.Start(ctx, p.Ride.ID, timer.KindGrace, o.opts.BoardedGraceSeconds, nil, o.onGraceExpired, timer.Payload{Ride: p.Ride, Stop: p.Stop})
	if err != nil {
		o.log.Error("grace timer not scheduled, finalizing immediately", "ride_id", p.Ride.ID, "error", err)
		o.finalize(ctx, p)
	}
}

func (o *Orchestrator) onGraceExpired(ctx context.Context, p timer.Payload) {
	o.finalize(ctx, p)
}

func (o *Orchestrator) finalize(ctx context.Context, p timer.Payload) {
	// prefer the stored ride over the payload snapshot; the snapshot
	// predates the window
	r, err := o.rides.GetByID(ctx, p.Ride.ID)
	if err != nil {
		o.log.Error("finalize: ride lookup failed, using snapshot", "ride_id", p.Ride.ID, "error", err)
		snap := p.Ride
		r = &snap
	}
	if err := o.FinalizeStop(ctx, r, p.Stop); err != nil {
		o.log.Error("finalize failed", "ride_id", p.Ride.ID, "stop_id", p.Stop.ID, "error", err)
	}
}

// FinalizeStop irreversibly marks every not-boarded ticket at the stop
// absent and returns the ride to the no-window state, eligible for the
// next arrival.
func (o *Orchestrator) FinalizeStop(ctx context.Context, r *models.Ride, stop models.Stop) error {
	if err := o.ledger.MarkAbsentNotBoarded(ctx, r.ID, stop.ID); err != nil {
		return err
	}

	r.CurrentStopID = nil
	r.TimerStarted = false
	now := time.Now().UTC()
	r.DepartedAt = &now
	if err := o.rides.Save(ctx, r); err != nil {
		return fmt.Errorf("close window on ride %s: %w", r.ID, err)
	}
	observability.StopsFinalized.Inc()
	o.log.Info("stop finalized", "ride_id", r.ID, "stop", stop.Name)
	return nil
}

func timerText(remaining int) string {
	return fmt.Sprintf("⏳ %d seconds until departure", remaining)
}
