package timer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/kv"
	"github.com/example/shuttle-bot/internal/observability"
)

// Engine schedules live countdown tasks. Each timer is a goroutine
// ticking once per second; the durable registry record is written
// before the in-process task exists, so a crash in between loses the
// task but never the expiration. Cancellation is cooperative, checked
// every tick.
type Engine struct {
	reg  *registry
	log  *slog.Logger
	tick time.Duration

	mu       sync.Mutex
	active   map[uuid.UUID]chan struct{}
	handlers map[string]ExpireFunc
}

func NewEngine(store kv.Store, logger *slog.Logger) *Engine {
	return &Engine{
		reg:      &registry{kv: store},
		log:      logger,
		tick:     time.Second,
		active:   make(map[uuid.UUID]chan struct{}),
		handlers: make(map[string]ExpireFunc),
	}
}

// SetTickInterval overrides the per-second cadence; tests use this to
// run countdowns in milliseconds.
func (e *Engine) SetTickInterval(d time.Duration) { e.tick = d }

// Handle registers the expiry handler a restored timer of the given
// kind dispatches to. Must be called before RestoreAll.
func (e *Engine) Handle(kind string, fn ExpireFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = fn
}

// IsLive reports whether a countdown is registered under id. This is
// the authoritative re-entrancy check; the ride record's flag is a
// mirror.
func (e *Engine) IsLive(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

// Start registers a countdown of durationSeconds under id. A second
// Start for the same id before expiry is a no-op, which is what keeps
// rapid repeated location pings from double-scheduling a window. The
// durable record is persisted first; if persistence fails the
// registration is abandoned and in-process state stays untouched.
func (e *Engine) Start(ctx context.Context, id uuid.UUID, kind string, durationSeconds int, onTick TickFunc, onExpired ExpireFunc, p Payload) error {
	e.mu.Lock()
	if _, ok := e.active[id]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	rec := Record{
		Type:     kind,
		Duration: durationSeconds,
		EndAt:    time.Now().Add(time.Duration(durationSeconds) * time.Second).Unix(),
		Payload:  p,
	}
	if err := e.reg.save(ctx, id, rec); err != nil {
		e.log.Error("timer persist failed, not scheduling", "timer_id", id, "kind", kind, "error", err)
		return err
	}

	e.mu.Lock()
	if _, ok := e.active[id]; ok {
		// lost the race to a concurrent Start; the record it wrote is
		// equivalent to ours
		e.mu.Unlock()
		return nil
	}
	cancel := make(chan struct{})
	e.active[id] = cancel
	e.mu.Unlock()

	observability.TimersStarted.WithLabelValues(kind).Inc()
	observability.TimersActive.Inc()
	go e.run(id, kind, durationSeconds, cancel, onTick, onExpired, p)
	return nil
}

// Stop cancels the in-process task and deletes the durable record. The
// running loop notices the cancellation within one tick.
func (e *Engine) Stop(ctx context.Context, id uuid.UUID) {
	e.mu.Lock()
	if cancel, ok := e.active[id]; ok {
		close(cancel)
		delete(e.active, id)
		observability.TimersCancelled.Inc()
	}
	e.mu.Unlock()

	if err := e.reg.delete(ctx, id); err != nil {
		e.log.Error("timer record delete failed", "timer_id", id, "error", err)
	}
}

// RestoreAll rebuilds outstanding timers from the durable registry.
// Call once at startup, after Handle registrations and before serving
// events. Records already past their deadline fire their expiry
// handler synchronously exactly once and are removed; the rest are
// recreated with the remaining duration and no tick callback, so a
// restart does not replay a burst of stale countdown edits.
func (e *Engine) RestoreAll(ctx context.Context) error {
	keys, err := e.reg.keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		id, rec, err := e.reg.load(ctx, k)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue // expired out of the registry between scan and load
			}
			e.log.Error("timer restore: unreadable record", "key", k, "error", err)
			continue
		}

		handler := e.handlerFor(rec.Type)
		if handler == nil {
			e.log.Error("timer restore: no handler for kind", "timer_id", id, "kind", rec.Type)
			continue
		}

		remaining := rec.EndAt - time.Now().Unix()
		if remaining <= 0 {
			if err := e.reg.delete(ctx, id); err != nil {
				e.log.Error("timer restore: record delete failed", "timer_id", id, "error", err)
			}
			e.log.Info("timer expired while down, firing now", "timer_id", id, "kind", rec.Type)
			e.safeExpire(ctx, id, rec.Type, handler, rec.Payload)
			continue
		}

		e.mu.Lock()
		if _, ok := e.active[id]; ok {
			e.mu.Unlock()
			continue
		}
		cancel := make(chan struct{})
		e.active[id] = cancel
		e.mu.Unlock()

		observability.TimersRestored.Inc()
		observability.TimersActive.Inc()
		e.log.Info("timer restored", "timer_id", id, "kind", rec.Type, "remaining_s", remaining)
		go e.run(id, rec.Type, int(remaining), cancel, nil, handler, rec.Payload)
	}
	return nil
}

func (e *Engine) handlerFor(kind string) ExpireFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers[kind]
}

func (e *Engine) run(id uuid.UUID, kind string, duration int, cancel chan struct{}, onTick TickFunc, onExpired ExpireFunc, p Payload) {
	ctx := context.Background()

	// Guaranteed once-only cleanup of in-memory and durable state. The
	// registration and the record are removed only while still owned by
	// this run: after a Stop (or once a successor timer re-arms the same
	// id from an expiry handler) both belong to someone else.
	var once sync.Once
	finish := func() {
		once.Do(func() {
			e.mu.Lock()
			cur, ok := e.active[id]
			owned := ok && cur == cancel
			if owned {
				delete(e.active, id)
			}
			e.mu.Unlock()
			observability.TimersActive.Dec()
			if owned {
				if err := e.reg.delete(ctx, id); err != nil {
					e.log.Error("timer record cleanup failed", "timer_id", id, "error", err)
				}
			}
		})
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("timer loop panic", "timer_id", id, "error", r)
		}
		finish()
	}()

	for remaining := duration; remaining >= 1; remaining-- {
		select {
		case <-cancel:
			return
		default:
		}
		if onTick != nil {
			e.safeTick(ctx, id, onTick, remaining, p)
		}
		select {
		case <-cancel:
			return
		case <-time.After(e.tick):
		}
	}

	// clean up before the callback so a re-arm from inside the expiry
	// handler (wait opening grace) is not treated as a duplicate and its
	// fresh durable record is not clobbered
	finish()
	observability.TimersExpired.WithLabelValues(kind).Inc()
	e.safeExpire(ctx, id, kind, onExpired, p)
}

func (e *Engine) safeTick(ctx context.Context, id uuid.UUID, fn TickFunc, remaining int, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tick callback panic", "timer_id", id, "error", r)
		}
	}()
	fn(ctx, remaining, p)
}

func (e *Engine) safeExpire(ctx context.Context, id uuid.UUID, kind string, fn ExpireFunc, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("expiry callback panic", "timer_id", id, "kind", kind, "error", r)
		}
	}()
	fn(ctx, p)
}
