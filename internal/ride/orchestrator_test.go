package ride

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/kv"
	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/storage"
	"github.com/example/shuttle-bot/internal/timer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int64
	sends  map[int64][]string
	edits  map[int64]int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sends: make(map[int64][]string), edits: make(map[int64]int)}
}

func (f *fakeMessenger) SendTimerMessage(chatID int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sends[chatID] = append(f.sends[chatID], text)
	return f.nextID, nil
}

func (f *fakeMessenger) EditTimer(chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[chatID]++
	return nil
}

func (f *fakeMessenger) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msgs := range f.sends {
		n += len(msgs)
	}
	return n
}

func (f *fakeMessenger) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.edits {
		n += c
	}
	return n
}

type fixture struct {
	orch   *Orchestrator
	engine *timer.Engine
	mem    *storage.Memory
	kv     *kv.MemoryStore
	bot    *fakeMessenger
	ledger *TicketLedger

	ride    *models.Ride
	stopA   models.Stop
	stopB   models.Stop
	stopC   models.Stop
	ticket1 *models.Ticket
	ticket2 *models.Ticket
}

const testDriverID = int64(7)

// newFixture seeds a three-stop route, an in-progress ride heading to
// the first stop and two pending reservations at it. Countdowns run at
// millisecond cadence.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := storage.NewMemory()
	kvStore := kv.NewMemory()
	bot := newFakeMessenger()
	engine := timer.NewEngine(kvStore, testLogger())
	engine.SetTickInterval(5 * time.Millisecond)
	ledger := NewTicketLedger(mem.Tickets(), mem, nil, testLogger())
	orch := NewOrchestrator(mem, mem.Stops(), mem.Users(), ledger, engine, bot, kvStore, testLogger(), opts)

	f := &fixture{orch: orch, engine: engine, mem: mem, kv: kvStore, bot: bot, ledger: ledger}

	f.stopA = models.Stop{ID: uuid.New(), Name: "Depot", Latitude: 40.0, Longitude: -70.0, Order: 1, IsActive: true}
	f.stopB = models.Stop{ID: uuid.New(), Name: "Market", Latitude: 40.01, Longitude: -70.0, Order: 2, IsActive: true}
	f.stopC = models.Stop{ID: uuid.New(), Name: "Campus", Latitude: 40.02, Longitude: -70.0, Order: 3, IsActive: true}
	for _, st := range []models.Stop{f.stopA, f.stopB, f.stopC} {
		st := st
		if err := mem.Stops().Create(ctx, &st); err != nil {
			t.Fatalf("seed stop: %v", err)
		}
	}

	for _, u := range []models.User{
		{ID: testDriverID, FullName: "Dana Driver", Role: models.RoleDriver, IsActive: true},
		{ID: 101, FullName: "Pat Passenger", Role: models.RolePassenger, IsActive: true},
		{ID: 102, FullName: "Riley Rider", Role: models.RolePassenger, IsActive: true},
	} {
		u := u
		if err := mem.Users().Create(ctx, &u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	f.ride = &models.Ride{
		ID:         uuid.New(),
		Status:     models.RideInProgress,
		DriverID:   testDriverID,
		NextStopID: f.stopA.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := mem.Create(ctx, f.ride); err != nil {
		t.Fatalf("seed ride: %v", err)
	}

	f.ticket1 = &models.Ticket{ID: uuid.New(), Status: models.TicketPending, RideID: f.ride.ID, StopID: f.stopA.ID, UserID: 101, CreatedAt: time.Now().UTC()}
	f.ticket2 = &models.Ticket{ID: uuid.New(), Status: models.TicketPending, RideID: f.ride.ID, StopID: f.stopA.ID, UserID: 102, CreatedAt: time.Now().UTC()}
	for _, tk := range []*models.Ticket{f.ticket1, f.ticket2} {
		if err := mem.Tickets().Create(ctx, tk); err != nil {
			t.Fatalf("seed ticket: %v", err)
		}
	}
	return f
}

func fastOptions() Options {
	return Options{WaitTimerSeconds: 2, BoardedGraceSeconds: 1, StopRadiusMeters: 50}
}

func (f *fixture) currentRide(t *testing.T) *models.Ride {
	t.Helper()
	r, err := f.mem.GetByID(context.Background(), f.ride.ID)
	if err != nil {
		t.Fatalf("ride lookup: %v", err)
	}
	return r
}

func (f *fixture) ticketStatus(t *testing.T, id uuid.UUID) models.TicketStatus {
	t.Helper()
	tk, err := f.mem.Tickets().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("ticket lookup: %v", err)
	}
	return tk.Status
}

func (f *fixture) waitForFinalize(t *testing.T) {
	t.Helper()
	waitFor(t, 3*time.Second, func() bool {
		r, err := f.mem.GetByID(context.Background(), f.ride.ID)
		return err == nil && !r.TimerStarted && r.DepartedAt != nil
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestArrivalOpensWindowAndFinalizes(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	loc := models.Location{Latitude: f.stopA.Latitude, Longitude: f.stopA.Longitude, LivePeriod: 900}
	if err := f.orch.ProcessDriverLocation(ctx, loc, testDriverID); err != nil {
		t.Fatalf("process location: %v", err)
	}

	r := f.currentRide(t)
	if r.CurrentStopID == nil || *r.CurrentStopID != f.stopA.ID {
		t.Fatalf("CurrentStopID = %v, want %s", r.CurrentStopID, f.stopA.ID)
	}
	if r.NextStopID != f.stopB.ID {
		t.Fatalf("NextStopID = %s, want %s", r.NextStopID, f.stopB.ID)
	}
	if !r.TimerStarted {
		t.Fatal("TimerStarted not set while window open")
	}
	if got := f.bot.sendCount(); got != 2 {
		t.Fatalf("countdown messages sent = %d, want 2 (one per rider chat)", got)
	}

	f.waitForFinalize(t)

	r = f.currentRide(t)
	if r.CurrentStopID != nil {
		t.Fatalf("CurrentStopID = %v after finalize, want nil", r.CurrentStopID)
	}
	if r.NextStopID != f.stopB.ID {
		t.Fatalf("NextStopID = %s after finalize, want %s", r.NextStopID, f.stopB.ID)
	}
	if f.engine.IsLive(r.ID) {
		t.Fatal("timer still live after finalize")
	}
	if got := f.ticketStatus(t, f.ticket1.ID); got != models.TicketAbsent {
		t.Fatalf("ticket1 status = %s, want ABSENT", got)
	}
	if got := f.ticketStatus(t, f.ticket2.ID); got != models.TicketAbsent {
		t.Fatalf("ticket2 status = %s, want ABSENT", got)
	}
	if f.bot.editCount() == 0 {
		t.Fatal("no countdown edits during wait window")
	}
}

func TestBoardedTicketSurvivesFinalize(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	if err := f.orch.ArriveAtStop(ctx, f.currentRide(t), f.stopA); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if err := f.ledger.MarkAsBoarded(ctx, f.ticket1.ID); err != nil {
		t.Fatalf("board: %v", err)
	}

	f.waitForFinalize(t)

	if got := f.ticketStatus(t, f.ticket1.ID); got != models.TicketBoarded {
		t.Fatalf("boarded ticket flipped to %s at finalize", got)
	}
	if got := f.ticketStatus(t, f.ticket2.ID); got != models.TicketAbsent {
		t.Fatalf("not-boarded ticket = %s, want ABSENT", got)
	}
}

func TestDuplicateArrivalIsNoOp(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	if err := f.orch.ArriveAtStop(ctx, f.currentRide(t), f.stopA); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	sends := f.bot.sendCount()

	// window is open; the same arrival again must not re-open it
	if err := f.orch.ArriveAtStop(ctx, f.currentRide(t), f.stopA); err != nil {
		t.Fatalf("duplicate arrive: %v", err)
	}
	if got := f.bot.sendCount(); got != sends {
		t.Fatalf("duplicate arrival sent %d more messages", got-sends)
	}
	if r := f.currentRide(t); r.NextStopID != f.stopB.ID {
		t.Fatalf("duplicate arrival moved NextStopID to %s", r.NextStopID)
	}
}

func TestArrivalWithoutPassengersSkipsWindow(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	// retarget both reservations away from the first stop
	for _, id := range []uuid.UUID{f.ticket1.ID, f.ticket2.ID} {
		if err := f.mem.Tickets().UpdateStop(ctx, id, f.stopB.ID); err != nil {
			t.Fatalf("retarget: %v", err)
		}
	}

	if err := f.orch.ArriveAtStop(ctx, f.currentRide(t), f.stopA); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	r := f.currentRide(t)
	if r.TimerStarted || f.engine.IsLive(r.ID) {
		t.Fatal("window opened with nobody waiting")
	}
	if r.NextStopID != f.stopB.ID {
		t.Fatalf("NextStopID = %s, pointer did not advance", r.NextStopID)
	}
	if f.bot.sendCount() != 0 {
		t.Fatal("messages sent with nobody waiting")
	}
}

func TestArrivalAtRouteEndFailsLoudly(t *testing.T) {
	f := newFixture(t, fastOptions())

	err := f.orch.ArriveAtStop(context.Background(), f.currentRide(t), f.stopC)
	if !errors.Is(err, ErrRouteGap) {
		t.Fatalf("err = %v, want ErrRouteGap", err)
	}
}

func TestStationaryPinIgnored(t *testing.T) {
	f := newFixture(t, fastOptions())

	loc := models.Location{Latitude: f.stopA.Latitude, Longitude: f.stopA.Longitude, LivePeriod: 0}
	if err := f.orch.ProcessDriverLocation(context.Background(), loc, testDriverID); err != nil {
		t.Fatalf("process location: %v", err)
	}
	if r := f.currentRide(t); r.CurrentStopID != nil || r.TimerStarted {
		t.Fatal("one-off pin triggered an arrival")
	}
}

func TestLocationOutsideRadiusIgnored(t *testing.T) {
	f := newFixture(t, fastOptions())

	loc := models.Location{Latitude: f.stopA.Latitude + 0.01, Longitude: f.stopA.Longitude, LivePeriod: 900}
	if err := f.orch.ProcessDriverLocation(context.Background(), loc, testDriverID); err != nil {
		t.Fatalf("process location: %v", err)
	}
	if r := f.currentRide(t); r.CurrentStopID != nil || r.TimerStarted {
		t.Fatal("arrival triggered outside the geofence")
	}
}

func TestDebounceDropsRapidUpdates(t *testing.T) {
	opts := fastOptions()
	opts.GPSDebounceSeconds = 5
	f := newFixture(t, opts)
	ctx := context.Background()

	// first update is accepted (far from any stop) and arms the marker
	far := models.Location{Latitude: f.stopA.Latitude + 0.01, Longitude: f.stopA.Longitude, LivePeriod: 900}
	if err := f.orch.ProcessDriverLocation(ctx, far, testDriverID); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// second update lands at the stop but inside the debounce window
	at := models.Location{Latitude: f.stopA.Latitude, Longitude: f.stopA.Longitude, LivePeriod: 900}
	if err := f.orch.ProcessDriverLocation(ctx, at, testDriverID); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if r := f.currentRide(t); r.CurrentStopID != nil || r.TimerStarted {
		t.Fatal("debounced update still triggered an arrival")
	}

	// with the marker gone the same update goes through
	if err := f.kv.Del(ctx, "gps:last:7"); err != nil {
		t.Fatalf("clear marker: %v", err)
	}
	if err := f.orch.ProcessDriverLocation(ctx, at, testDriverID); err != nil {
		t.Fatalf("third update: %v", err)
	}
	if r := f.currentRide(t); r.CurrentStopID == nil {
		t.Fatal("update after the debounce window did not arrive")
	}
}

func TestRestoreClearsStaleTimerFlag(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	r := f.currentRide(t)
	r.TimerStarted = true
	r.CurrentStopID = &f.stopA.ID
	if err := f.mem.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	// no durable timer record backs the flag, so Restore clears it
	if err := f.orch.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	r = f.currentRide(t)
	if r.TimerStarted {
		t.Fatal("stale timer flag survived restore")
	}
	if r.CurrentStopID != nil {
		t.Fatal("stale current stop survived restore")
	}
}

func TestRestoreClearsStaleFlagsOnAllActiveRides(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	first := f.currentRide(t)
	first.TimerStarted = true
	first.CurrentStopID = &f.stopA.ID
	if err := f.mem.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := &models.Ride{
		ID:           uuid.New(),
		Status:       models.RideInProgress,
		DriverID:     8,
		NextStopID:   f.stopB.ID,
		TimerStarted: true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := f.mem.Create(ctx, second); err != nil {
		t.Fatalf("seed second ride: %v", err)
	}

	if err := f.orch.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		r, err := f.mem.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("ride lookup: %v", err)
		}
		if r.TimerStarted {
			t.Fatalf("stale timer flag survived restore on ride %s", id)
		}
	}
}

func TestLeftoverTicketsFromClosedRideOpenNoWindow(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	old := f.currentRide(t)
	old.Status = models.RideFinished
	if err := f.mem.Save(ctx, old); err != nil {
		t.Fatalf("close ride: %v", err)
	}

	// fresh traversal with no reservations of its own; the closed
	// ride's PENDING tickets at the stop must not count as waiting
	fresh := &models.Ride{
		ID:         uuid.New(),
		Status:     models.RideInProgress,
		DriverID:   testDriverID,
		NextStopID: f.stopA.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := f.mem.Create(ctx, fresh); err != nil {
		t.Fatalf("seed ride: %v", err)
	}

	if err := f.orch.ArriveAtStop(ctx, fresh, f.stopA); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if fresh.TimerStarted || f.engine.IsLive(fresh.ID) {
		t.Fatal("window opened off a closed ride's tickets")
	}
	if f.bot.sendCount() != 0 {
		t.Fatal("countdown messages sent off a closed ride's tickets")
	}
	if fresh.NextStopID != f.stopB.ID {
		t.Fatalf("NextStopID = %s, pointer did not advance", fresh.NextStopID)
	}
}

func TestRestoreFiresExpiredWindow(t *testing.T) {
	f := newFixture(t, fastOptions())
	ctx := context.Background()

	r := f.currentRide(t)
	r.TimerStarted = true
	r.CurrentStopID = &f.stopA.ID
	if err := f.mem.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := timer.Record{
		Type:     timer.KindGrace,
		Duration: 30,
		EndAt:    time.Now().Add(-time.Minute).Unix(),
		Payload:  timer.Payload{Ride: *r, Stop: f.stopA},
	}
	b, _ := json.Marshal(rec)
	if err := f.kv.SetTTL(ctx, "timer:"+r.ID.String(), string(b), time.Minute); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	if err := f.orch.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	r = f.currentRide(t)
	if r.TimerStarted {
		t.Fatal("window still open after restoring an expired record")
	}
	if r.CurrentStopID != nil {
		t.Fatal("current stop not cleared by restored finalize")
	}
	if got := f.ticketStatus(t, f.ticket1.ID); got != models.TicketAbsent {
		t.Fatalf("ticket1 = %s after restored finalize, want ABSENT", got)
	}
}
