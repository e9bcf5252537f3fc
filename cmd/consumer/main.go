package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/shuttle-bot/internal/config"
	"github.com/example/shuttle-bot/internal/dispatch"
	"github.com/example/shuttle-bot/internal/ingest"
	"github.com/example/shuttle-bot/internal/kv"
	"github.com/example/shuttle-bot/internal/logging"
	"github.com/example/shuttle-bot/internal/models"
	"github.com/example/shuttle-bot/internal/payments"
	"github.com/example/shuttle-bot/internal/ride"
	"github.com/example/shuttle-bot/internal/storage"
	"github.com/example/shuttle-bot/internal/timer"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	locProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_locations_processed_total",
		Help: "Total location events handed to the orchestrator",
	})
	locErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_errors_total",
		Help: "Total location events that failed processing",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locProcessed, locErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	var (
		rides   storage.RideStore
		stops   storage.StopStore
		tickets storage.TicketStore
		users   storage.UserStore
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgres(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		rides, stops, tickets, users = pg, pg.Stops(), pg.Tickets(), pg.Users()
	} else {
		logger.Warn("PG_DSN not set, using in-memory stores")
		mem := storage.NewMemory()
		rides, stops, tickets, users = mem, mem.Stops(), mem.Tickets(), mem.Users()
	}

	var kvStore kv.Store
	if cfg.RedisAddr != "" {
		kvStore = kv.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		logger.Warn("REDIS_ADDR not set, timers will not survive a restart")
		kvStore = kv.NewMemory()
	}

	var bot dispatch.Messenger
	if cfg.MessengerEndpoint != "" {
		bot = dispatch.NewHTTPMessenger(cfg.MessengerEndpoint)
	} else {
		logger.Warn("MESSENGER_ENDPOINT not set, countdown messages will only be logged")
		bot = &logMessenger{}
	}

	var fares payments.FareProcessor
	if cfg.StripeAPIKey != "" {
		fares = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	engine := timer.NewEngine(kvStore, logger)
	ledger := ride.NewTicketLedger(tickets, rides, fares, logger)
	orch := ride.NewOrchestrator(rides, stops, users, ledger, engine, bot, kvStore, logger, ride.Options{
		WaitTimerSeconds:    cfg.WaitTimerSeconds,
		BoardedGraceSeconds: cfg.BoardedGraceSeconds,
		StopRadiusMeters:    cfg.StopRadiusMeters,
		GPSDebounceSeconds:  cfg.GPSDebounceSeconds,
	})

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Restore(ctx); err != nil {
		log.Fatalf("restore: %v", err)
	}

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", cfg.KafkaTopic, brokers, cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var ev ingest.LocationEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		// Transient store hiccups get a couple of retries with backoff
		if err := processWithRetry(ctx, orch, ev, 3, 200*time.Millisecond); err != nil {
			locErrors.Inc()
			log.Printf("location processing failed for driver=%d: %v", ev.DriverID, err)
			continue
		}
		locProcessed.Inc()
	}
}

// LocationProcessor defines the small subset of orchestrator behavior we need for tests and production.
type LocationProcessor interface {
	ProcessDriverLocation(ctx context.Context, loc models.Location, driverID int64) error
}

// processWithRetry hands the event to the processor with retry/backoff.
func processWithRetry(ctx context.Context, p LocationProcessor, ev ingest.LocationEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = p.ProcessDriverLocation(ctx, ev.Location, ev.DriverID); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

// logMessenger stands in when no bot gateway is configured.
type logMessenger struct{}

func (l *logMessenger) SendTimerMessage(chatID int64, text string) (int64, error) {
	log.Printf("[messenger] chat=%d send %q", chatID, text)
	return 0, nil
}

func (l *logMessenger) EditTimer(chatID, messageID int64, text string) error {
	log.Printf("[messenger] chat=%d edit msg=%d %q", chatID, messageID, text)
	return nil
}
