package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/shuttle-bot/internal/config"
	"github.com/example/shuttle-bot/internal/dispatch"
	httpapi "github.com/example/shuttle-bot/internal/http"
	"github.com/example/shuttle-bot/internal/ingest"
	"github.com/example/shuttle-bot/internal/kv"
	"github.com/example/shuttle-bot/internal/logging"
	"github.com/example/shuttle-bot/internal/payments"
	"github.com/example/shuttle-bot/internal/ride"
	"github.com/example/shuttle-bot/internal/storage"
	"github.com/example/shuttle-bot/internal/timer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var (
		rides   storage.RideStore
		stops   storage.StopStore
		tickets storage.TicketStore
		users   storage.UserStore
		ready   func() error
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgres(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN)
		}
		rides, stops, tickets, users = pg, pg.Stops(), pg.Tickets(), pg.Users()
		ready = func() error { return pg.Ping(context.Background()) }
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

	var fares payments.FareProcessor
	if cfg.StripeAPIKey != "" {
		fares = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	wsreg := dispatch.NewWSRegistry()
	engine := timer.NewEngine(kvStore, logger)
	ledger := ride.NewTicketLedger(tickets, rides, fares, logger)
	orch := ride.NewOrchestrator(rides, stops, users, ledger, engine, wsreg, kvStore, logger, ride.Options{
		WaitTimerSeconds:    cfg.WaitTimerSeconds,
		BoardedGraceSeconds: cfg.BoardedGraceSeconds,
		StopRadiusMeters:    cfg.StopRadiusMeters,
		GPSDebounceSeconds:  cfg.GPSDebounceSeconds,
	})
	rideSvc := ride.NewService(rides, engine, logger)
	stopSvc := ride.NewStopService(stops, logger)
	userSvc := ride.NewUserService(users, logger)

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// outstanding windows come back before the first event is served
	if err := orch.Restore(ctx); err != nil {
		log.Fatalf("restore: %v", err)
	}

	srv := httpapi.NewServer(orch, rideSvc, ledger, stopSvc, userSvc, kp, wsreg, logger, ready)
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("shuttle-bot listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_init.sql")
}
