package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/shuttle-bot/internal/dispatch"
	"github.com/example/shuttle-bot/internal/ingest"
	"github.com/example/shuttle-bot/internal/ride"
)

// Server exposes the shuttle API: driver location ingestion, ticket
// actions, ride/stop/user administration and the passenger chat
// sockets countdown messages are pushed through.
type Server struct {
	Orchestrator *ride.Orchestrator
	Rides        *ride.Service
	Ledger       *ride.TicketLedger
	Stops        *ride.StopService
	Users        *ride.UserService
	Kafka        *ingest.KafkaProducer // optional; nil processes locations inline
	WSReg        *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
	ready  func() error
}

func NewServer(
	orch *ride.Orchestrator,
	rides *ride.Service,
	ledger *ride.TicketLedger,
	stops *ride.StopService,
	users *ride.UserService,
	kafka *ingest.KafkaProducer,
	wsreg *dispatch.WSRegistry,
	logger *slog.Logger,
	ready func() error,
) *Server {
	s := &Server{
		Orchestrator: orch,
		Rides:        rides,
		Ledger:       ledger,
		Stops:        stops,
		Users:        users,
		Kafka:        kafka,
		WSReg:        wsreg,
		logger:       logger,
		mux:          mux.NewRouter(),
		ready:        ready,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	s.mux.HandleFunc("/api/v1/rides", s.handleStartRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/active", s.handleActiveRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/riders", s.handleRideRiders).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/finish", s.handleFinishRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/cancel", s.handleCancelRide).Methods("POST")

	s.mux.HandleFunc("/api/v1/tickets", s.handleReserve).Methods("POST")
	s.mux.HandleFunc("/api/v1/tickets/{id}/board", s.handleBoard).Methods("POST")
	s.mux.HandleFunc("/api/v1/tickets/{id}/absent", s.handleAbsent).Methods("POST")

	s.mux.HandleFunc("/api/v1/stops", s.handleListStops).Methods("GET")
	s.mux.HandleFunc("/api/v1/stops", s.handleCreateStop).Methods("POST")
	s.mux.HandleFunc("/api/v1/stops/{id}", s.handleUpdateStop).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/stops/{id}", s.handleDeleteStop).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/stops/{id}/activate", s.handleStopActive(true)).Methods("POST")
	s.mux.HandleFunc("/api/v1/stops/{id}/deactivate", s.handleStopActive(false)).Methods("POST")

	s.mux.HandleFunc("/api/v1/users", s.handleCreateUser).Methods("POST")
	s.mux.HandleFunc("/api/v1/users", s.handleListUsers).Methods("GET")
	s.mux.HandleFunc("/api/v1/users/{id}", s.handleGetUser).Methods("GET")
	s.mux.HandleFunc("/api/v1/users/{id}", s.handleUpdateUser).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/users/{id}", s.handleDeleteUser).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/users/{id}/role", s.handleChangeRole).Methods("POST")
	s.mux.HandleFunc("/api/v1/users/{id}/activate", s.handleUserActive(true)).Methods("POST")
	s.mux.HandleFunc("/api/v1/users/{id}/deactivate", s.handleUserActive(false)).Methods("POST")

	s.mux.HandleFunc("/ws/{chat_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathInt64(r, "chat_id")
	if err != nil {
		http.Error(w, "bad chat id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response
		s.logger.Warn("websocket upgrade failed", "chat_id", chatID, "error", err)
		return
	}
	s.WSReg.Add(chatID, conn)
	// drain until the client hangs up, then drop the session
	go func() {
		defer s.WSReg.Remove(chatID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
