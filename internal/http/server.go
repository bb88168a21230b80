package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/trail"
)

// Server exposes the engine over HTTP: the websocket endpoint participants
// speak events on, read-only REST views, health, and metrics.
type Server struct {
	Engine *dispatch.Engine
	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires a server around an existing engine.
func NewServer(engine *dispatch.Engine, logger *slog.Logger) *Server {
	s := &Server{Engine: engine, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig builds the full engine stack from configuration,
// falling back to in-memory collaborators when external ones are absent.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) *Server {
	sessions := session.NewRegistry(logger)
	registry := rides.NewRegistry(rides.Config{
		FarePerKm:    cfg.FarePerKm,
		MinimumFare:  cfg.MinimumFare,
		Currency:     cfg.Currency,
		NoiseFloorKm: cfg.NoiseFloorKm,
		Retention:    cfg.CompletedRetention,
	})
	history := trail.NewHistory(cfg.TrailCap)

	var rideStore storage.RideStore
	var noteStore storage.NotificationStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			rideStore = ps
			noteStore = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if rideStore == nil {
		mem := storage.NewMemoryStore()
		rideStore = mem
		noteStore = mem
	}

	bridge := notify.NewBridge(sessions, noteStore, logger)
	engine := dispatch.NewEngine(sessions, registry, history, bridge, logger, cfg.AcceptTimeout)
	engine.Store = rideStore

	if len(cfg.KafkaBrokers) > 0 {
		engine.Publisher = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if cfg.RedisAddr != "" {
		engine.Mirror = trail.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	}
	engine.Payments = payments.NewStripeClient()

	return NewServer(engine, logger)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/trail", s.handleGetTrail).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
