// Package httpapi is the HTTP surface over the feed-ingestion core. It
// carries no business logic of its own; every decision it makes is
// parsing a request into the core's types or rendering a core result
// back out.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/auth"
	"github.com/orderingest/core/internal/errorrepo"
	"github.com/orderingest/core/internal/feed"
	"github.com/orderingest/core/internal/observability"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
	"github.com/orderingest/core/internal/ratelimit"
	"github.com/orderingest/core/internal/streambus"
)

// Server is the composed HTTP surface: feed ingestion, order/error
// queries, health, metrics, and a read-only WebSocket echo of the bus.
type Server struct {
	router *mux.Router
	http   *http.Server
	obs    *observability.Provider

	feed   *feed.Coordinator
	orders orderrepo.Repository
	errs   errorrepo.Repository
	bus    streambus.Bus

	authGate *auth.Gate
	limiter  *ratelimit.Limiter

	upgrader    websocket.Upgrader
	wsMu        sync.Mutex
	wsClients   map[*websocket.Conn]bool
	wsBroadcast chan []byte
	unsubscribe []func()
}

// Config bundles every dependency Server needs.
type Config struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins []string

	Observability *observability.Provider
	Feed          *feed.Coordinator
	Orders        orderrepo.Repository
	Errors        errorrepo.Repository
	Bus           streambus.Bus
	AuthGate      *auth.Gate
	Limiter       *ratelimit.Limiter
}

// New builds a Server and registers its routes and bus subscriptions.
func New(cfg Config) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		obs:      cfg.Observability,
		feed:     cfg.Feed,
		orders:   cfg.Orders,
		errs:     cfg.Errors,
		bus:      cfg.Bus,
		authGate: cfg.AuthGate,
		limiter:  cfg.Limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsClients:   make(map[*websocket.Conn]bool),
		wsBroadcast: make(chan []byte, 256),
	}

	s.setupRoutes()
	s.subscribeToBus()
	go s.runWebSocketHub()

	var handler http.Handler = s.router
	if s.obs != nil {
		handler = s.obs.HTTPMiddleware(handler)
	}
	handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(handler)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.obs != nil {
				s.obs.Logger.Error(context.Background(), "httpapi: server error", err)
			}
		}
	}()
}

// Shutdown gracefully stops the server, closes websocket connections, and
// cancels the bus subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.wsMu.Lock()
	for c := range s.wsClients {
		c.Close()
	}
	s.wsMu.Unlock()
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.obs != nil {
		s.router.Handle("/metrics", s.obs.Metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ws/feed", s.handleWebSocket).Methods(http.MethodGet)

	feedRouter := s.router.PathPrefix("/api/feed").Subrouter()
	s.registerFeedRoute(feedRouter, "/partner-a", partner.A, s.handleIngestSingle)
	s.registerFeedRoute(feedRouter, "/partner-a/batch", partner.A, s.handleIngestBatch)
	s.registerFeedRoute(feedRouter, "/partner-b", partner.B, s.handleIngestSingle)
	s.registerFeedRoute(feedRouter, "/partner-b/batch", partner.B, s.handleIngestBatch)

	ordersRouter := s.router.PathPrefix("/api/orders").Subrouter()
	ordersRouter.HandleFunc("/stats", s.handleOrderStats).Methods(http.MethodGet)
	ordersRouter.HandleFunc("/external/{partner}/{extId}", s.handleGetOrderByExternalID).Methods(http.MethodGet)
	ordersRouter.HandleFunc("/by-partner/{partner}", s.handleOrdersByPartner).Methods(http.MethodGet)
	ordersRouter.HandleFunc("/by-customer/{customerId}", s.handleOrdersByCustomer).Methods(http.MethodGet)
	ordersRouter.HandleFunc("/{id}", s.handleGetOrder).Methods(http.MethodGet)
	ordersRouter.HandleFunc("", s.handleListOrders).Methods(http.MethodGet)

	errorsRouter := s.router.PathPrefix("/api/errors").Subrouter()
	errorsRouter.HandleFunc("/stats", s.handleErrorStats).Methods(http.MethodGet)
	errorsRouter.HandleFunc("/{id}", s.handleGetError).Methods(http.MethodGet)
	errorsRouter.HandleFunc("", s.handleListErrors).Methods(http.MethodGet)
}

// registerFeedRoute wires one fixed-partner ingestion endpoint through the
// rate limiter and the auth gate, in that order — a request that would be
// rate-limited is rejected before its API key is even checked.
func (s *Server) registerFeedRoute(r *mux.Router, path string, id partner.ID, h func(partner.ID) http.HandlerFunc) {
	var handler http.Handler = h(id)
	if s.authGate != nil {
		handler = s.authGate.RequirePartner(id, handler)
	}
	if s.limiter != nil {
		handler = s.limiter.RequirePartner(id, handler)
	}
	r.Handle(path, handler).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeFieldErrors(w http.ResponseWriter, status int, field string, code, message string) {
	writeJSON(w, status, map[string]any{
		"status": "rejected",
		"errors": apperr.ValidationResult{Errors: []apperr.FieldError{{Field: field, Code: apperr.Code(code), Message: message}}}.Messages(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func partnerFromPath(vars map[string]string) (partner.ID, bool) {
	return partner.ParseID(vars["partner"])
}
