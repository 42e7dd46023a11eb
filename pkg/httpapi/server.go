// Package httpapi exposes the gateway's REST surface. Paths and status codes
// are a compatibility contract.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/config"
	"github.com/joripage/execution-gateway/pkg/gateway"
	"github.com/joripage/execution-gateway/pkg/gateway/reconcile"
	"github.com/joripage/execution-gateway/pkg/gateway/webhook"
)

type Server struct {
	cfg      *config.HTTPConfig
	service  *gateway.Service
	ingestor *webhook.Ingestor
	engine   *reconcile.Engine
	router   *mux.Router
}

func NewServer(cfg *config.HTTPConfig, service *gateway.Service, ingestor *webhook.Ingestor, engine *reconcile.Engine) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		ingestor: ingestor,
		engine:   engine,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestLog)

	// Trading endpoints: bearer auth, then the service's gate chains.
	trading := s.router.NewRoute().Subrouter()
	trading.Use(s.requireAuth(s.cfg.APIToken, false))
	trading.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	trading.HandleFunc("/orders/slice", s.handleSubmitSlice).Methods("POST")
	trading.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	trading.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	trading.HandleFunc("/positions", s.handleGetPositions).Methods("GET")

	// Admin endpoints: operator token, distinct permission gate.
	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAuth(s.cfg.AdminToken, true))
	admin.HandleFunc("/kill-switch/engage", s.handleKillSwitch(true)).Methods("POST")
	admin.HandleFunc("/kill-switch/disengage", s.handleKillSwitch(false)).Methods("POST")

	// Webhook ingress: signature auth only, no bearer token, no gates.
	s.router.HandleFunc("/webhooks/orders", s.handleWebhook).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Signature", "X-Timestamp"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	zap.S().Infow("http server starting", "addr", s.cfg.Addr)
	return srv.ListenAndServe()
}
