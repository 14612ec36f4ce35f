// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"ticketflow/internal/controller/handlers"
	"ticketflow/internal/controller/middleware"
	"ticketflow/internal/store"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

type options struct {
	logger     *slog.Logger
	metrics    http.Handler
	adminToken string
	origins    []string
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithAdminToken guards POST /tenants with a bearer token.
func WithAdminToken(token string) Option {
	return func(o *options) { o.adminToken = token }
}

// WithCORS lets browsers on origins call the API. An empty list disables CORS.
func WithCORS(origins []string) Option {
	return func(o *options) { o.origins = origins }
}

// New creates a new controller server.
func New(addr string, s store.Store, opts ...Option) *Server {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	h := handlers.New(s, o.logger)
	limiter := middleware.NewRateLimiter()

	r := mux.NewRouter()
	r.Use(middleware.RequestID)

	r.Handle("/tenants", middleware.RequireAdminToken(o.adminToken)(http.HandlerFunc(h.CreateTenant))).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)
	if o.metrics != nil {
		r.Handle("/metrics", o.metrics).Methods(http.MethodGet)
	}

	// Tenant APIs
	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(s), limiter.Middleware())

	authed.HandleFunc("/tickets", h.TriggerTicket).Methods(http.MethodPost)
	authed.HandleFunc("/tickets", h.ListTickets).Methods(http.MethodGet)
	authed.HandleFunc("/tickets/{id}", h.GetTicket).Methods(http.MethodGet)
	authed.HandleFunc("/tickets/{id}/events", h.GetTicketEvents).Methods(http.MethodGet)
	authed.HandleFunc("/tickets/{id}/executions", h.ListTicketExecutions).Methods(http.MethodGet)
	authed.HandleFunc("/tickets/{id}/resume", h.ResumeTicket).Methods(http.MethodPost)
	authed.HandleFunc("/tickets/{id}/cancel", h.CancelTicket).Methods(http.MethodPost)
	authed.HandleFunc("/executions/{id}", h.GetExecution).Methods(http.MethodGet)
	authed.HandleFunc("/events", h.QueryEvents).Methods(http.MethodGet)
	authed.HandleFunc("/events/stats", h.EventStats).Methods(http.MethodGet)
	authed.HandleFunc("/checkpoints", h.ListCheckpoints).Methods(http.MethodGet)

	var handler http.Handler = r
	if len(o.origins) > 0 {
		// Wrapping the router rather than r.Use lets preflight requests
		// through before method matching rejects them.
		handler = cors.New(cors.Options{
			AllowedOrigins: o.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
		}).Handler(r)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
