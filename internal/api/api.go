// Package api provides the HTTP surface of SupportPipe.
//
// It exposes health and Prometheus endpoints, operator views of live
// sessions, tickets, receipts and message origins, and the Twilio webhooks
// when that transport is in use.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/SupportPipe/internal/messaging"
	"github.com/BTreeMap/SupportPipe/internal/metrics"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/router"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds the graceful shutdown of the server.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultTicketLimit is the number of tickets listed when no limit is given.
	DefaultTicketLimit = 50
	// MaxTicketLimit caps the limit query parameter.
	MaxTicketLimit = 500
)

// Sessions is the read view of the session registry.
type Sessions interface {
	Summaries() []session.Summary
	Len() int
}

// Chats lets operators act on conversations.
type Chats interface {
	EndChat(ctx context.Context, chatID string) error
	Origins() router.OriginStats
}

// Records lists persisted tickets and receipts.
type Records interface {
	ListTickets(ctx context.Context, limit int) ([]models.Ticket, error)
	GetReceipts() ([]models.Receipt, error)
}

// Opts holds the server configuration.
type Opts struct {
	Addr      string
	AuthToken string
	Metrics   *metrics.Metrics
	Twilio    *messaging.TwilioService
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAuthToken requires "Authorization: Bearer <token>" on the operator
// endpoints. Health, metrics and webhooks stay open.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithMetrics mounts /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithTwilio mounts the Twilio message and status webhooks.
func WithTwilio(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.Twilio = svc }
}

// Server serves the HTTP API.
type Server struct {
	cfg      Opts
	sessions Sessions
	chats    Chats
	records  Records
	started  time.Time
	handler  http.Handler
}

// NewServer builds the server and its routes.
func NewServer(sessions Sessions, chats Chats, records Records, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{cfg: cfg, sessions: sessions, chats: chats, records: records, started: time.Now()}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	if s.cfg.Twilio != nil {
		r.Post("/webhooks/twilio", s.cfg.Twilio.TwilioWebhookHandler)
		r.Post("/webhooks/twilio/status", s.cfg.Twilio.TwilioStatusHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/sessions", s.sessionsHandler)
		r.Delete("/sessions/{chatID}", s.endSessionHandler)
		r.Get("/tickets", s.ticketsHandler)
		r.Get("/receipts", s.receiptsHandler)
		r.Get("/origins", s.originsHandler)
	})
	return r
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	return nil
}
