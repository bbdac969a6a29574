package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Sessions      int   `json:"sessions"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AuthToken)) != 1 {
			slog.Warn("Server.requireToken: unauthorized request", "path", r.URL.Path)
			fail(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, HealthStatus{
		Sessions:      s.sessions.Len(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	summaries := s.sessions.Summaries()
	slog.Debug("Server.sessionsHandler: sessions listed", "count", len(summaries))
	respond(w, http.StatusOK, summaries)
}

func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	err := s.chats.EndChat(r.Context(), chatID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		fail(w, http.StatusNotFound, "Session not found")
	case err != nil:
		slog.Error("Server.endSessionHandler: failed to end session", "error", err, "chat_id", chatID)
		fail(w, http.StatusInternalServerError, "Failed to end session")
	default:
		slog.Info("Server.endSessionHandler: session ended", "chat_id", chatID)
		respond(w, http.StatusOK, nil)
	}
}

func (s *Server) ticketsHandler(w http.ResponseWriter, r *http.Request) {
	limit := DefaultTicketLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxTicketLimit)
	}
	tickets, err := s.records.ListTickets(r.Context(), limit)
	if err != nil {
		slog.Error("Server.ticketsHandler: failed to list tickets", "error", err)
		fail(w, http.StatusInternalServerError, "Failed to fetch tickets")
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	respond(w, http.StatusOK, tickets)
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.records.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		fail(w, http.StatusInternalServerError, "Failed to fetch receipts")
		return
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	respond(w, http.StatusOK, receipts)
}

func (s *Server) originsHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.chats.Origins())
}
