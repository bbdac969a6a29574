// Package ticket creates support reports for human follow-up.
package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/genai"
	"github.com/BTreeMap/SupportPipe/internal/models"
)

const (
	// DefaultCompany is used when the user does not name one.
	DefaultCompany = "Lealia"
	// NotProvided fills optional fields the user skipped.
	NotProvided = "No proporcionado"
)

// Analyzer classifies a problem description.
type Analyzer interface {
	AnalyzeReport(ctx context.Context, problem string) genai.Analysis
}

// Saver persists tickets.
type Saver interface {
	SaveTicket(ctx context.Context, t models.Ticket) (int64, error)
}

// Service creates tickets.
type Service struct {
	saver    Saver
	analyzer Analyzer
	now      func() time.Time
}

// NewService creates a ticket service. A nil analyzer keeps the
// classification the caller set, or the defaults.
func NewService(saver Saver, analyzer Analyzer) *Service {
	return &Service{saver: saver, analyzer: analyzer, now: time.Now}
}

// CreateTicket fills defaults, classifies the problem when the caller did
// not, and stores the ticket. When the database write fails the user still
// gets a reference: a REP-prefixed id derived from the clock.
func (s *Service) CreateTicket(ctx context.Context, t models.Ticket) (string, error) {
	t.Problem = strings.TrimSpace(t.Problem)
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("invalid ticket: %w", err)
	}
	t.Name = orDefault(t.Name, NotProvided)
	t.Phone = orDefault(t.Phone, NotProvided)
	t.Email = orDefault(t.Email, NotProvided)
	t.Company = orDefault(t.Company, DefaultCompany)

	if t.Classification == "" || t.Priority == "" {
		a := genai.Analysis{Classification: genai.DefaultClassification, Priority: genai.DefaultPriority}
		if s.analyzer != nil {
			a = s.analyzer.AnalyzeReport(ctx, t.Problem)
		}
		t.Classification = orDefault(t.Classification, a.Classification)
		t.Priority = orDefault(t.Priority, a.Priority)
	}
	t.CreatedAt = s.now()

	id, err := s.saver.SaveTicket(ctx, t)
	if err != nil {
		ref := FallbackReference(t.CreatedAt)
		slog.Error("ticket.Service failed to save ticket, using fallback reference", "error", err, "reference", ref, "contact", t.ContactPhone)
		return ref, nil
	}
	slog.Info("ticket.Service created ticket", "id", id, "classification", t.Classification, "priority", t.Priority)
	return strconv.FormatInt(id, 10), nil
}

// FallbackReference is "REP" followed by the last eight digits of the unix
// millisecond clock.
func FallbackReference(at time.Time) string {
	ms := strconv.FormatInt(at.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	return "REP" + ms
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
