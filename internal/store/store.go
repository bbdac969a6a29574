// Package store provides storage backends for SupportPipe.
//
// It persists end-of-life session snapshots, per-conversation logs and
// statistics, support tickets, survey answers, out-of-hours messages,
// delivery receipts and the inbound message dedup table. SQLite and
// PostgreSQL backends share one interface; InMemoryStore serves tests and
// runs without a database.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

const (
	// MaxLogContentLength bounds the stored content of a conversation log line.
	MaxLogContentLength = 4000
	// MaxOutOfHoursLength bounds the stored content of an out-of-hours message.
	MaxOutOfHoursLength = 1000
)

// Store is the persistence surface used by the rest of SupportPipe.
type Store interface {
	DedupRepo

	SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error
	StartConversation(ctx context.Context, conversationID, chatID string, start time.Time) error
	LogMessage(ctx context.Context, entry models.ConversationLogEntry) error
	EndConversation(ctx context.Context, end models.ConversationEnd) error
	LogOutOfHours(ctx context.Context, chatID, message string, at time.Time) error

	SaveTicket(ctx context.Context, t models.Ticket) (int64, error)
	ListTickets(ctx context.Context, limit int) ([]models.Ticket, error)
	SaveSurveyResponses(ctx context.Context, chatID, conversationID string, responses []int) error

	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)

	Close() error
}

// Opts holds configuration for the database backends.
type Opts struct {
	DSN        string
	MaxRetries uint64
	RetryDelay time.Duration
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRetry sets how many times a query failing with a transient error is
// retried and the delay between attempts.
func WithRetry(maxRetries uint64, delay time.Duration) Option {
	return func(o *Opts) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite3" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func ticketDefaults(t models.Ticket) models.Ticket {
	if t.Status == "" {
		t.Status = "pendiente"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return t
}

// ConversationStats is the per-conversation counter row.
type ConversationStats struct {
	ConversationID  string           `json:"conversation_id"`
	ChatID          string           `json:"chat_id"`
	TotalMessages   int              `json:"total_messages"`
	BotMessages     int              `json:"bot_messages"`
	UserMessages    int              `json:"user_messages"`
	EndedBy         models.EndReason `json:"ended_by,omitempty"`
	SurveyCompleted bool             `json:"survey_completed"`
	HumanTransfer   bool             `json:"human_transfer"`
}
