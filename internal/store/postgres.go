// Package store provides storage backends for SupportPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SupportPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db  *sql.DB
	cfg Opts
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, cfg: cfg}, nil
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...interface{}) error {
	return runWithRetry(ctx, s.cfg, op, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, message_id, status, time) VALUES ($1, $2, $3, $4)`,
		r.To, nilIfEmpty(r.MessageID), r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, COALESCE(message_id, ''), status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.MessageID, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// SaveSessionSnapshot upserts the end-of-life view of a session.
func (s *PostgresStore) SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	history, responses, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	err = s.exec(ctx, "SaveSessionSnapshot", `
		INSERT INTO chat_sessions (conversation_id, chat_id, start_time, duration, report_id, conversation_history, survey_responses, message_count, end_reason, human_transfer, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (conversation_id) DO UPDATE SET
			duration = EXCLUDED.duration,
			report_id = EXCLUDED.report_id,
			conversation_history = EXCLUDED.conversation_history,
			survey_responses = EXCLUDED.survey_responses,
			message_count = EXCLUDED.message_count,
			end_reason = EXCLUDED.end_reason,
			human_transfer = EXCLUDED.human_transfer,
			saved_at = EXCLUDED.saved_at`,
		snap.ConversationID, snap.ChatID, snap.StartTime, snap.DurationSeconds, nilIfEmpty(snap.ReportID),
		history, responses, snap.MessageCount, string(snap.EndReason), snap.HumanTransfer, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveSessionSnapshot failed", "error", err, "chat_id", snap.ChatID)
		return fmt.Errorf("failed to save session snapshot for %s: %w", snap.ChatID, err)
	}
	slog.Debug("PostgresStore SaveSessionSnapshot succeeded", "chat_id", snap.ChatID, "conversation_id", snap.ConversationID)
	return nil
}

// StartConversation creates the statistics row of a conversation.
func (s *PostgresStore) StartConversation(ctx context.Context, conversationID, chatID string, start time.Time) error {
	err := s.exec(ctx, "StartConversation", `
		INSERT INTO conversation_stats (conversation_id, chat_id, start_time, total_messages, bot_messages, user_messages)
		VALUES ($1, $2, $3, 0, 0, 0)
		ON CONFLICT (conversation_id) DO NOTHING`, conversationID, chatID, start)
	if err != nil {
		return fmt.Errorf("failed to start conversation %s: %w", conversationID, err)
	}
	return nil
}

// LogMessage appends a message to the conversation log and bumps its counters.
func (s *PostgresStore) LogMessage(ctx context.Context, e models.ConversationLogEntry) error {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	err := s.exec(ctx, "LogMessage", `
		INSERT INTO conversation_logs (conversation_id, chat_id, message_type, message_content, message_order, created_at)
		VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(message_order), 0) + 1 FROM conversation_logs WHERE conversation_id = $1), $5)`,
		e.ConversationID, e.ChatID, string(e.Role), truncate(e.Content, MaxLogContentLength), at)
	if err != nil {
		return fmt.Errorf("failed to log message for %s: %w", e.ConversationID, err)
	}
	err = s.exec(ctx, "LogMessage.stats", `
		UPDATE conversation_stats SET
			total_messages = total_messages + 1,
			bot_messages = bot_messages + $1,
			user_messages = user_messages + $2
		WHERE conversation_id = $3`, boolInt(e.Role == models.TurnRoleBot), boolInt(e.Role == models.TurnRoleUser), e.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation stats for %s: %w", e.ConversationID, err)
	}
	return nil
}

// EndConversation closes the statistics row of a conversation.
func (s *PostgresStore) EndConversation(ctx context.Context, end models.ConversationEnd) error {
	err := s.exec(ctx, "EndConversation", `
		UPDATE conversation_stats SET
			end_time = $1::timestamptz,
			duration_seconds = EXTRACT(EPOCH FROM ($1::timestamptz - start_time))::BIGINT,
			ended_by = $2,
			survey_completed = $3,
			human_transfer = $4
		WHERE conversation_id = $5`,
		end.EndTime, string(end.EndedBy), end.SurveyCompleted, end.HumanTransfer, end.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to end conversation %s: %w", end.ConversationID, err)
	}
	return nil
}

// LogOutOfHours records a message received outside business hours.
func (s *PostgresStore) LogOutOfHours(ctx context.Context, chatID, message string, at time.Time) error {
	err := s.exec(ctx, "LogOutOfHours", `
		INSERT INTO out_of_hours_messages (phone_number, message_content, received_at) VALUES ($1, $2, $3)`,
		chatID, truncate(message, MaxOutOfHoursLength), at)
	if err != nil {
		return fmt.Errorf("failed to log out-of-hours message from %s: %w", chatID, err)
	}
	return nil
}

// SaveTicket inserts a report and returns its id.
func (s *PostgresStore) SaveTicket(ctx context.Context, t models.Ticket) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	t = ticketDefaults(t)
	var id int64
	err := runWithRetry(ctx, s.cfg, "SaveTicket", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO reports (name, company, phone, email, problem, classification, status, priority, contact_phone, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			t.Name, t.Company, t.Phone, t.Email, t.Problem, t.Classification, t.Status, t.Priority, nilIfEmpty(t.ContactPhone), t.CreatedAt).Scan(&id)
	})
	if err != nil {
		slog.Error("PostgresStore SaveTicket failed", "error", err, "contact", t.ContactPhone)
		return 0, fmt.Errorf("failed to save ticket: %w", err)
	}
	slog.Debug("PostgresStore SaveTicket succeeded", "id", id, "classification", t.Classification)
	return id, nil
}

// ListTickets returns the most recent reports first.
func (s *PostgresStore) ListTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, company, phone, email, problem, classification, status, priority, COALESCE(contact_phone, ''), created_at
		FROM reports ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// SaveSurveyResponses stores one row per answered question.
func (s *PostgresStore) SaveSurveyResponses(ctx context.Context, chatID, conversationID string, responses []int) error {
	now := time.Now()
	return runWithRetry(ctx, s.cfg, "SaveSurveyResponses", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for i, r := range responses {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO survey_responses (chat_id, conversation_id, question_index, response, created_at) VALUES ($1, $2, $3, $4, $5)`,
				chatID, nilIfEmpty(conversationID), i, r, now); err != nil {
				return fmt.Errorf("failed to save survey response %d for %s: %w", i, chatID, err)
			}
		}
		return tx.Commit()
	})
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
