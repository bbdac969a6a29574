// Package store provides storage backends for SupportPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SupportPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db  *sql.DB
	cfg Opts
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// one writer at a time avoids "database is locked" under concurrent chats
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := runWithRetry(ctx, s.cfg, op, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, message_id, status, time) VALUES (?, ?, ?, ?)`,
		r.To, nilIfEmpty(r.MessageID), r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, COALESCE(message_id, ''), status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
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
func (s *SQLiteStore) SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	history, responses, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "SaveSessionSnapshot", `
		INSERT INTO chat_sessions (conversation_id, chat_id, start_time, duration, report_id, conversation_history, survey_responses, message_count, end_reason, human_transfer, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			duration = excluded.duration,
			report_id = excluded.report_id,
			conversation_history = excluded.conversation_history,
			survey_responses = excluded.survey_responses,
			message_count = excluded.message_count,
			end_reason = excluded.end_reason,
			human_transfer = excluded.human_transfer,
			saved_at = excluded.saved_at`,
		snap.ConversationID, snap.ChatID, snap.StartTime, snap.DurationSeconds, nilIfEmpty(snap.ReportID),
		history, responses, snap.MessageCount, string(snap.EndReason), snap.HumanTransfer, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveSessionSnapshot failed", "error", err, "chat_id", snap.ChatID)
		return fmt.Errorf("failed to save session snapshot for %s: %w", snap.ChatID, err)
	}
	slog.Debug("SQLiteStore SaveSessionSnapshot succeeded", "chat_id", snap.ChatID, "conversation_id", snap.ConversationID)
	return nil
}

// GetSessionSnapshot loads a saved snapshot by conversation id.
func (s *SQLiteStore) GetSessionSnapshot(ctx context.Context, conversationID string) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	var reportID, history, responses, reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, chat_id, start_time, duration, report_id, conversation_history, survey_responses, message_count, end_reason, human_transfer
		FROM chat_sessions WHERE conversation_id = ?`, conversationID).Scan(
		&snap.ConversationID, &snap.ChatID, &snap.StartTime, &snap.DurationSeconds, &reportID,
		&history, &responses, &snap.MessageCount, &reason, &snap.HumanTransfer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session snapshot %s: %w", conversationID, err)
	}
	snap.ReportID = reportID.String
	snap.EndReason = models.EndReason(reason.String)
	if err := unmarshalSnapshot(&snap, history.String, responses.String); err != nil {
		return nil, err
	}
	return &snap, nil
}

// StartConversation creates the statistics row of a conversation.
func (s *SQLiteStore) StartConversation(ctx context.Context, conversationID, chatID string, start time.Time) error {
	_, err := s.exec(ctx, "StartConversation", `
		INSERT OR IGNORE INTO conversation_stats (conversation_id, chat_id, start_time, total_messages, bot_messages, user_messages)
		VALUES (?, ?, ?, 0, 0, 0)`, conversationID, chatID, start)
	if err != nil {
		return fmt.Errorf("failed to start conversation %s: %w", conversationID, err)
	}
	return nil
}

// LogMessage appends a message to the conversation log and bumps its counters.
func (s *SQLiteStore) LogMessage(ctx context.Context, e models.ConversationLogEntry) error {
	content := truncate(e.Content, MaxLogContentLength)
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.exec(ctx, "LogMessage", `
		INSERT INTO conversation_logs (conversation_id, chat_id, message_type, message_content, message_order, created_at)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(message_order), 0) + 1 FROM conversation_logs WHERE conversation_id = ?), ?)`,
		e.ConversationID, e.ChatID, string(e.Role), content, e.ConversationID, at)
	if err != nil {
		return fmt.Errorf("failed to log message for %s: %w", e.ConversationID, err)
	}
	_, err = s.exec(ctx, "LogMessage.stats", `
		UPDATE conversation_stats SET
			total_messages = total_messages + 1,
			bot_messages = bot_messages + ?,
			user_messages = user_messages + ?
		WHERE conversation_id = ?`, boolInt(e.Role == models.TurnRoleBot), boolInt(e.Role == models.TurnRoleUser), e.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation stats for %s: %w", e.ConversationID, err)
	}
	return nil
}

// EndConversation closes the statistics row of a conversation.
func (s *SQLiteStore) EndConversation(ctx context.Context, end models.ConversationEnd) error {
	var start time.Time
	err := s.db.QueryRowContext(ctx, `SELECT start_time FROM conversation_stats WHERE conversation_id = ?`, end.ConversationID).Scan(&start)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore EndConversation: no stats row", "conversation_id", end.ConversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read conversation %s: %w", end.ConversationID, err)
	}
	_, err = s.exec(ctx, "EndConversation", `
		UPDATE conversation_stats SET
			end_time = ?,
			duration_seconds = ?,
			ended_by = ?,
			survey_completed = ?,
			human_transfer = ?
		WHERE conversation_id = ?`,
		end.EndTime, int64(end.EndTime.Sub(start).Seconds()), string(end.EndedBy), end.SurveyCompleted, end.HumanTransfer, end.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to end conversation %s: %w", end.ConversationID, err)
	}
	return nil
}

// ConversationStats loads the statistics row of a conversation.
func (s *SQLiteStore) ConversationStats(ctx context.Context, conversationID string) (*ConversationStats, error) {
	var st ConversationStats
	var endedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, chat_id, total_messages, bot_messages, user_messages, ended_by, survey_completed, human_transfer
		FROM conversation_stats WHERE conversation_id = ?`, conversationID).Scan(
		&st.ConversationID, &st.ChatID, &st.TotalMessages, &st.BotMessages, &st.UserMessages, &endedBy, &st.SurveyCompleted, &st.HumanTransfer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation stats %s: %w", conversationID, err)
	}
	st.EndedBy = models.EndReason(endedBy.String)
	return &st, nil
}

// LogOutOfHours records a message received outside business hours.
func (s *SQLiteStore) LogOutOfHours(ctx context.Context, chatID, message string, at time.Time) error {
	_, err := s.exec(ctx, "LogOutOfHours", `
		INSERT INTO out_of_hours_messages (phone_number, message_content, received_at) VALUES (?, ?, ?)`,
		chatID, truncate(message, MaxOutOfHoursLength), at)
	if err != nil {
		return fmt.Errorf("failed to log out-of-hours message from %s: %w", chatID, err)
	}
	return nil
}

// SaveTicket inserts a report and returns its id.
func (s *SQLiteStore) SaveTicket(ctx context.Context, t models.Ticket) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	t = ticketDefaults(t)
	res, err := s.exec(ctx, "SaveTicket", `
		INSERT INTO reports (name, company, phone, email, problem, classification, status, priority, contact_phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Company, t.Phone, t.Email, t.Problem, t.Classification, t.Status, t.Priority, nilIfEmpty(t.ContactPhone), t.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTicket failed", "error", err, "contact", t.ContactPhone)
		return 0, fmt.Errorf("failed to save ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read ticket id: %w", err)
	}
	slog.Debug("SQLiteStore SaveTicket succeeded", "id", id, "classification", t.Classification)
	return id, nil
}

// ListTickets returns the most recent reports first.
func (s *SQLiteStore) ListTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, company, phone, email, problem, classification, status, priority, COALESCE(contact_phone, ''), created_at
		FROM reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// SaveSurveyResponses stores one row per answered question.
func (s *SQLiteStore) SaveSurveyResponses(ctx context.Context, chatID, conversationID string, responses []int) error {
	now := time.Now()
	return runWithRetry(ctx, s.cfg, "SaveSurveyResponses", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for i, r := range responses {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO survey_responses (chat_id, conversation_id, question_index, response, created_at) VALUES (?, ?, ?, ?, ?)`,
				chatID, nilIfEmpty(conversationID), i, r, now); err != nil {
				return fmt.Errorf("failed to save survey response %d for %s: %w", i, chatID, err)
			}
		}
		return tx.Commit()
	})
}

// SurveyResponses returns the stored answers of a conversation in question order.
func (s *SQLiteStore) SurveyResponses(ctx context.Context, conversationID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT response FROM survey_responses WHERE conversation_id = ? ORDER BY question_index`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query survey responses: %w", err)
	}
	defer rows.Close()
	return scanInts(rows)
}

// CountOutOfHours returns how many out-of-hours messages were logged for chatID.
func (s *SQLiteStore) CountOutOfHours(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM out_of_hours_messages WHERE phone_number = ?`, chatID).Scan(&n)
	return n, err
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

func marshalSnapshot(snap models.SessionSnapshot) (string, string, error) {
	history, err := json.Marshal(snap.History)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal history: %w", err)
	}
	responses, err := json.Marshal(snap.SurveyResponses)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal survey responses: %w", err)
	}
	return string(history), string(responses), nil
}

func unmarshalSnapshot(snap *models.SessionSnapshot, history, responses string) error {
	if history != "" {
		if err := json.Unmarshal([]byte(history), &snap.History); err != nil {
			return fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if responses != "" && responses != "null" {
		if err := json.Unmarshal([]byte(responses), &snap.SurveyResponses); err != nil {
			return fmt.Errorf("failed to unmarshal survey responses: %w", err)
		}
	}
	return nil
}

func scanTickets(rows *sql.Rows) ([]models.Ticket, error) {
	var out []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.Name, &t.Company, &t.Phone, &t.Email, &t.Problem,
			&t.Classification, &t.Status, &t.Priority, &t.ContactPhone, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ticket rows: %w", err)
	}
	return out, nil
}

func scanInts(rows *sql.Rows) ([]int, error) {
	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
