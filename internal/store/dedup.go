package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dedupDialect holds the inbound_dedup statements of one SQL backend.
type dedupDialect struct {
	exists    string
	insert    string
	processed string
}

var (
	sqliteDedup = dedupDialect{
		exists:    `SELECT 1 FROM inbound_dedup WHERE message_id = ?`,
		insert:    `INSERT OR IGNORE INTO inbound_dedup (message_id, chat_id, received_at) VALUES (?, ?, ?)`,
		processed: `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
	}
	postgresDedup = dedupDialect{
		exists:    `SELECT 1 FROM inbound_dedup WHERE message_id = $1`,
		insert:    `INSERT INTO inbound_dedup (message_id, chat_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		processed: `UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
	}
)

// dedupTable runs the dedup statements of a dialect with the store's retry policy.
type dedupTable struct {
	db  *sql.DB
	cfg Opts
	q   dedupDialect
}

func (t dedupTable) isDuplicate(messageID string) (bool, error) {
	var found bool
	err := runWithRetry(context.Background(), t.cfg, "IsDuplicate", func(ctx context.Context) error {
		var one int
		err := t.db.QueryRowContext(ctx, t.q.exists, messageID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("dedup check for %s failed: %w", messageID, err)
	}
	return found, nil
}

func (t dedupTable) recordInbound(messageID, chatID string) (bool, error) {
	var inserted bool
	err := runWithRetry(context.Background(), t.cfg, "RecordInbound", func(ctx context.Context) error {
		res, err := t.db.ExecContext(ctx, t.q.insert, messageID, chatID, time.Now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("record inbound %s failed: %w", messageID, err)
	}
	return inserted, nil
}

func (t dedupTable) markProcessed(messageID string) error {
	err := runWithRetry(context.Background(), t.cfg, "MarkProcessed", func(ctx context.Context) error {
		_, err := t.db.ExecContext(ctx, t.q.processed, time.Now(), messageID)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark processed %s failed: %w", messageID, err)
	}
	return nil
}

func (s *SQLiteStore) dedup() dedupTable { return dedupTable{db: s.db, cfg: s.cfg, q: sqliteDedup} }

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	return s.dedup().isDuplicate(messageID)
}

func (s *SQLiteStore) RecordInbound(messageID, chatID string) (bool, error) {
	return s.dedup().recordInbound(messageID, chatID)
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	return s.dedup().markProcessed(messageID)
}

func (s *PostgresStore) dedup() dedupTable { return dedupTable{db: s.db, cfg: s.cfg, q: postgresDedup} }

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	return s.dedup().isDuplicate(messageID)
}

func (s *PostgresStore) RecordInbound(messageID, chatID string) (bool, error) {
	return s.dedup().recordInbound(messageID, chatID)
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	return s.dedup().markProcessed(messageID)
}
