package store

import (
	"time"
)

// DedupRecord is an inbound transport message id seen by the router.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	ChatID      string     `json:"chat_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo records transport message ids so a redelivered message is not
// answered twice, even across restarts.
type DedupRepo interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records messageID. It returns false if it was already
	// recorded.
	RecordInbound(messageID, chatID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error
}
