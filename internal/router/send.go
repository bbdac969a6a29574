package router

import (
	"context"
	"log/slog"
	"time"
	"unicode"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	// DefaultChunkSize is the longest message sent in one piece, in runes.
	DefaultChunkSize = 2000
	// DefaultChunkDelay is the pause between the pieces of a long message.
	DefaultChunkDelay = 500 * time.Millisecond
)

// SplitMessage cuts text into pieces of at most size runes, breaking on the
// last whitespace before the limit. The whitespace at a break is dropped. A
// piece with no whitespace is cut hard at the limit.
func SplitMessage(text string, size int) []string {
	r := []rune(text)
	if size <= 0 || len(r) <= size {
		return []string{text}
	}
	var chunks []string
	for len(r) > size {
		cut := -1
		for i := size; i > 0; i-- {
			if unicode.IsSpace(r[i]) {
				cut = i
				break
			}
		}
		if cut <= 0 {
			chunks = append(chunks, string(r[:size]))
			r = r[size:]
			continue
		}
		chunks = append(chunks, string(r[:cut]))
		r = r[cut+1:]
	}
	if len(r) > 0 {
		chunks = append(chunks, string(r))
	}
	return chunks
}

// Send delivers text to the session's chat, records it as a bot turn and in
// the conversation log. Delivery failures are logged.
func (r *Router) Send(ctx context.Context, s *session.Session, text string) {
	s.AppendTurn(models.TurnRoleBot, text)
	r.logTurn(ctx, s, models.TurnRoleBot, text)
	r.deliver(ctx, s.ChatID, text)
}

// deliver sends text in chunks, tracking every sent id as the bot's own.
func (r *Router) deliver(ctx context.Context, chatID, text string) bool {
	chunks := SplitMessage(text, r.cfg.ChunkSize)
	for i, chunk := range chunks {
		id, err := r.transport.SendMessage(ctx, chatID, chunk)
		if err != nil {
			slog.Error("Router.deliver failed", "error", err, "chat_id", chatID, "chunk", i+1, "chunks", len(chunks))
			r.metrics.RecordOutbound("failed")
			r.metrics.RecordError("router", "send")
			return false
		}
		r.origins.TrackBot(id)
		r.metrics.RecordOutbound("sent")
		slog.Debug("Router message sent", "chat_id", chatID, "message_id", id, "length", len([]rune(chunk)))

		if i < len(chunks)-1 && r.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				slog.Warn("Router.deliver cancelled between chunks", "chat_id", chatID, "sent", i+1, "chunks", len(chunks))
				return false
			case <-time.After(r.cfg.ChunkDelay):
			}
		}
	}
	return true
}

func (r *Router) logTurn(ctx context.Context, s *session.Session, role models.TurnRole, text string) {
	err := r.store.LogMessage(ctx, models.ConversationLogEntry{
		ConversationID: s.ConversationID,
		ChatID:         s.ChatID,
		Role:           role,
		Content:        text,
		Time:           r.cfg.Now(),
	})
	if err != nil {
		slog.Warn("Router failed to log message", "error", err, "chat_id", s.ChatID, "role", role)
	}
}
