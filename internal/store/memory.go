package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// OutOfHoursEntry is a message logged outside business hours.
type OutOfHoursEntry struct {
	ChatID  string
	Message string
	At      time.Time
}

// InMemoryStore keeps everything in process memory. It is used when no
// database DSN is configured and by tests.
type InMemoryStore struct {
	mu         sync.Mutex
	receipts   []models.Receipt
	snapshots  map[string]models.SessionSnapshot
	stats      map[string]*ConversationStats
	logs       map[string][]models.ConversationLogEntry
	outOfHours []OutOfHoursEntry
	tickets    []models.Ticket
	surveys    map[string][]int
	dedup      map[string]DedupRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[string]models.SessionSnapshot),
		stats:     make(map[string]*ConversationStats),
		logs:      make(map[string][]models.ConversationLogEntry),
		surveys:   make(map[string][]int),
		dedup:     make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) SaveSessionSnapshot(_ context.Context, snap models.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ConversationID] = snap
	return nil
}

// Snapshots returns the saved snapshots of chatID.
func (s *InMemoryStore) Snapshots(chatID string) []models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SessionSnapshot
	for _, snap := range s.snapshots {
		if snap.ChatID == chatID {
			out = append(out, snap)
		}
	}
	return out
}

func (s *InMemoryStore) StartConversation(_ context.Context, conversationID, chatID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stats[conversationID]; !ok {
		s.stats[conversationID] = &ConversationStats{ConversationID: conversationID, ChatID: chatID}
	}
	return nil
}

func (s *InMemoryStore) LogMessage(_ context.Context, e models.ConversationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Content = truncate(e.Content, MaxLogContentLength)
	s.logs[e.ConversationID] = append(s.logs[e.ConversationID], e)
	if st, ok := s.stats[e.ConversationID]; ok {
		st.TotalMessages++
		switch e.Role {
		case models.TurnRoleBot:
			st.BotMessages++
		case models.TurnRoleUser:
			st.UserMessages++
		}
	}
	return nil
}

// Logs returns the logged messages of a conversation.
func (s *InMemoryStore) Logs(conversationID string) []models.ConversationLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationLogEntry, len(s.logs[conversationID]))
	copy(out, s.logs[conversationID])
	return out
}

func (s *InMemoryStore) EndConversation(_ context.Context, end models.ConversationEnd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[end.ConversationID]; ok {
		st.EndedBy = end.EndedBy
		st.SurveyCompleted = end.SurveyCompleted
		st.HumanTransfer = end.HumanTransfer
	}
	return nil
}

// ConversationStats returns a copy of the statistics of a conversation.
func (s *InMemoryStore) ConversationStats(_ context.Context, conversationID string) (*ConversationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *InMemoryStore) LogOutOfHours(_ context.Context, chatID, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outOfHours = append(s.outOfHours, OutOfHoursEntry{ChatID: chatID, Message: truncate(message, MaxOutOfHoursLength), At: at})
	return nil
}

// OutOfHours returns the logged out-of-hours messages.
func (s *InMemoryStore) OutOfHours() []OutOfHoursEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutOfHoursEntry, len(s.outOfHours))
	copy(out, s.outOfHours)
	return out
}

func (s *InMemoryStore) SaveTicket(_ context.Context, t models.Ticket) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t = ticketDefaults(t)
	t.ID = int64(len(s.tickets) + 1)
	s.tickets = append(s.tickets, t)
	return t.ID, nil
}

func (s *InMemoryStore) ListTickets(_ context.Context, limit int) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for i := len(s.tickets) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tickets[i])
	}
	return out, nil
}

func (s *InMemoryStore) SaveSurveyResponses(_ context.Context, chatID, conversationID string, responses []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := conversationID
	if key == "" {
		key = chatID
	}
	s.surveys[key] = append([]int(nil), responses...)
	return nil
}

// SurveyResponses returns the stored answers of a conversation.
func (s *InMemoryStore) SurveyResponses(_ context.Context, conversationID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.surveys[conversationID]...), nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ChatID: chatID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
		s.dedup[messageID] = r
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
