package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath), WithRetry(1, time.Millisecond))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error without DSN")
	}
}

func TestSQLiteStore_Receipts(t *testing.T) {
	s := newTestSQLiteStore(t)
	if err := s.AddReceipt(models.Receipt{To: "5215512345678", MessageID: "3EB0", Status: models.MessageStatusSent, Time: 10}); err != nil {
		t.Fatalf("AddReceipt failed: %v", err)
	}
	receipts, err := s.GetReceipts()
	if err != nil {
		t.Fatalf("GetReceipts failed: %v", err)
	}
	if len(receipts) != 1 || receipts[0].MessageID != "3EB0" {
		t.Errorf("unexpected receipts: %+v", receipts)
	}
}

func TestSQLiteStore_SessionSnapshotUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	snap := models.SessionSnapshot{
		ChatID:          "5215512345678@s.whatsapp.net",
		ConversationID:  "conv_1",
		StartTime:       time.Now().Add(-time.Minute),
		DurationSeconds: 60,
		History:         []models.Turn{{Role: models.TurnRoleUser, Text: "hola"}},
		EndReason:       models.EndReasonInactivity,
	}
	if err := s.SaveSessionSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSessionSnapshot failed: %v", err)
	}
	snap.SurveyResponses = []int{9, 9, 9, 9, 9}
	snap.EndReason = models.EndReasonSurveyCompleted
	snap.ReportID = "12"
	if err := s.SaveSessionSnapshot(ctx, snap); err != nil {
		t.Fatalf("second SaveSessionSnapshot failed: %v", err)
	}

	got, err := s.GetSessionSnapshot(ctx, "conv_1")
	if err != nil || got == nil {
		t.Fatalf("GetSessionSnapshot failed: %v", err)
	}
	if got.EndReason != models.EndReasonSurveyCompleted || got.ReportID != "12" {
		t.Errorf("snapshot not updated: %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Text != "hola" {
		t.Errorf("history not round-tripped: %+v", got.History)
	}
	if len(got.SurveyResponses) != 5 {
		t.Errorf("expected 5 survey responses, got %v", got.SurveyResponses)
	}

	missing, err := s.GetSessionSnapshot(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing snapshot, got %v %v", missing, err)
	}
}

func TestSQLiteStore_ConversationLog(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	start := time.Now().Add(-90 * time.Second)
	if err := s.StartConversation(ctx, "conv_2", "chat", start); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	// starting twice is a no-op
	if err := s.StartConversation(ctx, "conv_2", "chat", start); err != nil {
		t.Fatalf("second StartConversation failed: %v", err)
	}
	long := strings.Repeat("a", MaxLogContentLength+50)
	for _, e := range []models.ConversationLogEntry{
		{ConversationID: "conv_2", ChatID: "chat", Role: models.TurnRoleUser, Content: "hola"},
		{ConversationID: "conv_2", ChatID: "chat", Role: models.TurnRoleBot, Content: long},
	} {
		if err := s.LogMessage(ctx, e); err != nil {
			t.Fatalf("LogMessage failed: %v", err)
		}
	}
	if err := s.EndConversation(ctx, models.ConversationEnd{ConversationID: "conv_2", EndedBy: models.EndReasonUser, HumanTransfer: true, EndTime: time.Now()}); err != nil {
		t.Fatalf("EndConversation failed: %v", err)
	}

	st, err := s.ConversationStats(ctx, "conv_2")
	if err != nil || st == nil {
		t.Fatalf("ConversationStats failed: %v", err)
	}
	if st.TotalMessages != 2 || st.UserMessages != 1 || st.BotMessages != 1 {
		t.Errorf("unexpected counters: %+v", st)
	}
	if st.EndedBy != models.EndReasonUser || !st.HumanTransfer {
		t.Errorf("unexpected end state: %+v", st)
	}

	var stored string
	var order int
	if err := s.db.QueryRow(`SELECT message_content, message_order FROM conversation_logs WHERE message_type = 'bot'`).Scan(&stored, &order); err != nil {
		t.Fatalf("query log failed: %v", err)
	}
	if len(stored) != MaxLogContentLength {
		t.Errorf("expected content truncated to %d, got %d", MaxLogContentLength, len(stored))
	}
	if order != 2 {
		t.Errorf("expected message_order 2, got %d", order)
	}
}

func TestSQLiteStore_EndUnknownConversation(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.EndConversation(context.Background(), models.ConversationEnd{ConversationID: "ghost", EndTime: time.Now()})
	if err != nil {
		t.Errorf("expected no error for unknown conversation, got %v", err)
	}
}

func TestSQLiteStore_OutOfHours(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.LogOutOfHours(ctx, "chat", strings.Repeat("x", 2000), time.Now()); err != nil {
		t.Fatalf("LogOutOfHours failed: %v", err)
	}
	n, err := s.CountOutOfHours(ctx, "chat")
	if err != nil || n != 1 {
		t.Errorf("expected 1 out-of-hours row, got %d %v", n, err)
	}
}

func TestSQLiteStore_Tickets(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	for _, p := range []string{"primero", "segundo"} {
		if _, err := s.SaveTicket(ctx, models.Ticket{Name: "Ana", Company: "Lealia", Phone: "55", Email: "a@b.c", Problem: p, Classification: "Otro", Priority: "Media"}); err != nil {
			t.Fatalf("SaveTicket failed: %v", err)
		}
	}
	list, err := s.ListTickets(ctx, 10)
	if err != nil {
		t.Fatalf("ListTickets failed: %v", err)
	}
	if len(list) != 2 || list[0].Problem != "segundo" || list[0].ID != 2 {
		t.Errorf("expected newest first, got %+v", list)
	}
	if list[0].Status != "pendiente" {
		t.Errorf("expected default status pendiente, got %q", list[0].Status)
	}
}

func TestSQLiteStore_SurveyResponses(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.SaveSurveyResponses(ctx, "chat", "conv_3", []int{9, 8, 7, 6, 5}); err != nil {
		t.Fatalf("SaveSurveyResponses failed: %v", err)
	}
	got, err := s.SurveyResponses(ctx, "conv_3")
	if err != nil {
		t.Fatalf("SurveyResponses failed: %v", err)
	}
	if len(got) != 5 || got[0] != 9 || got[4] != 5 {
		t.Errorf("unexpected responses: %v", got)
	}
	if err := s.SaveSurveyResponses(ctx, "chat", "conv_4", []int{10}); err == nil {
		t.Error("expected out-of-range response to be rejected")
	}
}

func TestSQLiteStore_DedupRepo(t *testing.T) {
	s := newTestSQLiteStore(t)

	dup, err := s.IsDuplicate("msg-1")
	if err != nil || dup {
		t.Fatalf("expected unseen message, got %v %v", dup, err)
	}
	inserted, err := s.RecordInbound("msg-1", "chat")
	if err != nil || !inserted {
		t.Fatalf("expected first insert, got %v %v", inserted, err)
	}
	inserted, err = s.RecordInbound("msg-1", "chat")
	if err != nil || inserted {
		t.Fatalf("expected duplicate, got %v %v", inserted, err)
	}
	if err := s.MarkProcessed("msg-1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	var processed bool
	s.db.QueryRow(`SELECT processed_at IS NOT NULL FROM inbound_dedup WHERE message_id = 'msg-1'`).Scan(&processed)
	if !processed {
		t.Error("expected processed_at set")
	}
}
