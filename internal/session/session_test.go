package session

import (
	"fmt"
	"testing"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

func TestSession_HistoryIsBounded(t *testing.T) {
	s := New("chat")
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		s.AppendTurn(models.TurnRoleUser, fmt.Sprintf("msg %d", i))
	}
	if len(s.History) != DefaultHistoryLimit {
		t.Fatalf("expected %d turns, got %d", DefaultHistoryLimit, len(s.History))
	}
	if s.History[0].Text != "msg 5" {
		t.Errorf("expected oldest turns evicted first, got %q", s.History[0].Text)
	}
}

func TestSession_MenuShapes(t *testing.T) {
	s := New("chat")
	if s.MenuActive() {
		t.Fatal("new session should not have an active menu")
	}

	s.BeginDataCollection("CHECK_BALANCE_RFC", "rfc")
	if s.Menu.AwaitingMenuSelection || !s.Menu.AwaitingUserData {
		t.Error("data collection must await user data only")
	}

	s.Menu.CollectedFields["rfc"] = "XAXX010101000"
	s.ResetMenu("MAIN_MENU")
	if !s.Menu.AwaitingMenuSelection || s.Menu.AwaitingUserData {
		t.Error("reset menu must await a selection only")
	}
	if len(s.Menu.CollectedFields) != 0 || s.Menu.CurrentDataField != "" {
		t.Error("reset menu must clear collected data")
	}
}

func TestSession_HandoffLifecycle(t *testing.T) {
	s := New("chat")
	s.StartAgent()
	if !s.HumanAttended() || !s.Timer.Paused() {
		t.Fatal("agent start should silence the bot and pause timers")
	}
	s.EndAgent()
	if s.Handoff.Transferred || s.Handoff.AgentActive || s.Handoff.WaitingForHuman {
		t.Error("EndAgent should clear every handoff flag")
	}

	s.WaitForHuman("REP12")
	if !s.HumanAttended() || s.ReportID != "REP12" {
		t.Error("WaitForHuman should record the report and silence the bot")
	}
	if !s.Snapshot(models.EndReasonUser).HumanTransfer {
		t.Error("snapshot should report the human transfer")
	}
}

func TestContactPhone(t *testing.T) {
	cases := map[string]string{
		"5215512345678@s.whatsapp.net": "5215512345678",
		"5215512345678@c.us":           "5215512345678",
		"5215512345678":                "5215512345678",
	}
	for in, want := range cases {
		if got := ContactPhone(in); got != want {
			t.Errorf("ContactPhone(%q) = %q, want %q", in, got, want)
		}
	}
}
