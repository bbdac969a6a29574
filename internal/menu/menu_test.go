package menu

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/portal"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

type fakeHost struct {
	sent          []string
	armed         int
	ended         []models.EndReason
	surveyStarted bool
}

func (h *fakeHost) Send(_ context.Context, _ *session.Session, text string) {
	h.sent = append(h.sent, text)
}
func (h *fakeHost) ArmInactivity(*session.Session) { h.armed++ }
func (h *fakeHost) EndSession(_ context.Context, _ *session.Session, reason models.EndReason) {
	h.ended = append(h.ended, reason)
}
func (h *fakeHost) StartSurvey(context.Context, *session.Session) { h.surveyStarted = true }

func (h *fakeHost) last() string {
	if len(h.sent) == 0 {
		return ""
	}
	return h.sent[len(h.sent)-1]
}

type validateCall struct{ rfc, name, email string }

type fakeLookup struct {
	validateCalls []validateCall
	validation    portal.Validation
	validateErr   error
	balance       portal.Balance
	balanceErr    error
	order         portal.Order
	orderErr      error
}

func (l *fakeLookup) ValidateUser(_ context.Context, rfc, name, email string) (portal.Validation, error) {
	l.validateCalls = append(l.validateCalls, validateCall{rfc, name, email})
	return l.validation, l.validateErr
}
func (l *fakeLookup) Balance(context.Context, string, string) (portal.Balance, error) {
	return l.balance, l.balanceErr
}
func (l *fakeLookup) OrderStatus(context.Context, string) (portal.Order, error) {
	return l.order, l.orderErr
}

type fakeTickets struct {
	tickets []models.Ticket
	err     error
}

func (f *fakeTickets) CreateTicket(_ context.Context, t models.Ticket) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tickets = append(f.tickets, t)
	return "REP1", nil
}

func newMachine() (*Machine, *fakeHost, *fakeLookup, *fakeTickets, *session.Session) {
	h := &fakeHost{}
	l := &fakeLookup{}
	tk := &fakeTickets{}
	s := session.New("5215550000")
	return New(h, l, tk), h, l, tk, s
}

func assertXOR(t *testing.T, s *session.Session) {
	t.Helper()
	if s.Menu.AwaitingMenuSelection == s.Menu.AwaitingUserData {
		t.Fatalf("menu state breaks the selection/data invariant: %+v", s.Menu)
	}
}

func TestMachine_InactiveWhenNoMenu(t *testing.T) {
	m, _, _, _, s := newMachine()
	if m.Handle(context.Background(), s, "1") {
		t.Fatal("machine should not handle input without an active menu")
	}
}

func TestMachine_PasswordResetGoesToClosingMenu(t *testing.T) {
	m, h, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowMainMenu(ctx, s)
	h.sent = nil

	if !m.Handle(ctx, s, "1") {
		t.Fatal("expected input to be handled")
	}
	if len(h.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d: %q", len(h.sent), h.sent)
	}
	if !strings.Contains(h.sent[0], "¿Olvidaste tu contraseña?") {
		t.Errorf("expected password instructions, got %q", h.sent[0])
	}
	if !strings.Contains(h.sent[1], "¿Hay algo más en lo que te podamos ayudar?") {
		t.Errorf("expected closing menu, got %q", h.sent[1])
	}
	if s.Menu.CurrentMenuID != string(ClosingMenu) {
		t.Errorf("expected CLOSING_MENU, got %s", s.Menu.CurrentMenuID)
	}
	assertXOR(t, s)
}

func TestMachine_InvalidOptionSelfLoops(t *testing.T) {
	m, h, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowMainMenu(ctx, s)

	for _, in := range []string{"0", "42", "abc", ""} {
		h.sent = nil
		m.Handle(ctx, s, in)
		if len(h.sent) != 1 || !strings.HasPrefix(h.sent[0], "Opción no válida") {
			t.Errorf("input %q: expected invalid option prompt, got %q", in, h.sent)
		}
		if s.Menu.CurrentMenuID != string(MainMenu) {
			t.Errorf("input %q: state changed to %s", in, s.Menu.CurrentMenuID)
		}
		assertXOR(t, s)
	}
}

func TestMachine_MainMenuReArmsTimer(t *testing.T) {
	m, h, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "2")
	if s.Menu.CurrentMenuID != string(OrderProblems) {
		t.Fatalf("expected ORDER_PROBLEMS, got %s", s.Menu.CurrentMenuID)
	}
	h.armed = 0
	m.Handle(ctx, s, "5")
	if s.Menu.CurrentMenuID != string(MainMenu) || h.armed != 1 {
		t.Errorf("expected return to MAIN_MENU with timer re-armed, got %s armed=%d", s.Menu.CurrentMenuID, h.armed)
	}
}

func TestMachine_CheckBalanceSuccess(t *testing.T) {
	m, h, l, _, s := newMachine()
	ctx := context.Background()
	l.validation = portal.Validation{Valid: true, UserID: "7", Token: "t"}
	l.balance = portal.Balance{OK: true, Points: 1500}

	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "7")
	if s.Menu.CurrentMenuID != string(CheckBalanceRFC) || s.Menu.CurrentDataField != "rfc" {
		t.Fatalf("expected balance data collection at rfc, got %+v", s.Menu)
	}
	assertXOR(t, s)

	m.Handle(ctx, s, "XAXX010101")
	m.Handle(ctx, s, "Juan Perez")
	if len(l.validateCalls) != 0 {
		t.Fatal("validation must wait for the last field")
	}
	h.sent = nil
	m.Handle(ctx, s, "juan@example.com")

	want := validateCall{"XAXX010101", "Juan Perez", "juan@example.com"}
	if len(l.validateCalls) != 1 || l.validateCalls[0] != want {
		t.Fatalf("expected one validation call with %+v, got %+v", want, l.validateCalls)
	}
	if len(h.sent) != 2 || !strings.Contains(h.sent[0], "$1,500 puntos") {
		t.Fatalf("expected balance message then closing menu, got %q", h.sent)
	}
	if s.Menu.CurrentMenuID != string(ClosingMenu) {
		t.Errorf("expected CLOSING_MENU, got %s", s.Menu.CurrentMenuID)
	}
	assertXOR(t, s)
}

func TestMachine_CheckBalanceValidationFailureEscalates(t *testing.T) {
	m, h, l, tk, s := newMachine()
	ctx := context.Background()
	l.validation = portal.Validation{Valid: false}

	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "7")
	m.Handle(ctx, s, "RFC")
	m.Handle(ctx, s, "Nombre")
	h.sent = nil
	m.Handle(ctx, s, "mail@example.com")

	if len(h.sent) < 2 || !strings.Contains(h.sent[0], "No pudimos validar tus datos") {
		t.Fatalf("expected validation failure message, got %q", h.sent)
	}
	if !s.Handoff.WaitingForHuman {
		t.Error("expected session to wait for a human")
	}
	if !s.Timer.Paused() {
		t.Error("expected timers paused after escalation")
	}
	if len(tk.tickets) != 1 || tk.tickets[0].Email != "mail@example.com" || tk.tickets[0].ContactPhone != "5215550000" {
		t.Errorf("unexpected ticket: %+v", tk.tickets)
	}
	assertXOR(t, s)
}

func TestMachine_EscalationTicketStripsJID(t *testing.T) {
	h := &fakeHost{}
	tk := &fakeTickets{}
	m := New(h, &fakeLookup{}, tk)
	s := session.New("5215512345678@s.whatsapp.net")
	ctx := context.Background()

	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "1")
	m.Handle(ctx, s, "1")

	if len(tk.tickets) != 1 {
		t.Fatalf("expected one ticket, got %+v", tk.tickets)
	}
	if got := tk.tickets[0].ContactPhone; got != "5215512345678" {
		t.Errorf("expected ticket phone without JID suffix, got %q", got)
	}
}

func TestMachine_EscalationFailureReturnsToMainMenu(t *testing.T) {
	m, h, _, tk, s := newMachine()
	ctx := context.Background()
	tk.err = errors.New("db down")

	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "1")
	h.sent = nil
	m.Handle(ctx, s, "1")

	if s.Handoff.WaitingForHuman {
		t.Error("failed escalation must not leave the session waiting")
	}
	if s.Menu.CurrentMenuID != string(MainMenu) {
		t.Errorf("expected MAIN_MENU after failed escalation, got %s", s.Menu.CurrentMenuID)
	}
	if len(h.sent) != 2 || !strings.Contains(h.sent[0], "soporte@lealia.com.mx") {
		t.Errorf("expected apology and main menu, got %q", h.sent)
	}
}

func TestMachine_ClosingNoStartsSurvey(t *testing.T) {
	m, h, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowClosingMenu(ctx, s)
	m.Handle(ctx, s, "2")
	if !h.surveyStarted {
		t.Fatal("expected survey to start")
	}
	if s.MenuActive() {
		t.Error("menu should be idle while the survey runs")
	}
	if h.sent[len(h.sent)-1] != msgSurveyFarewell {
		t.Errorf("expected farewell, got %q", h.last())
	}
}

func TestMachine_OrderDelivery(t *testing.T) {
	m, h, l, _, s := newMachine()
	ctx := context.Background()
	l.order = portal.Order{Number: "OC-1", Product: "TV", Status: "Completado", TrackingNumber: "G1"}

	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "2")
	m.Handle(ctx, s, "2")
	m.Handle(ctx, s, "RFC")
	h.sent = nil
	m.Handle(ctx, s, "OC-1")

	if len(h.sent) != 2 || !strings.Contains(h.sent[0], "*OC-1*") || !strings.Contains(h.sent[0], "G1") {
		t.Fatalf("expected order info and closing menu, got %q", h.sent)
	}
	if s.Menu.CurrentMenuID != string(ClosingMenu) {
		t.Errorf("expected CLOSING_MENU, got %s", s.Menu.CurrentMenuID)
	}
}

func TestMachine_OrderNotFoundEscalates(t *testing.T) {
	m, h, l, _, s := newMachine()
	ctx := context.Background()
	l.orderErr = portal.ErrNotFound

	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "2")
	m.Handle(ctx, s, "2")
	m.Handle(ctx, s, "RFC")
	h.sent = nil
	m.Handle(ctx, s, "OC-404")

	if !strings.Contains(h.sent[0], "No hemos podido encontrar") || !s.Handoff.WaitingForHuman {
		t.Errorf("expected not-found escalation, got %q waiting=%v", h.sent, s.Handoff.WaitingForHuman)
	}
}

func TestMachine_BlankFieldReprompts(t *testing.T) {
	m, h, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "5")
	m.Handle(ctx, s, "3")
	h.sent = nil
	m.Handle(ctx, s, "   ")
	if s.Menu.CurrentDataField != "rfc" || len(h.sent) != 1 || !strings.Contains(h.sent[0], "RFC") {
		t.Errorf("expected rfc re-prompt, got field=%s sent=%q", s.Menu.CurrentDataField, h.sent)
	}
}

func TestMachine_UnknownMenuResets(t *testing.T) {
	m, _, _, _, s := newMachine()
	s.ResetMenu("NOT_A_MENU")
	m.Handle(context.Background(), s, "1")
	if s.Menu.CurrentMenuID != string(MainMenu) {
		t.Errorf("expected reset to MAIN_MENU, got %s", s.Menu.CurrentMenuID)
	}
}

func TestMachine_EndSessionOption(t *testing.T) {
	m, h, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "8")
	if len(h.ended) != 1 || h.ended[0] != models.EndReasonUser {
		t.Errorf("expected user-ended session, got %v", h.ended)
	}
	if h.last() != msgGoodbye {
		t.Errorf("expected goodbye, got %q", h.last())
	}
}

func TestMachine_AssistantOptionLeavesMenu(t *testing.T) {
	m, _, _, _, s := newMachine()
	ctx := context.Background()
	m.ShowMainMenu(ctx, s)
	m.Handle(ctx, s, "9")
	if s.MenuActive() || s.CurrentFlow != session.FlowAIConversation {
		t.Errorf("expected AI conversation with idle menu, got flow=%s menu=%+v", s.CurrentFlow, s.Menu)
	}
	assertXOR(t, s)
}

func TestMenuText_NumbersOptions(t *testing.T) {
	text := catalog()[ClosingMenu].text()
	if !strings.Contains(text, "1\ufe0f\u20e3 Sí, necesito más ayuda\n2\ufe0f\u20e3 No, gracias") {
		t.Errorf("unexpected closing menu text %q", text)
	}
}
