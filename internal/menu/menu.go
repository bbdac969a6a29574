// Package menu implements the numbered menu tree and the sequential
// data-collection flows that hang off it.
package menu

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/portal"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

// ID names a menu or a data-collection state.
type ID string

const (
	MainMenu       ID = "MAIN_MENU"
	OrderProblems  ID = "ORDER_PROBLEMS"
	CoinIssues     ID = "COIN_ISSUES"
	PortalProblems ID = "PORTAL_PROBLEMS"
	ClosingMenu    ID = "CLOSING_MENU"

	CheckBalanceRFC  ID = "CHECK_BALANCE_RFC"
	OrderDeliveryRFC ID = "ORDER_DELIVERY_RFC"
	PortalOrderRFC   ID = "PORTAL_ORDER_RFC"
	PortalPointsRFC  ID = "PORTAL_POINTS_RFC"
)

// Host is the part of the router the menus drive.
type Host interface {
	Send(ctx context.Context, s *session.Session, text string)
	ArmInactivity(s *session.Session)
	EndSession(ctx context.Context, s *session.Session, reason models.EndReason)
	StartSurvey(ctx context.Context, s *session.Session)
}

// Lookup is the portal API used by the terminal steps of data collection.
type Lookup interface {
	ValidateUser(ctx context.Context, rfc, fullName, email string) (portal.Validation, error)
	Balance(ctx context.Context, userID, token string) (portal.Balance, error)
	OrderStatus(ctx context.Context, orderNumber string) (portal.Order, error)
}

// Ticketer creates support tickets for human follow-up.
type Ticketer interface {
	CreateTicket(ctx context.Context, t models.Ticket) (string, error)
}

type action func(ctx context.Context, m *Machine, s *session.Session)

type option struct {
	label string
	run   action
}

type menu struct {
	header  string
	footer  string
	options []option
}

// optionList renders the numbered options, one per line.
func (mn menu) optionList() string {
	lines := make([]string, len(mn.options))
	for i, o := range mn.options {
		lines[i] = keycap(i+1) + " " + o.label
	}
	return strings.Join(lines, "\n")
}

func (mn menu) text() string {
	t := mn.header + "\n\n" + mn.optionList()
	if mn.footer != "" {
		t += "\n\n" + mn.footer
	}
	return t
}

func keycap(n int) string {
	return strconv.Itoa(n) + "\ufe0f\u20e3"
}

// Machine is the menu state machine. It is stateless itself; all state
// lives in the session it is handed.
type Machine struct {
	host     Host
	lookup   Lookup
	tickets  Ticketer
	menus    map[ID]menu
	collects map[ID]collection
}

// New builds the machine with the Lealia menu catalog.
func New(host Host, lookup Lookup, tickets Ticketer) *Machine {
	m := &Machine{host: host, lookup: lookup, tickets: tickets}
	m.menus = catalog()
	m.collects = collections()
	return m
}

// ShowMainMenu sends the welcome menu, resets the menu state and re-arms the
// inactivity timer.
func (m *Machine) ShowMainMenu(ctx context.Context, s *session.Session) {
	m.host.Send(ctx, s, m.menus[MainMenu].text())
	s.ResetMenu(string(MainMenu))
	s.CurrentFlow = session.FlowMainMenu
	s.CurrentStep = string(MainMenu)
	m.host.ArmInactivity(s)
}

// ShowClosingMenu asks whether the user needs anything else.
func (m *Machine) ShowClosingMenu(ctx context.Context, s *session.Session) {
	m.host.Send(ctx, s, m.menus[ClosingMenu].text())
	m.enter(s, ClosingMenu)
}

func (m *Machine) enter(s *session.Session, id ID) {
	s.ResetMenu(string(id))
	s.CurrentStep = string(id)
}

func (m *Machine) showSubMenu(ctx context.Context, s *session.Session, id ID) {
	m.host.Send(ctx, s, m.menus[id].text())
	m.enter(s, id)
}

// Handle consumes input when a menu or data collection is active and
// reports whether it did.
func (m *Machine) Handle(ctx context.Context, s *session.Session, input string) bool {
	if !s.MenuActive() {
		return false
	}
	id := ID(s.Menu.CurrentMenuID)

	if s.Menu.AwaitingUserData {
		c, ok := m.collects[id]
		if !ok {
			slog.Warn("menu.Machine unknown data collection, resetting", "chat_id", s.ChatID, "menu", id)
			m.ShowMainMenu(ctx, s)
			return true
		}
		m.collect(ctx, s, id, c, input)
		return true
	}

	mn, ok := m.menus[id]
	if !ok {
		slog.Warn("menu.Machine unknown menu, resetting", "chat_id", s.ChatID, "menu", id)
		m.ShowMainMenu(ctx, s)
		return true
	}

	choice := strings.TrimSpace(input)
	if id == MainMenu && strings.EqualFold(choice, "hola") {
		m.ShowMainMenu(ctx, s)
		return true
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(mn.options) {
		slog.Debug("menu.Machine invalid option", "chat_id", s.ChatID, "menu", id, "input", choice)
		m.host.Send(ctx, s, msgInvalidOption+mn.optionList())
		return true
	}

	slog.Debug("menu.Machine option selected", "chat_id", s.ChatID, "menu", id, "option", n)
	mn.options[n-1].run(ctx, m, s)
	return true
}

// EscalateToHuman creates a ticket from whatever the menus collected and
// leaves the session waiting for a human. On failure the user is sent back
// to the main menu.
func (m *Machine) EscalateToHuman(ctx context.Context, s *session.Session) {
	data := s.Menu.CollectedFields
	t := models.Ticket{
		Name:           valueOr(data["nombre"], "No proporcionado"),
		Company:        "Lealia",
		Phone:          valueOr(data["telefono"], "No proporcionado"),
		Email:          valueOr(data["email"], "No proporcionado"),
		Problem:        escalationProblem(s.Menu.CurrentMenuID, data),
		ContactPhone:   session.ContactPhone(s.ChatID),
		Classification: "Soporte",
		Priority:       "Media",
	}

	id, err := m.tickets.CreateTicket(ctx, t)
	if err != nil {
		slog.Error("menu.Machine failed to create human support ticket", "error", err, "chat_id", s.ChatID)
		m.host.Send(ctx, s, msgEscalationFailed)
		m.ShowMainMenu(ctx, s)
		return
	}

	slog.Info("menu.Machine escalated to human", "chat_id", s.ChatID, "report_id", id)
	m.host.Send(ctx, s, msgTransferred)
	s.ResetMenu("")
	s.WaitForHuman(id)
}

func escalationProblem(menuID string, data map[string]string) string {
	p := fmt.Sprintf("Solicitud de atención humana desde el menú: %s", menuID)
	if len(data) == 0 {
		return p
	}
	var parts []string
	for _, k := range []string{"rfc", "nombre", "sucursal", "email", "oc", "captura"} {
		if v, ok := data[k]; ok {
			parts = append(parts, k+": "+v)
		}
	}
	if len(parts) > 0 {
		p += " (" + strings.Join(parts, ", ") + ")"
	}
	return p
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
