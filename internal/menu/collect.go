package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/portal"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	msgValidationFailed = "⚠️ No pudimos validar tus datos en el sistema de Lealia. Te transferiremos con un agente especializado para verificar tu información y ayudarte."
	msgBalanceFailed    = "⚠️ No pudimos consultar tu saldo en Lealia en este momento. Te transferiremos con un agente especializado para ayudarte."
	msgTechnicalError   = "⚠️ Ocurrió un error técnico en el sistema de Lealia. Te transferiremos con un agente especializado para ayudarte."
	msgOrderNotFound    = "🔍 No hemos podido encontrar información sobre tu pedido en Lealia. Te transferiremos con un ejecutivo especializado para que te ayude a localizarlo."
	msgAgentHandoff     = "Gracias por proporcionar la información. Te pasaremos con un agente para resolver tu problema."
	msgPointsHandoff    = "Gracias por proporcionar la información. Te pasaremos con un agente para resolver tu problema con los puntos cargados."
	msgBalanceFormat    = "💰 Tu saldo actual en Lealia es: $%s puntos\n\n¿Deseas realizar alguna otra consulta?"
)

type field struct {
	name   string
	prompt string
}

// collection is a fixed sequence of free-text fields followed by a terminal
// action that sees every collected value.
type collection struct {
	fields   []field
	complete action
}

func collections() map[ID]collection {
	return map[ID]collection{
		CheckBalanceRFC: {
			fields: []field{
				{"rfc", "Con gusto te apoyamos. ¿Me confirmas RFC a 10 dígitos? Por favor."},
				{"nombre", "Por favor, proporciona tu nombre completo (sin acentos):"},
				{"email", "Por favor, proporciona tu email registrado:"},
			},
			complete: checkBalance,
		},
		OrderDeliveryRFC: {
			fields: []field{
				{"rfc", "Por favor, proporciona tu RFC:"},
				{"oc", "Por favor, proporciona el número de orden de compra (OC):"},
			},
			complete: orderDelivery,
		},
		PortalOrderRFC: {
			fields: []field{
				{"rfc", "Con gusto te apoyamos. ¿Me confirmas RFC? Por favor."},
				{"nombre", "Por favor, proporciona tu nombre completo:"},
				{"sucursal", "Por favor, proporciona tu sucursal:"},
				{"email", "Por favor, proporciona tu email:"},
				{"captura", "Por favor, envía una captura de pantalla del problema que estás experimentando:"},
			},
			complete: handoffWith(msgAgentHandoff),
		},
		PortalPointsRFC: {
			fields: []field{
				{"rfc", "Con gusto te apoyamos. ¿Me confirmas RFC? Por favor."},
				{"nombre", "Por favor, proporciona tu nombre completo:"},
				{"sucursal", "Por favor, proporciona tu sucursal:"},
				{"email", "Por favor, proporciona tu email:"},
			},
			complete: handoffWith(msgPointsHandoff),
		},
	}
}

func (m *Machine) beginCollection(ctx context.Context, s *session.Session, id ID) {
	c := m.collects[id]
	m.host.Send(ctx, s, c.fields[0].prompt)
	s.BeginDataCollection(string(id), c.fields[0].name)
	s.CurrentStep = string(id)
}

// collect stores input for the current field and moves to the next one, or
// runs the terminal action after the last field. Blank input re-prompts.
func (m *Machine) collect(ctx context.Context, s *session.Session, id ID, c collection, input string) {
	value := strings.TrimSpace(input)
	idx := fieldIndex(c.fields, s.Menu.CurrentDataField)
	if idx < 0 {
		slog.Warn("menu.Machine unknown data field, resetting", "chat_id", s.ChatID, "menu", id, "field", s.Menu.CurrentDataField)
		m.ShowMainMenu(ctx, s)
		return
	}
	if value == "" {
		m.host.Send(ctx, s, c.fields[idx].prompt)
		return
	}

	s.Menu.CollectedFields[c.fields[idx].name] = value
	slog.Debug("menu.Machine collected field", "chat_id", s.ChatID, "menu", id, "field", c.fields[idx].name)

	if next := idx + 1; next < len(c.fields) {
		s.Menu.CurrentDataField = c.fields[next].name
		m.host.Send(ctx, s, c.fields[next].prompt)
		return
	}
	c.complete(ctx, m, s)
}

func fieldIndex(fields []field, name string) int {
	for i, f := range fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

func handoffWith(text string) action {
	return func(ctx context.Context, m *Machine, s *session.Session) {
		m.host.Send(ctx, s, text)
		m.EscalateToHuman(ctx, s)
	}
}

func checkBalance(ctx context.Context, m *Machine, s *session.Session) {
	d := s.Menu.CollectedFields
	v, err := m.lookup.ValidateUser(ctx, d["rfc"], d["nombre"], d["email"])
	if err != nil {
		slog.Error("menu.Machine user validation failed", "error", err, "chat_id", s.ChatID)
		handoffWith(msgTechnicalError)(ctx, m, s)
		return
	}
	if !v.Valid {
		handoffWith(msgValidationFailed)(ctx, m, s)
		return
	}

	b, err := m.lookup.Balance(ctx, v.UserID, v.Token)
	if err != nil || !b.OK {
		if err != nil {
			slog.Error("menu.Machine balance lookup failed", "error", err, "chat_id", s.ChatID)
		}
		handoffWith(msgBalanceFailed)(ctx, m, s)
		return
	}

	m.host.Send(ctx, s, fmt.Sprintf(msgBalanceFormat, portal.FormatNumber(b.Points)))
	m.ShowClosingMenu(ctx, s)
}

func orderDelivery(ctx context.Context, m *Machine, s *session.Session) {
	oc := s.Menu.CollectedFields["oc"]
	o, err := m.lookup.OrderStatus(ctx, oc)
	if err != nil {
		if !errors.Is(err, portal.ErrNotFound) {
			slog.Error("menu.Machine order lookup failed", "error", err, "chat_id", s.ChatID, "order", oc)
		}
		handoffWith(msgOrderNotFound)(ctx, m, s)
		return
	}
	m.host.Send(ctx, s, FormatOrder(o))
	m.ShowClosingMenu(ctx, s)
}

// FormatOrder renders an order status for the user.
func FormatOrder(o portal.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Buen día, aquí tienes la información de tu pedido *%s*:\n\n", o.Number)
	fmt.Fprintf(&b, "📦 *Producto:* %s\n", o.Product)
	fmt.Fprintf(&b, "👤 *Cliente:* %s\n", o.CustomerName)
	fmt.Fprintf(&b, "📅 *Fecha del pedido:* %s\n", o.OrderDate)
	fmt.Fprintf(&b, "💰 *Total:* $%s\n", o.Total)
	fmt.Fprintf(&b, "📋 *Estado:* %s\n", o.Status)
	if o.TrackingNumber != "" {
		fmt.Fprintf(&b, "🚚 *Número de guía:* %s\n", o.TrackingNumber)
	}
	if o.Courier != "" {
		fmt.Fprintf(&b, "🏢 *Paquetería:* %s\n", o.Courier)
	}
	if o.TrackingURL != "" {
		fmt.Fprintf(&b, "🔗 *Rastrear pedido:* %s\n", o.TrackingURL)
	}
	if o.EstimatedDelivery != "" {
		fmt.Fprintf(&b, "📅 *Fecha estimada de entrega:* %s\n", o.EstimatedDelivery)
	}
	b.WriteString("\n*¿Nos podrías confirmar la recepción de tu pedido en cuanto lo tengas? Por favor.*")
	return b.String()
}
