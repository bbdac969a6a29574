package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	msgReportIntro   = "Entiendo que necesitas ayuda adicional para resolver tu problema. Voy a crear un reporte para que un agente de soporte te contacte y pueda ayudarte de manera más personalizada. Por favor, proporciona la siguiente información:\n\nPrimero, ¿cuál es tu nombre completo?"
	msgReportCreated = "✅ Gracias por proporcionar la información. Te transferiremos con un agente especializado de Lealia para resolver tu problema de forma personalizada.\n\nTu número de reporte es: *%s*"
	msgReportFailed  = "Lo siento, hubo un error al crear el reporte. Por favor, intenta de nuevo o escribe *menú* para volver al menú principal."
)

type reportField struct {
	name   string
	prompt string
}

// reportFields is the fixed order in which ticket data is asked.
var reportFields = []reportField{
	{"name", "👤 Por favor, proporciona tu nombre completo (sin acentos):"},
	{"phone", "📱 Por favor, proporciona tu número de teléfono:"},
	{"email", "📧 Por favor, proporciona tu email registrado en Lealia:"},
	{"company", "🏢 Por favor, proporciona tu sucursal de Lealia:"},
	{"problem", "📝 Por favor, describe el problema que estás experimentando:"},
}

func reportFieldIndex(name string) int {
	for i, f := range reportFields {
		if f.name == name {
			return i
		}
	}
	return -1
}

// beginReport pivots the conversation into ticket data collection.
func (r *Router) beginReport(ctx context.Context, s *session.Session) {
	s.ResetMenu("")
	s.Report = session.ReportState{
		Active:       true,
		CurrentField: reportFields[0].name,
		Data:         make(map[string]string),
	}
	s.CurrentFlow = session.FlowReport
	s.CurrentStep = "report_" + reportFields[0].name
	slog.Info("Router collecting report data", "chat_id", s.ChatID)
	r.Send(ctx, s, msgReportIntro)
}

// collectReport stores input for the current field and asks the next one.
// After the problem description a ticket is created and the chat waits for
// a human. Blank input re-asks the current field.
func (r *Router) collectReport(ctx context.Context, s *session.Session, input string) {
	idx := reportFieldIndex(s.Report.CurrentField)
	if idx < 0 {
		slog.Error("Router unknown report field, resetting", "chat_id", s.ChatID, "field", s.Report.CurrentField)
		s.Report = session.ReportState{}
		r.menu.ShowMainMenu(ctx, s)
		return
	}
	value := strings.TrimSpace(input)
	if value == "" {
		r.Send(ctx, s, reportFields[idx].prompt)
		return
	}
	if s.Report.Data == nil {
		s.Report.Data = make(map[string]string)
	}
	s.Report.Data[reportFields[idx].name] = value

	if next := idx + 1; next < len(reportFields) {
		s.Report.CurrentField = reportFields[next].name
		s.CurrentStep = "report_" + reportFields[next].name
		r.Send(ctx, s, reportFields[next].prompt)
		return
	}
	r.finishReport(ctx, s)
}

func (r *Router) finishReport(ctx context.Context, s *session.Session) {
	d := s.Report.Data
	t := models.Ticket{
		Name:         d["name"],
		Phone:        d["phone"],
		Email:        d["email"],
		Company:      d["company"],
		Problem:      d["problem"],
		ContactPhone: session.ContactPhone(s.ChatID),
	}
	s.Report = session.ReportState{}

	ref, err := r.tickets.CreateTicket(ctx, t)
	if err != nil {
		slog.Error("Router failed to create report", "error", err, "chat_id", s.ChatID)
		r.metrics.RecordTicket("report", "failed")
		s.CurrentFlow = session.FlowAIConversation
		s.CurrentStep = ""
		r.Send(ctx, s, msgReportFailed)
		return
	}
	slog.Info("Router report created", "chat_id", s.ChatID, "report_id", ref)
	r.metrics.RecordTicket("report", "created")
	r.Send(ctx, s, fmt.Sprintf(msgReportCreated, ref))
	s.WaitForHuman(ref)
}

