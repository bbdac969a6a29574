package router

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	msgWelcomeBack     = "👋 ¡Hola de nuevo! Qué gusto que regreses a Lealia. Retomemos desde el menú principal."
	msgInactivityCheck = "⏰ Hemos notado que has estado inactivo. ¿Deseas continuar con la conversación?\n\n1️⃣ Sí, continuar con Lealia\n2️⃣ No, terminar conversación"
	msgInactivityRetry = "Por favor, responde con:\n1️⃣ Sí, continuar\n2️⃣ No, terminar conversación"
	msgFarewell        = "👋 ¡Gracias por contactar a Lealia! Si necesitas algo más en el futuro, estaremos aquí para ayudarte. ¡Que tengas un excelente día! 😊"
)

// humanStart marks the chat as attended by an operator. The lock is waited
// for since control phrases must not be dropped.
func (r *Router) humanStart(ctx context.Context, in *inbound) bool {
	if !r.classifier.HumanStart(in.text) {
		return false
	}
	r.origins.TrackHuman(in.msg.ID)
	return r.withChat(ctx, in, func(s *session.Session) {
		s.StartAgent()
		slog.Info("Router human support started", "chat_id", s.ChatID)
	})
}

// humanEnd closes operator attention and starts the survey.
func (r *Router) humanEnd(ctx context.Context, in *inbound) bool {
	if !r.classifier.HumanEnd(in.text) {
		return false
	}
	r.origins.TrackHuman(in.msg.ID)
	return r.withChat(ctx, in, func(s *session.Session) {
		s.EndAgent()
		slog.Info("Router human support ended, starting survey", "chat_id", s.ChatID)
		r.StartSurvey(ctx, s)
	})
}

func (r *Router) withChat(ctx context.Context, in *inbound, fn func(s *session.Session)) bool {
	chatID := in.msg.From
	if err := r.registry.LockWait(ctx, chatID); err != nil {
		slog.Error("Router could not lock chat for control phrase", "error", err, "chat_id", chatID)
		r.metrics.RecordDrop("busy")
		return true
	}
	defer r.registry.Unlock(chatID)
	fn(r.acquire(ctx, chatID))
	return true
}

func (r *Router) suppressEcho(_ context.Context, in *inbound) bool {
	origin := r.origins.Classify(in.msg.ID, in.msg.FromMe)
	switch origin {
	case OriginBot, OriginLikelyBot:
		slog.Debug("Router ignoring own message", "chat_id", in.msg.From, "message_id", in.msg.ID, "origin", origin)
		r.metrics.RecordDrop("echo")
		return true
	case OriginLikelyHuman:
		r.origins.TrackHuman(in.msg.ID)
	}
	return false
}

func (r *Router) suppressDuplicate(_ context.Context, in *inbound) bool {
	if in.msg.ID != "" {
		inserted, err := r.store.RecordInbound(in.msg.ID, in.msg.From)
		if err != nil {
			slog.Warn("Router dedup record failed", "error", err, "message_id", in.msg.ID)
		} else if !inserted {
			slog.Debug("Router dropping redelivered message", "chat_id", in.msg.From, "message_id", in.msg.ID)
			r.metrics.RecordDrop("duplicate")
			return true
		}
	}
	if r.dupes.Observe(in.msg.From, in.text, in.at) {
		slog.Debug("Router dropping duplicate message", "chat_id", in.msg.From)
		r.metrics.RecordDrop("duplicate")
		return true
	}
	return false
}

// businessHours answers outside attention hours without opening a session.
func (r *Router) businessHours(ctx context.Context, in *inbound) bool {
	if r.hours == nil || r.hours.IsOpen(in.at) {
		return false
	}
	slog.Info("Router message out of business hours", "chat_id", in.msg.From)
	r.deliver(ctx, in.msg.From, r.hours.OutOfHoursMessage(in.at))
	if err := r.store.LogOutOfHours(ctx, in.msg.From, in.text, in.at); err != nil {
		slog.Warn("Router failed to log out-of-hours message", "error", err, "chat_id", in.msg.From)
	}
	return true
}

// humanAttended keeps the bot silent while a human owns the chat.
func (r *Router) humanAttended(_ context.Context, in *inbound) bool {
	in.s.Touch()
	if !in.s.HumanAttended() {
		return false
	}
	slog.Debug("Router silent, chat attended by a human", "chat_id", in.s.ChatID)
	return true
}

func (r *Router) returningFromAbandonment(ctx context.Context, in *inbound) bool {
	if !in.s.Abandoned {
		return false
	}
	slog.Info("Router user returned after abandonment", "chat_id", in.s.ChatID)
	r.Send(ctx, in.s, msgWelcomeBack)
	in.s.ClearAbandoned()
	in.s.Survey.Active = false
	in.s.Report = session.ReportState{}
	r.menu.ShowMainMenu(ctx, in.s)
	return true
}

func (r *Router) inactivityCheck(ctx context.Context, in *inbound) bool {
	if in.s.CurrentFlow != session.FlowInactivityCheck {
		return false
	}
	switch r.classifier.InactivityAnswer(in.text) {
	case AnswerContinue:
		in.s.ClearAbandoned()
		r.menu.ShowMainMenu(ctx, in.s)
	case AnswerEnd:
		r.Send(ctx, in.s, msgFarewell)
		r.EndSession(ctx, in.s, models.EndReasonUser)
	default:
		r.Send(ctx, in.s, msgInactivityRetry)
	}
	return true
}

func (r *Router) pendingInactive(ctx context.Context, in *inbound) bool {
	if !in.s.Inactive || in.s.Handoff.Transferred {
		return false
	}
	in.s.Inactive = false
	r.Send(ctx, in.s, msgInactivityCheck)
	in.s.CurrentFlow = session.FlowInactivityCheck
	in.s.CurrentStep = "awaiting_response"
	return true
}

func (r *Router) surveyStep(ctx context.Context, in *inbound) bool {
	if !in.s.Survey.Active {
		return false
	}
	return r.survey.Submit(ctx, in.s, in.text)
}

func (r *Router) surveyTrigger(ctx context.Context, in *inbound) bool {
	if !r.classifier.SurveyTrigger(in.text) {
		return false
	}
	in.s.ResetMenu("")
	r.StartSurvey(ctx, in.s)
	return true
}

func (r *Router) menuStep(ctx context.Context, in *inbound) bool {
	return r.menu.Handle(ctx, in.s, in.text)
}

func (r *Router) greeting(ctx context.Context, in *inbound) bool {
	if len(in.s.History) > 0 {
		return false
	}
	r.menu.ShowMainMenu(ctx, in.s)
	return true
}

func (r *Router) reportStep(ctx context.Context, in *inbound) bool {
	if !in.s.Report.Active {
		return false
	}
	r.collectReport(ctx, in.s, in.text)
	return true
}
