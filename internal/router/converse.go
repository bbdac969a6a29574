package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/SupportPipe/internal/genai"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const msgAIFailure = "Lo siento, hubo un error al procesar tu mensaje. Si lo deseas, escribe *agente* para que un ejecutivo de Lealia te contacte o *menú* para volver al menú principal."

// converse is the fallback stage: the assistant answers, unless the user or
// the answer asks for a human, in which case report collection starts.
func (r *Router) converse(ctx context.Context, in *inbound) bool {
	s := in.s
	if r.classifier.MenuRequest(in.text) {
		r.menu.ShowMainMenu(ctx, s)
		return true
	}
	if r.classifier.Escalation(in.text, "") {
		s.AppendTurn(models.TurnRoleUser, in.text)
		slog.Info("Router user asked for a human", "chat_id", s.ChatID)
		r.beginReport(ctx, s)
		return true
	}

	history := append([]models.Turn(nil), s.History...)
	reply, err := r.reply(ctx, in.text, history)
	s.AppendTurn(models.TurnRoleUser, in.text)
	s.CurrentFlow = session.FlowAIConversation
	if err != nil {
		r.Send(ctx, s, msgAIFailure)
		return true
	}

	if r.classifier.Escalation(in.text, reply) {
		slog.Info("Router escalation requested", "chat_id", s.ChatID)
		r.beginReport(ctx, s)
		return true
	}
	r.Send(ctx, s, reply)
	return true
}

// reply asks the assistant, falling back to keyword answers when none is
// configured or its quota is exhausted.
func (r *Router) reply(ctx context.Context, text string, history []models.Turn) (string, error) {
	if r.ai == nil {
		r.metrics.RecordAI("fallback")
		return genai.KeywordReply(text), nil
	}
	reply, err := r.ai.GenerateReply(ctx, text, history)
	switch {
	case err == nil:
		r.metrics.RecordAI("ok")
		return reply, nil
	case errors.Is(err, genai.ErrQuotaExceeded):
		slog.Warn("Router AI quota exceeded, using keyword reply", "error", err)
		r.metrics.RecordAI("quota")
		return genai.KeywordReply(text), nil
	default:
		slog.Error("Router AI reply failed", "error", err)
		r.metrics.RecordAI("error")
		r.metrics.RecordError("genai", "reply")
		return "", err
	}
}
