// Package survey runs the post-interaction satisfaction survey: a fixed list
// of questions answered one per message with a score from 1 to 9.
package survey

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	MinScore = 1
	MaxScore = 9

	msgAnswerFormat = "Por favor, responde con un número del 1 al 9, donde 1 es muy insatisfecho y 9 es muy satisfecho."
	msgThanks       = "🎉 ¡Gracias por completar nuestra encuesta! Tus respuestas nos ayudan a mejorar nuestro servicio. ¡Que tengas un excelente día!"
)

// DefaultQuestions is the Lealia satisfaction questionnaire.
var DefaultQuestions = []string{
	"¿Qué tan satisfecho estás con la atención recibida?",
	"¿Qué tan rápido fue resuelto tu problema?",
	"¿Qué tan claro fue el agente en sus explicaciones?",
	"¿Qué tan fácil fue usar nuestro servicio de atención al cliente?",
	"¿Qué probabilidad hay de que recomiendes nuestro servicio a otros?",
}

// Host is the part of the router the survey drives.
type Host interface {
	Send(ctx context.Context, s *session.Session, text string)
	EndSession(ctx context.Context, s *session.Session, reason models.EndReason)
}

// ResponseStore persists completed answers.
type ResponseStore interface {
	SaveSurveyResponses(ctx context.Context, chatID, conversationID string, responses []int) error
}

// Flow is the survey sub-flow.
type Flow struct {
	host      Host
	store     ResponseStore
	questions []string
}

// New creates a survey flow. A nil store skips persisting answers.
func New(host Host, store ResponseStore, questions ...string) *Flow {
	if len(questions) == 0 {
		questions = DefaultQuestions
	}
	return &Flow{host: host, store: store, questions: questions}
}

// Len returns the number of questions.
func (f *Flow) Len() int { return len(f.questions) }

// Start resets the survey, ends any human agent flag and asks the first question.
func (f *Flow) Start(ctx context.Context, s *session.Session) {
	s.Survey = session.SurveyState{Active: true, Responses: []int{}}
	s.EndAgent()
	s.CurrentFlow = session.FlowSurvey
	s.CurrentStep = "question_0"
	slog.Info("survey.Flow started", "chat_id", s.ChatID)
	f.host.Send(ctx, s, f.question(0))
}

func (f *Flow) question(i int) string {
	return f.questions[i] + "\n\n" + msgAnswerFormat
}

// Submit records an answer. It reports false when the survey state is
// corrupt and the caller should fall through to normal handling.
func (f *Flow) Submit(ctx context.Context, s *session.Session, input string) bool {
	idx := s.Survey.CurrentQuestionIndex
	if idx < 0 || idx >= len(f.questions) || len(s.Survey.Responses) != idx {
		slog.Error("survey.Flow inconsistent state, deactivating", "chat_id", s.ChatID, "index", idx, "responses", len(s.Survey.Responses))
		s.Survey.Active = false
		return false
	}

	score, ok := ParseScore(input)
	if !ok {
		f.host.Send(ctx, s, "⚠️ "+f.question(idx))
		return true
	}

	s.Survey.Responses = append(s.Survey.Responses, score)
	s.Survey.CurrentQuestionIndex++
	idx = s.Survey.CurrentQuestionIndex

	if idx < len(f.questions) {
		s.CurrentStep = "question_" + strconv.Itoa(idx)
		f.host.Send(ctx, s, f.question(idx))
		return true
	}

	s.Survey.Active = false
	slog.Info("survey.Flow completed", "chat_id", s.ChatID, "responses", s.Survey.Responses)
	f.host.Send(ctx, s, msgThanks)
	if f.store != nil {
		if err := f.store.SaveSurveyResponses(ctx, s.ChatID, s.ConversationID, s.Survey.Responses); err != nil {
			slog.Error("survey.Flow failed to save responses", "error", err, "chat_id", s.ChatID)
		}
	}
	f.host.EndSession(ctx, s, models.EndReasonSurveyCompleted)
	return true
}

// ParseScore accepts an integer between MinScore and MaxScore.
func ParseScore(input string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < MinScore || n > MaxScore {
		return 0, false
	}
	return n, true
}
