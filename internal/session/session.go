// Package session holds per-conversation state for SupportPipe: the Session
// entity, its two-stage inactivity Timer and the Registry that maps chat ids
// to sessions and serializes message processing per chat.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// DefaultHistoryLimit is the number of conversation turns kept as AI context.
const DefaultHistoryLimit = 20

// Flow is a coarse tag describing what the conversation is currently doing.
type Flow string

const (
	FlowGreeting        Flow = "greeting"
	FlowMainMenu        Flow = "main_menu"
	FlowInactivityCheck Flow = "inactivity_check"
	FlowAbandoned       Flow = "abandoned"
	FlowAIConversation  Flow = "ai_conversation"
	FlowReport          Flow = "report"
	FlowSurvey          Flow = "survey"
	FlowHumanSupport    Flow = "human_support"
)

// MenuState tracks the position inside the menu tree.
// Exactly one of AwaitingMenuSelection and AwaitingUserData is true.
// An empty CurrentMenuID means no menu is being navigated.
type MenuState struct {
	CurrentMenuID         string            `json:"current_menu_id"`
	AwaitingMenuSelection bool              `json:"awaiting_menu_selection"`
	AwaitingUserData      bool              `json:"awaiting_user_data"`
	CurrentDataField      string            `json:"current_data_field,omitempty"`
	CollectedFields       map[string]string `json:"collected_fields,omitempty"`
}

// SurveyState tracks the satisfaction survey.
type SurveyState struct {
	Active               bool  `json:"active"`
	CurrentQuestionIndex int   `json:"current_question_index"`
	Responses            []int `json:"responses"`
}

// ReportState tracks ticket data gathered during an AI conversation escalation.
type ReportState struct {
	Active       bool              `json:"active"`
	CurrentField string            `json:"current_field,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// HandoffState tracks human support. AgentActive means a human operator is
// typing on the channel; WaitingForHuman means a ticket was created and a
// human will follow up asynchronously.
type HandoffState struct {
	WaitingForHuman bool      `json:"waiting_for_human"`
	Transferred     bool      `json:"transferred"`
	TransferTime    time.Time `json:"transfer_time,omitempty"`
	AgentActive     bool      `json:"agent_active"`
	AgentStartTime  time.Time `json:"agent_start_time,omitempty"`
}

// Session is the mutable state of one conversation. Fields are only touched
// while the Registry lock for ChatID is held.
type Session struct {
	ChatID         string
	ConversationID string

	CurrentFlow Flow
	CurrentStep string

	Menu    MenuState
	Survey  SurveyState
	Report  ReportState
	Handoff HandoffState

	StartedAt      time.Time
	LastActivityAt time.Time
	MessageCount   int
	Abandoned      bool
	AbandonedAt    time.Time
	Inactive       bool
	ReportID       string

	History      []models.Turn
	historyLimit int

	Timer *Timer
}

// New creates a session for chatID with an unarmed timer.
func New(chatID string, timerOpts ...TimerOption) *Session {
	now := time.Now()
	s := &Session{
		ChatID:         chatID,
		ConversationID: fmt.Sprintf("conv_%s_%d", chatID, now.UnixMilli()),
		CurrentFlow:    FlowGreeting,
		StartedAt:      now,
		LastActivityAt: now,
		historyLimit:   DefaultHistoryLimit,
	}
	s.ResetMenu("")
	s.Timer = newTimer(s, timerOpts...)
	return s
}

// Touch records user activity.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
	s.MessageCount++
}

// ResetMenu puts the menu state back to its initial shape positioned at menuID.
func (s *Session) ResetMenu(menuID string) {
	s.Menu = MenuState{
		CurrentMenuID:         menuID,
		AwaitingMenuSelection: true,
		CollectedFields:       make(map[string]string),
	}
}

// BeginDataCollection switches the menu into sequential field collection.
func (s *Session) BeginDataCollection(menuID, firstField string) {
	s.Menu = MenuState{
		CurrentMenuID:    menuID,
		AwaitingUserData: true,
		CurrentDataField: firstField,
		CollectedFields:  make(map[string]string),
	}
}

// MenuActive reports whether the user is navigating a menu or a data collection.
func (s *Session) MenuActive() bool {
	return s.Menu.CurrentMenuID != ""
}

// MarkAbandoned flags the session after the inactivity warning.
func (s *Session) MarkAbandoned() {
	s.Abandoned = true
	s.AbandonedAt = time.Now()
	s.CurrentFlow = FlowAbandoned
}

// ClearAbandoned removes the abandonment and inactivity marks.
func (s *Session) ClearAbandoned() {
	s.Abandoned = false
	s.AbandonedAt = time.Time{}
	s.Inactive = false
}

// StartAgent records that a human operator took over the chat.
func (s *Session) StartAgent() {
	now := time.Now()
	s.Handoff.Transferred = true
	s.Handoff.TransferTime = now
	s.Handoff.AgentActive = true
	s.Handoff.AgentStartTime = now
	s.CurrentFlow = FlowHumanSupport
	s.Timer.Pause()
}

// EndAgent clears every human handoff flag.
func (s *Session) EndAgent() {
	s.Handoff.Transferred = false
	s.Handoff.AgentActive = false
	s.Handoff.WaitingForHuman = false
}

// WaitForHuman records that a ticket was created and pauses the timers.
func (s *Session) WaitForHuman(reportID string) {
	s.Handoff.WaitingForHuman = true
	if s.Handoff.TransferTime.IsZero() {
		s.Handoff.TransferTime = time.Now()
	}
	if reportID != "" {
		s.ReportID = reportID
	}
	s.CurrentFlow = FlowHumanSupport
	s.Timer.Pause()
}

// HumanAttended reports whether the bot must stay silent.
func (s *Session) HumanAttended() bool {
	return (s.Handoff.AgentActive && s.Handoff.Transferred) || s.Handoff.WaitingForHuman
}

// AppendTurn adds a history entry, evicting the oldest beyond the limit.
func (s *Session) AppendTurn(role models.TurnRole, text string) {
	s.History = append(s.History, models.Turn{Role: role, Text: text, Time: time.Now()})
	if over := len(s.History) - s.historyLimit; over > 0 {
		s.History = append(s.History[:0:0], s.History[over:]...)
	}
}

// Snapshot builds the persisted view of the session.
func (s *Session) Snapshot(reason models.EndReason) models.SessionSnapshot {
	history := make([]models.Turn, len(s.History))
	copy(history, s.History)
	responses := make([]int, len(s.Survey.Responses))
	copy(responses, s.Survey.Responses)
	return models.SessionSnapshot{
		ChatID:          s.ChatID,
		ConversationID:  s.ConversationID,
		StartTime:       s.StartedAt,
		DurationSeconds: int64(time.Since(s.StartedAt).Seconds()),
		ReportID:        s.ReportID,
		History:         history,
		SurveyResponses: responses,
		MessageCount:    s.MessageCount,
		EndReason:       reason,
		HumanTransfer:   !s.Handoff.TransferTime.IsZero(),
	}
}

// ContactPhone strips the transport suffix of a chat id, leaving the digits
// recorded on tickets and reports.
func ContactPhone(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		return chatID[:i]
	}
	return chatID
}
