// Package models defines the core data structures for SupportPipe.
//
// It includes inbound/outbound message types, persisted session snapshots and
// support tickets, and API response helpers shared across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyChatID  = errors.New("chat id cannot be empty")
	ErrEmptyProblem = errors.New("ticket problem description cannot be empty")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt tracks the delivery state of an outbound message.
type Receipt struct {
	To        string        `json:"to"`
	MessageID string        `json:"message_id,omitempty"`
	Status    MessageStatus `json:"status"`
	Time      int64         `json:"time"`
}

// Response represents an incoming message on a conversation.
// FromMe is set when the transport reports the message as sent by the
// connected account itself (bot echoes and human operators typing on the
// bot's phone both look like this).
type Response struct {
	ID     string `json:"id,omitempty"`
	From   string `json:"from"`
	Body   string `json:"body"`
	Time   int64  `json:"time"`
	FromMe bool   `json:"from_me,omitempty"`
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	TurnRoleUser TurnRole = "user"
	TurnRoleBot  TurnRole = "bot"
)

// Turn is one entry of a conversation history.
type Turn struct {
	Role TurnRole  `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// EndReason records why a session left the registry.
type EndReason string

const (
	EndReasonUser            EndReason = "user"
	EndReasonInactivity      EndReason = "inactivity"
	EndReasonSurveyCompleted EndReason = "survey_completed"
	EndReasonSystem          EndReason = "system"
)

// SessionSnapshot is the persisted end-of-life view of a conversation session.
type SessionSnapshot struct {
	ChatID          string    `json:"chat_id"`
	ConversationID  string    `json:"conversation_id"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	ReportID        string    `json:"report_id,omitempty"`
	History         []Turn    `json:"history"`
	SurveyResponses []int     `json:"survey_responses,omitempty"`
	MessageCount    int       `json:"message_count"`
	EndReason       EndReason `json:"end_reason"`
	HumanTransfer   bool      `json:"human_transfer"`
}

// Ticket is a support-escalation record created for human follow-up.
type Ticket struct {
	ID             int64     `json:"id,omitempty"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
	Company        string    `json:"company"`
	Problem        string    `json:"problem"`
	ContactPhone   string    `json:"contact_phone"`
	Classification string    `json:"classification"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the ticket has the minimum data a human needs to follow up.
func (t Ticket) Validate() error {
	if t.Problem == "" {
		return ErrEmptyProblem
	}
	return nil
}

// ConversationLogEntry is a single logged message of a conversation.
type ConversationLogEntry struct {
	ConversationID string    `json:"conversation_id"`
	ChatID         string    `json:"chat_id"`
	Role           TurnRole  `json:"role"`
	Content        string    `json:"content"`
	Time           time.Time `json:"time"`
}

// ConversationEnd carries the summary written when a conversation closes.
type ConversationEnd struct {
	ConversationID  string    `json:"conversation_id"`
	EndedBy         EndReason `json:"ended_by"`
	SurveyCompleted bool      `json:"survey_completed"`
	HumanTransfer   bool      `json:"human_transfer"`
	EndTime         time.Time `json:"end_time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
