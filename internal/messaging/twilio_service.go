package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/twiliowhatsapp"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements the Service interface using Twilio API. Inbound
// messages and status updates arrive through its webhook handlers. Chat ids
// are the digits of the sender's number.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	events    *events
	validator *client.RequestValidator
	publicURL string
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match authToken. publicURL is the externally visible base URL
// Twilio posts to, such as "https://bot.example.com".
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := client.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService with a real or mock Twilio client.
func NewTwilioService(sender twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{client: sender, events: newEvents()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("%w: recipient cannot be empty", ErrInvalidRecipient)
	}
	canonical, err := canonicalPhone(recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %q needs at least 6 digits", ErrInvalidRecipient, recipient)
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; events arrive through the webhooks.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.events.stop()
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if s.events.isStopped() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	sid, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		return "", err
	}
	s.events.emitReceipt(models.Receipt{To: canonicalTo, MessageID: sid, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return sid, nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns the channel for incoming messages
func (s *TwilioService) Responses() <-chan models.Response {
	return s.events.responses
}

// verify parses the form and checks the request signature when validation
// is enabled.
func (s *TwilioService) verify(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	if s.validator == nil {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	if !s.validator.Validate(s.publicURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature")) {
		slog.Warn("Twilio webhook signature mismatch", "path", r.URL.Path)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !s.verify(w, r) {
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	chatID, err := canonicalPhone(from)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", chatID, "body_length", len(body))
	s.events.emitResponse(models.Response{
		ID:   r.FormValue("MessageSid"),
		From: chatID,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// twilioStatus maps a Twilio MessageStatus; ok is false for intermediate states.
func twilioStatus(status string) (models.MessageStatus, bool) {
	switch status {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed", "undelivered":
		return models.MessageStatusFailed, true
	default:
		return "", false
	}
}

// TwilioStatusHandler handles the status callbacks of sent messages and
// emits them as receipts.
func (s *TwilioService) TwilioStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.verify(w, r) {
		return
	}
	sid := r.FormValue("MessageSid")
	if sid == "" {
		http.Error(w, "Missing MessageSid", http.StatusBadRequest)
		return
	}
	if status, ok := twilioStatus(r.FormValue("MessageStatus")); ok {
		to, _ := canonicalPhone(r.FormValue("To"))
		s.events.emitReceipt(models.Receipt{To: to, MessageID: sid, Status: status, Time: time.Now().Unix()})
	}
	w.WriteHeader(http.StatusNoContent)
}
