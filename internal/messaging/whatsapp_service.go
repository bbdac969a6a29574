package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/whatsapp"
	waEvents "go.mau.fi/whatsmeow/types/events"

	"go.mau.fi/whatsmeow/types"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// Chat ids are full JIDs such as "5215512345678@s.whatsapp.net".
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client
	events   *events
	handler  uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{client: client, events: newEvents()}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient accepts a JID or a phone number and
// returns the JID string.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if !strings.Contains(recipient, "@") {
		phone, err := canonicalPhone(recipient)
		if err != nil {
			return "", err
		}
		recipient = phone
	}
	jid, err := whatsapp.ParseRecipient(recipient)
	if err != nil {
		return "", err
	}
	return jid.String(), nil
}

// Start registers the event handler on the live client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.handler = s.waClient.GetClient().AddEventHandler(s.handleEvent)
	go func() {
		<-ctx.Done()
		slog.Debug("WhatsAppService event handler stopping due to context cancellation")
		s.waClient.GetClient().RemoveEventHandler(s.handler)
	}()
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	s.events.stop()
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if s.events.isStopped() {
		return "", ErrServiceStopped
	}
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	id, err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return "", err
	}
	s.events.emitReceipt(models.Receipt{To: to, MessageID: id, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return id, nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.events.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *waEvents.Message:
		s.handleIncomingMessage(v)
	case *waEvents.Receipt:
		s.handleMessageReceipt(v)
	case *waEvents.Connected:
		slog.Info("WhatsAppService connected")
	case *waEvents.Disconnected:
		slog.Warn("WhatsAppService disconnected")
	case *waEvents.LoggedOut:
		slog.Error("WhatsAppService logged out; a new login is required", "reason", v.Reason)
	}
}

// responseFromEvent converts a text message of a one-to-one chat. Groups,
// broadcasts and non-text messages are skipped.
func responseFromEvent(evt *waEvents.Message) (models.Response, bool) {
	if evt.Message == nil {
		return models.Response{}, false
	}
	switch evt.Info.Chat.Server {
	case types.GroupServer, types.BroadcastServer, types.NewsletterServer:
		return models.Response{}, false
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		return models.Response{}, false
	}

	return models.Response{
		ID:     string(evt.Info.ID),
		From:   evt.Info.Chat.ToNonAD().String(),
		Body:   text,
		Time:   evt.Info.Timestamp.Unix(),
		FromMe: evt.Info.IsFromMe,
	}, true
}

func (s *WhatsAppService) handleIncomingMessage(evt *waEvents.Message) {
	response, ok := responseFromEvent(evt)
	if !ok {
		slog.Debug("WhatsAppService ignoring message", "chat", evt.Info.Chat.String())
		return
	}
	slog.Debug("WhatsAppService processing incoming message", "from", response.From, "from_me", response.FromMe, "body_length", len(response.Body))
	if s.events.emitResponse(response) {
		slog.Info("WhatsAppService incoming message forwarded", "from", response.From)
	}
}

// receiptStatus maps a whatsmeow receipt type; ok is false for types that
// are not forwarded.
func receiptStatus(t waEvents.ReceiptType) (models.MessageStatus, bool) {
	switch t {
	case waEvents.ReceiptTypeDelivered:
		return models.MessageStatusDelivered, true
	case waEvents.ReceiptTypeRead:
		return models.MessageStatusRead, true
	default:
		return "", false
	}
}

func (s *WhatsAppService) handleMessageReceipt(evt *waEvents.Receipt) {
	status, ok := receiptStatus(evt.Type)
	if !ok {
		slog.Debug("WhatsAppService ignoring receipt type", "type", evt.Type)
		return
	}
	to := evt.Chat.ToNonAD().String()
	for _, id := range evt.MessageIDs {
		s.events.emitReceipt(models.Receipt{
			To:        to,
			MessageID: string(id),
			Status:    status,
			Time:      evt.Timestamp.Unix(),
		})
	}
}
