package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	to := "5215512345678@s.whatsapp.net"

	id, err := svc.SendMessage(context.Background(), to, "hola")
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if sent := mockClient.Sent(); len(sent) != 1 || sent[0].ID != id {
		t.Fatalf("expected message id %q to be returned, got %+v", id, sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != to || receipt.MessageID != id || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessageError(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.Err = errors.New("offline")
	svc := NewWhatsAppService(mockClient)
	if _, err := svc.SendMessage(context.Background(), "123456", "hola"); err == nil {
		t.Fatal("expected error")
	}
	select {
	case r := <-svc.Receipts():
		t.Errorf("expected no receipt, got %+v", r)
	default:
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if _, err := svc.SendMessage(context.Background(), "123456", "hola"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestWhatsAppService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	tests := map[string]string{
		"+52 1 55 1234 5678":            "5215512345678@s.whatsapp.net",
		"5215512345678@s.whatsapp.net": "5215512345678@s.whatsapp.net",
	}
	for in, want := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(in)
		if err != nil || got != want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("123"); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
}

func textEvent(chat types.JID, id, text string, fromMe bool) *waEvents.Message {
	return &waEvents.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat, IsFromMe: fromMe},
			ID:            types.MessageID(id),
			Timestamp:     time.Unix(1718000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestResponseFromEvent(t *testing.T) {
	user := types.NewJID("5215512345678", types.DefaultUserServer)

	r, ok := responseFromEvent(textEvent(user, "ABC", "hola", true))
	if !ok {
		t.Fatal("expected text message to be converted")
	}
	want := models.Response{ID: "ABC", From: "5215512345678@s.whatsapp.net", Body: "hola", Time: 1718000000, FromMe: true}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}

	extended := "respuesta larga"
	evt := textEvent(user, "DEF", "", false)
	evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &extended}}
	if r, ok := responseFromEvent(evt); !ok || r.Body != extended {
		t.Errorf("expected extended text, got %+v ok=%v", r, ok)
	}

	if _, ok := responseFromEvent(textEvent(types.NewJID("120363025246125486", types.GroupServer), "G1", "hola", false)); ok {
		t.Error("expected group message to be skipped")
	}
	if _, ok := responseFromEvent(textEvent(types.StatusBroadcastJID, "S1", "hola", false)); ok {
		t.Error("expected status broadcast to be skipped")
	}
	evt = textEvent(user, "IMG", "", false)
	evt.Message = &waE2E.Message{}
	if _, ok := responseFromEvent(evt); ok {
		t.Error("expected non-text message to be skipped")
	}
}

func TestWhatsAppService_HandleEvents(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	user := types.NewJID("5215512345678", types.DefaultUserServer)

	svc.handleEvent(textEvent(user, "ABC", "hola", false))
	select {
	case r := <-svc.Responses():
		if r.ID != "ABC" || r.Body != "hola" {
			t.Errorf("unexpected response %+v", r)
		}
	default:
		t.Fatal("expected a response")
	}

	svc.handleEvent(&waEvents.Receipt{
		MessageSource: types.MessageSource{Chat: user},
		MessageIDs:    []types.MessageID{"M1", "M2"},
		Timestamp:     time.Unix(1718000000, 0),
		Type:          waEvents.ReceiptTypeRead,
	})
	for _, id := range []string{"M1", "M2"} {
		select {
		case rc := <-svc.Receipts():
			if rc.MessageID != id || rc.Status != models.MessageStatusRead || rc.To != user.String() {
				t.Errorf("unexpected receipt %+v", rc)
			}
		default:
			t.Fatalf("expected receipt for %s", id)
		}
	}
}

func TestReceiptStatus(t *testing.T) {
	if s, ok := receiptStatus(waEvents.ReceiptTypeDelivered); !ok || s != models.MessageStatusDelivered {
		t.Errorf("delivered mapped to %q ok=%v", s, ok)
	}
	if _, ok := receiptStatus(waEvents.ReceiptTypeReadSelf); ok {
		t.Error("expected self-read receipts to be ignored")
	}
}
