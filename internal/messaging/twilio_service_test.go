package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/twiliowhatsapp"
)

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func postForm(h http.HandlerFunc, target string, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	sid, err := svc.SendMessage(context.Background(), "+52 1 55 1234 5678", "hola")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "5215512345678" || sent[0].SID != sid {
		t.Fatalf("unexpected sent messages %+v", sent)
	}
	rc := <-svc.Receipts()
	if rc.MessageID != sid || rc.Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt %+v", rc)
	}

	if _, err := svc.SendMessage(context.Background(), "12", "hola"); err == nil {
		t.Error("expected invalid recipient error")
	}
}

func TestTwilioService_WebhookEmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	form := url.Values{"From": {"whatsapp:+5215512345678"}, "Body": {"hola"}, "MessageSid": {"SM123"}}

	rec := postForm(svc.TwilioWebhookHandler, "/webhooks/twilio", form, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Errorf("expected empty TwiML, got %q", rec.Body.String())
	}
	r := <-svc.Responses()
	if r.From != "5215512345678" || r.Body != "hola" || r.ID != "SM123" {
		t.Errorf("unexpected response %+v", r)
	}
}

func TestTwilioService_WebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, "/webhooks/twilio", url.Values{"From": {"whatsapp:+5215512345678"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioService_SignatureValidation(t *testing.T) {
	const token = "secret-token"
	const base = "https://bot.example.com"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(token, base))
	form := url.Values{"From": {"whatsapp:+5215512345678"}, "Body": {"hola"}, "MessageSid": {"SM1"}}

	if rec := postForm(svc.TwilioWebhookHandler, "/webhooks/twilio", form, "bogus"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a bad signature, got %d", rec.Code)
	}

	sig := sign(token, base+"/webhooks/twilio", form)
	if rec := postForm(svc.TwilioWebhookHandler, "/webhooks/twilio", form, sig); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a valid signature, got %d", rec.Code)
	}
}

func TestTwilioService_StatusCallback(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	form := url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"undelivered"}, "To": {"whatsapp:+5215512345678"}}
	if rec := postForm(svc.TwilioStatusHandler, "/webhooks/twilio/status", form, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rc := <-svc.Receipts()
	if rc.MessageID != "SM9" || rc.Status != models.MessageStatusFailed || rc.To != "5215512345678" {
		t.Errorf("unexpected receipt %+v", rc)
	}

	form.Set("MessageStatus", "queued")
	postForm(svc.TwilioStatusHandler, "/webhooks/twilio/status", form, "")
	select {
	case rc := <-svc.Receipts():
		t.Errorf("expected queued status to be ignored, got %+v", rc)
	default:
	}
}
