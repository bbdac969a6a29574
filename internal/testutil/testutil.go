// Package testutil provides common test doubles and helpers for SupportPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// ErrSendFailed is returned by a Transport configured to fail.
var ErrSendFailed = errors.New("testutil: send failed")

// Sent is one message delivered through a Transport.
type Sent struct {
	ID   string
	To   string
	Body string
}

// Transport is an in-memory messaging service that records every send.
// It satisfies the messaging service interface.
type Transport struct {
	mu        sync.Mutex
	sent      []Sent
	fail      bool
	receipts  chan models.Receipt
	responses chan models.Response
}

// NewTransport creates a recording transport with buffered channels.
func NewTransport() *Transport {
	return &Transport{
		receipts:  make(chan models.Receipt, 100),
		responses: make(chan models.Response, 100),
	}
}

func (t *Transport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", models.ErrEmptyChatID
	}
	return r, nil
}

// SendMessage records the message and returns a random message id.
func (t *Transport) SendMessage(_ context.Context, to, body string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return "", ErrSendFailed
	}
	id := uuid.NewString()
	t.sent = append(t.sent, Sent{ID: id, To: to, Body: body})
	return id, nil
}

func (t *Transport) Start(context.Context) error { return nil }

func (t *Transport) Stop() error {
	close(t.receipts)
	close(t.responses)
	return nil
}

func (t *Transport) Receipts() <-chan models.Receipt   { return t.receipts }
func (t *Transport) Responses() <-chan models.Response { return t.responses }

// Deliver pushes an inbound message as if it came from the network.
func (t *Transport) Deliver(r models.Response) {
	t.responses <- r
}

// SetFail makes every following send fail.
func (t *Transport) SetFail(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = fail
}

// Sent returns a copy of every message sent so far.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sent, len(t.sent))
	copy(out, t.sent)
	return out
}

// Bodies returns the bodies sent to chatID in order.
func (t *Transport) Bodies(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, s := range t.sent {
		if s.To == chatID {
			out = append(out, s.Body)
		}
	}
	return out
}

// Last returns the last body sent to chatID, or "".
func (t *Transport) Last(chatID string) string {
	b := t.Bodies(chatID)
	if len(b) == 0 {
		return ""
	}
	return b[len(b)-1]
}

// Reset forgets the recorded messages.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// AI is a scripted assistant.
type AI struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Prompts []string
}

func (a *AI) GenerateReply(_ context.Context, prompt string, _ []models.Turn) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Prompts = append(a.Prompts, prompt)
	return a.Reply, a.Err
}

// Calls returns how many replies were requested.
func (a *AI) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Prompts)
}

// Hours is a business-hours gate with a fixed answer.
type Hours struct {
	Open    bool
	Message string
}

func (h Hours) IsOpen(time.Time) bool { return h.Open }

func (h Hours) OutOfHoursMessage(time.Time) string { return h.Message }

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
