package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTicketValidate(t *testing.T) {
	if err := (Ticket{}).Validate(); !errors.Is(err, ErrEmptyProblem) {
		t.Errorf("expected ErrEmptyProblem, got %v", err)
	}
	if err := (Ticket{Problem: "No puedo entrar al portal"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResponseOmitsFromMeWhenFalse(t *testing.T) {
	b, err := json.Marshal(Response{From: "5215512345678", Body: "hola", Time: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "from_me") || strings.Contains(string(b), `"id"`) {
		t.Errorf("empty optional fields should be omitted: %s", b)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"sessions": 2})
	if ok.Status != string(APIStatusOK) || ok.Message != "" || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}
	bad := Error("boom")
	if bad.Status != string(APIStatusError) || bad.Message != "boom" || bad.Result != nil {
		t.Errorf("unexpected error response: %+v", bad)
	}
}
