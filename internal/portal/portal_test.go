package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(
		WithValidateURL(srv.URL+"/validate"),
		WithBalanceURL(srv.URL+"/balance"),
		WithOrderURL(srv.URL+"/order"),
		WithRetryMax(0),
		WithToken("12345"),
	)
}

func TestClient_ValidateUser(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"acceso":"correcto","userIdApi":42,"tokenApi":"tok"}`)
	})

	v, err := c.ValidateUser(context.Background(), "XAXX010101", "Juan Perez", "juan@example.com")
	if err != nil {
		t.Fatalf("ValidateUser returned error: %v", err)
	}
	if !v.Valid || v.UserID != "42" || v.Token != "tok" {
		t.Errorf("unexpected validation: %+v", v)
	}
	want := "email=juan%40example.com&full_name=Juan+Perez&rfc=XAXX010101"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestClient_ValidateUserRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"acceso":"incorrecto"}`)
	})
	v, err := c.ValidateUser(context.Background(), "a", "b", "c")
	if err != nil {
		t.Fatalf("ValidateUser returned error: %v", err)
	}
	if v.Valid {
		t.Error("expected invalid user")
	}
}

func TestClient_BalanceUsesDefaultToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tokenApi") != "12345" {
			t.Errorf("expected default token, got %q", r.URL.Query().Get("tokenApi"))
		}
		fmt.Fprint(w, `{"success":1,"balance":1500.5}`)
	})
	b, err := c.Balance(context.Background(), "42", "")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if !b.OK || b.Points != 1500.5 {
		t.Errorf("unexpected balance: %+v", b)
	}
}

func TestClient_OrderStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pedido") != "OC-77" {
			t.Errorf("unexpected order number %q", r.URL.Query().Get("pedido"))
		}
		fmt.Fprint(w, `[{"id_portal":"OC-77","productos":"Licuadora","nombrecompleto":"Ana","timeorden":"2024-03-05 10:00:00","total":"12500","status":"processing","estatus_pedido":"Sin procesar","no_guia":"123","link_mensajeria":"https://www.dhl.com/track?id=123"}]`)
	})
	o, err := c.OrderStatus(context.Background(), "OC-77")
	if err != nil {
		t.Fatalf("OrderStatus returned error: %v", err)
	}
	if o.Status != "En proceso" || o.Courier != "DHL" || o.Total != "12,500" || o.OrderDate != "5/3/2024" {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestClient_OrderStatusNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	if _, err := c.OrderStatus(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_UnexpectedStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := c.ValidateUser(context.Background(), "a", "b", "c"); !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestStatusInSpanish(t *testing.T) {
	tests := []struct {
		status, portal, want string
	}{
		{"completed", "", "Completado"},
		{"processing", "Enviado", "Enviado"},
		{"processing", "Sin procesar", "En proceso"},
		{"weird", "", "weird"},
		{"", "", "Estado desconocido"},
	}
	for _, tt := range tests {
		if got := StatusInSpanish(tt.status, tt.portal); got != tt.want {
			t.Errorf("StatusInSpanish(%q, %q) = %q, want %q", tt.status, tt.portal, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:         "0",
		999:       "999",
		1000:      "1,000",
		1234567.5: "1,234,567.5",
		-2500:     "-2,500",
	}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}
