// Package portal is the HTTP client for the Lealia store APIs used by the
// menu flows: user validation, wallet balance and order status lookup.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultValidateURL = "https://www.giftcards.lealia.com.mx/api/get_confirm_user.php"
	DefaultBalanceURL  = "https://tienda.lealia.com.mx/wp-json/miapi/v1/saldo-wallet"
	DefaultOrderURL    = "https://centivapp.com/td_apis/get_pedido.php"
	DefaultTimeout     = 10 * time.Second
	DefaultRetryMax    = 2
)

var (
	// ErrNotFound is returned when an order lookup has no result.
	ErrNotFound = errors.New("portal: not found")
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("portal: unexpected status")
)

// Opts holds configuration for the portal client.
type Opts struct {
	ValidateURL string
	BalanceURL  string
	OrderURL    string
	Token       string
	Timeout     time.Duration
	RetryMax    int
	HTTPClient  *http.Client
}

// Option configures a Client.
type Option func(*Opts)

// WithValidateURL overrides the user validation endpoint.
func WithValidateURL(u string) Option { return func(o *Opts) { o.ValidateURL = u } }

// WithBalanceURL overrides the wallet balance endpoint.
func WithBalanceURL(u string) Option { return func(o *Opts) { o.BalanceURL = u } }

// WithOrderURL overrides the order status endpoint.
func WithOrderURL(u string) Option { return func(o *Opts) { o.OrderURL = u } }

// WithToken sets the token sent to the balance endpoint when validation returns none.
func WithToken(t string) Option { return func(o *Opts) { o.Token = t } }

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// WithRetryMax sets how many times failed requests are retried.
func WithRetryMax(n int) Option { return func(o *Opts) { o.RetryMax = n } }

// WithHTTPClient sets the underlying HTTP client (tests use httptest clients).
func WithHTTPClient(c *http.Client) Option { return func(o *Opts) { o.HTTPClient = c } }

// Validation is the outcome of a user credential check.
type Validation struct {
	Valid  bool
	UserID string
	Token  string
}

// Balance is a wallet balance in points.
type Balance struct {
	OK     bool
	Points float64
}

// Order is the status of a purchase order.
type Order struct {
	Number            string
	Product           string
	CustomerName      string
	OrderDate         string
	Total             string
	Status            string
	TrackingNumber    string
	TrackingURL       string
	EstimatedDelivery string
	Courier           string
}

// Client talks to the portal APIs with bounded retries.
type Client struct {
	http *retryablehttp.Client
	opts Opts
}

// NewClient creates a portal client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{
		ValidateURL: DefaultValidateURL,
		BalanceURL:  DefaultBalanceURL,
		OrderURL:    DefaultOrderURL,
		Timeout:     DefaultTimeout,
		RetryMax:    DefaultRetryMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.HTTPClient.Timeout = cfg.Timeout

	return &Client{http: rc, opts: cfg}
}

// ValidateUser checks that rfc, fullName and email belong to a portal user.
func (c *Client) ValidateUser(ctx context.Context, rfc, fullName, email string) (Validation, error) {
	q := url.Values{}
	q.Set("rfc", rfc)
	q.Set("full_name", fullName)
	q.Set("email", email)

	var body struct {
		Acceso    string     `json:"acceso"`
		UserIDAPI flexString `json:"userIdApi"`
		TokenAPI  flexString `json:"tokenApi"`
	}
	if err := c.getJSON(ctx, c.opts.ValidateURL, q, &body); err != nil {
		return Validation{}, fmt.Errorf("validate user: %w", err)
	}
	v := Validation{
		Valid:  strings.EqualFold(body.Acceso, "correcto"),
		UserID: string(body.UserIDAPI),
		Token:  string(body.TokenAPI),
	}
	slog.Debug("portal.Client ValidateUser", "valid", v.Valid, "user_id", v.UserID)
	return v, nil
}

// Balance returns the wallet balance of userID.
func (c *Client) Balance(ctx context.Context, userID, token string) (Balance, error) {
	if token == "" {
		token = c.opts.Token
	}
	q := url.Values{}
	q.Set("userIdApi", userID)
	q.Set("tokenApi", token)

	var body struct {
		Success flexBool    `json:"success"`
		Balance json.Number `json:"balance"`
	}
	if err := c.getJSON(ctx, c.opts.BalanceURL, q, &body); err != nil {
		return Balance{}, fmt.Errorf("balance: %w", err)
	}
	b := Balance{OK: bool(body.Success)}
	if body.Balance != "" {
		if f, err := body.Balance.Float64(); err == nil {
			b.Points = f
		}
	}
	return b, nil
}

// OrderStatus looks up a purchase order. It returns ErrNotFound when the
// portal has no record of it.
func (c *Client) OrderStatus(ctx context.Context, orderNumber string) (Order, error) {
	q := url.Values{}
	q.Set("pedido", orderNumber)

	var rows []orderRow
	if err := c.getJSON(ctx, c.opts.OrderURL, q, &rows); err != nil {
		return Order{}, fmt.Errorf("order status: %w", err)
	}
	if len(rows) == 0 {
		return Order{}, ErrNotFound
	}
	return rows[0].toOrder(orderNumber), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	u := endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts true/false, 1/0 or "1"/"0".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type orderRow struct {
	IDPortal              flexString `json:"id_portal"`
	Productos             string     `json:"productos"`
	NombreCompleto        string     `json:"nombrecompleto"`
	TimeOrden             string     `json:"timeorden"`
	Total                 flexString `json:"total"`
	Status                string     `json:"status"`
	EstatusPedido         string     `json:"estatus_pedido"`
	NoGuia                string     `json:"no_guia"`
	NoGuiaCliente         string     `json:"no_guia_cliente"`
	LinkMensajeria        string     `json:"link_mensajeria"`
	LinkMensajeriaCliente string     `json:"link_mensajeria_cliente"`
	FechaEntrega          string     `json:"fechaentrega"`
	FechaEntregaCliente   string     `json:"fechaentrega_cliente"`
}

func (r orderRow) toOrder(requested string) Order {
	o := Order{
		Number:            firstNonEmpty(string(r.IDPortal), requested),
		Product:           firstNonEmpty(r.Productos, "Producto no especificado"),
		CustomerName:      firstNonEmpty(r.NombreCompleto, "Cliente no especificado"),
		OrderDate:         formatOrderDate(r.TimeOrden),
		Total:             formatAmount(string(r.Total)),
		Status:            StatusInSpanish(r.Status, r.EstatusPedido),
		TrackingNumber:    firstNonEmpty(r.NoGuia, r.NoGuiaCliente),
		TrackingURL:       firstNonEmpty(r.LinkMensajeria, r.LinkMensajeriaCliente),
		EstimatedDelivery: firstNonEmpty(r.FechaEntrega, r.FechaEntregaCliente),
	}
	o.Courier = Courier(o.TrackingURL)
	return o
}

var orderStatuses = map[string]string{
	"processing": "En proceso",
	"completed":  "Completado",
	"pending":    "Pendiente",
	"cancelled":  "Cancelado",
	"refunded":   "Reembolsado",
	"failed":     "Fallido",
	"on-hold":    "En espera",
}

// StatusInSpanish prefers the portal's own order status and otherwise
// translates the store status.
func StatusInSpanish(status, portalStatus string) string {
	if portalStatus != "" && portalStatus != "Sin procesar" {
		return portalStatus
	}
	if s, ok := orderStatuses[status]; ok {
		return s
	}
	return firstNonEmpty(status, "Estado desconocido")
}

// Courier guesses the courier from a tracking URL.
func Courier(trackingURL string) string {
	if trackingURL == "" {
		return ""
	}
	u := strings.ToLower(trackingURL)
	switch {
	case strings.Contains(u, "dhl"):
		return "DHL"
	case strings.Contains(u, "fedex"):
		return "FedEx"
	case strings.Contains(u, "ups"):
		return "UPS"
	case strings.Contains(u, "estafeta"):
		return "Estafeta"
	case strings.Contains(u, "paquetexpress"):
		return "Paquete Express"
	default:
		return "Paquetería"
	}
}

func formatOrderDate(raw string) string {
	if raw == "" {
		return "Fecha no disponible"
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2/1/2006")
		}
	}
	return raw
}

// formatAmount renders a decimal amount with thousands separators.
func formatAmount(raw string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "0"
	}
	return FormatNumber(f)
}

// FormatNumber renders f with comma thousands separators and at most two decimals.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac = strings.TrimRight(frac, "0"); frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
