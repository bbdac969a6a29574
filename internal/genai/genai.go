// Package genai provides the AI assistant used for free-form questions and
// for classifying support tickets, backed by the OpenAI chat completions API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTemperature keeps replies conversational but on topic.
	DefaultTemperature = 0.4
	// DefaultMaxTokens bounds a single reply.
	DefaultMaxTokens = 600

	// DefaultClassification and DefaultPriority are used when analysis fails.
	DefaultClassification = "Otro"
	DefaultPriority       = "Media"
)

var (
	// ErrNoChoicesReturned is returned when the API answers without choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrQuotaExceeded is returned when the API rejects the call for rate or quota limits.
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	// ErrAPIKeyMissing is returned by NewClient without an API key.
	ErrAPIKeyMissing = errors.New("OPENAI_API_KEY not set")
)

const companyInfo = "Lealia es una plataforma que permite a los empleados canjear puntos por diversos productos y tarjetas de regalo."

const systemPrompt = "Eres un asistente virtual amigable y profesional para Lealia. " + companyInfo + "\n" +
	"Tu objetivo principal es ayudar a resolver los problemas, dudas o inquietudes del cliente de manera eficiente y empática.\n" +
	"Enfócate en entender el problema del usuario y ofrecer soluciones concretas cuando sea posible.\n" +
	"Si no puedes resolver el problema directamente, ofrece crear un reporte para que un agente de soporte lo contacte.\n" +
	"Usa un tono conversacional y empático. Mantén el contexto de la conversación basándote en el historial proporcionado.\n" +
	"IMPORTANTE: No inventes información sobre cuentas específicas, transacciones o datos comerciales. " +
	"Si se te pide información que no tienes, explica que necesitas crear un reporte para que un agente de soporte pueda ayudar.\n" +
	"Limítate a proporcionar soporte para los casos específicos sin inventar información adicional."

const analysisPrompt = `Analiza el siguiente problema reportado por un usuario de Lealia:

Problema: %s

Basándote en esta información, determina:
1. Clasificación: ¿Qué tipo de problema es? (por ejemplo, técnico, facturación, cuenta, etc.)
2. Prioridad: En una escala de Baja, Media, Alta, o Crítica, ¿qué tan grave es este problema?

Proporciona tu análisis en formato JSON con las claves "classification" y "priority".`

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK service to chatService.
type completions struct {
	svc *openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient created", "model", cfg.Model)
	return &Client{
		chat:        completions{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// GenerateReply answers prompt as the Lealia assistant, given the prior turns
// of the conversation.
func (c *Client) GenerateReply(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}
	if h := FormatHistory(history); h != "" {
		messages = append(messages, openai.SystemMessage("Historial de la conversación:\n"+h))
	}
	messages = append(messages, openai.UserMessage(prompt))
	return c.complete(ctx, messages)
}

// Analysis is the AI classification of a ticket.
type Analysis struct {
	Classification string `json:"classification"`
	Priority       string `json:"priority"`
}

// AnalyzeReport classifies a problem description. It never fails: any
// error yields the default classification and priority.
func (c *Client) AnalyzeReport(ctx context.Context, problem string) Analysis {
	fallback := Analysis{Classification: DefaultClassification, Priority: DefaultPriority}
	out, err := c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(fmt.Sprintf(analysisPrompt, problem)),
	})
	if err != nil {
		slog.Error("genai.AnalyzeReport failed", "error", err)
		return fallback
	}
	a, err := parseAnalysis(out)
	if err != nil {
		slog.Warn("genai.AnalyzeReport unparseable answer", "error", err)
		return fallback
	}
	return a
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isQuotaError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == "insufficient_quota"
	}
	return false
}

// parseAnalysis extracts the JSON object from a model answer, which may be
// wrapped in prose or a code fence.
func parseAnalysis(text string) (Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("no JSON object in %q", text)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return Analysis{}, err
	}
	if a.Classification == "" {
		a.Classification = DefaultClassification
	}
	if a.Priority == "" {
		a.Priority = DefaultPriority
	}
	return a, nil
}

// FormatHistory renders turns as "Usuario:"/"Bot:" lines.
func FormatHistory(history []models.Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		prefix := "Usuario: "
		if t.Role == models.TurnRoleBot {
			prefix = "Bot: "
		}
		lines = append(lines, prefix+t.Text)
	}
	return strings.Join(lines, "\n")
}
