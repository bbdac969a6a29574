// Package router dispatches every inbound message through an ordered list of
// guard stages. The first stage that handles a message wins. Stages run
// before and after the per-chat lock of the session registry; everything
// after the lock sees a consistent session.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/menu"
	"github.com/BTreeMap/SupportPipe/internal/metrics"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/portal"
	"github.com/BTreeMap/SupportPipe/internal/session"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/survey"
	"github.com/BTreeMap/SupportPipe/internal/ticket"
)

// DefaultAIEndAfter is the warning-to-termination delay in the AI conversation.
const DefaultAIEndAfter = time.Minute

// Transport is the messaging service the router reads from and writes to.
type Transport interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
	Responses() <-chan models.Response
	Receipts() <-chan models.Receipt
}

// Store is the persistence the router writes to while handling messages.
type Store interface {
	store.DedupRepo
	StartConversation(ctx context.Context, conversationID, chatID string, start time.Time) error
	LogMessage(ctx context.Context, entry models.ConversationLogEntry) error
	LogOutOfHours(ctx context.Context, chatID, message string, at time.Time) error
	SaveTicket(ctx context.Context, t models.Ticket) (int64, error)
	SaveSurveyResponses(ctx context.Context, chatID, conversationID string, responses []int) error
	AddReceipt(r models.Receipt) error
}

// Responder generates assistant replies.
type Responder interface {
	GenerateReply(ctx context.Context, prompt string, history []models.Turn) (string, error)
}

// BusinessHours decides whether the bot attends at a given time.
type BusinessHours interface {
	IsOpen(now time.Time) bool
	OutOfHoursMessage(now time.Time) string
}

// Opts holds router configuration.
type Opts struct {
	Store      Store
	AI         Responder
	Hours      BusinessHours
	Lookup     menu.Lookup
	Tickets    menu.Ticketer
	Classifier Classifier
	Metrics    *metrics.Metrics
	Questions  []string

	DedupeWindow   time.Duration
	DedupeCapacity int
	OriginCapacity int
	ChunkSize      int
	ChunkDelay     time.Duration
	AIEndAfter     time.Duration
	Now            func() time.Time
}

// Option configures a Router.
type Option func(*Opts)

// WithStore sets the persistence backend. Defaults to an in-memory store.
func WithStore(s Store) Option { return func(o *Opts) { o.Store = s } }

// WithAI sets the assistant. Without one, replies come from keyword rules.
func WithAI(ai Responder) Option { return func(o *Opts) { o.AI = ai } }

// WithHours sets the business-hours gate. Without one the bot always attends.
func WithHours(h BusinessHours) Option { return func(o *Opts) { o.Hours = h } }

// WithLookup sets the portal client used by the menus.
func WithLookup(l menu.Lookup) Option { return func(o *Opts) { o.Lookup = l } }

// WithTickets sets the ticket service.
func WithTickets(t menu.Ticketer) Option { return func(o *Opts) { o.Tickets = t } }

// WithClassifier replaces the phrase classifier.
func WithClassifier(c Classifier) Option { return func(o *Opts) { o.Classifier = c } }

// WithMetrics records router metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Opts) { o.Metrics = m } }

// WithSurveyQuestions replaces the survey questionnaire.
func WithSurveyQuestions(q ...string) Option { return func(o *Opts) { o.Questions = q } }

// WithDedupeWindow sets how long identical messages are suppressed.
func WithDedupeWindow(d time.Duration) Option { return func(o *Opts) { o.DedupeWindow = d } }

// WithChunking sets the outbound chunk size in runes and the delay between chunks.
func WithChunking(size int, delay time.Duration) Option {
	return func(o *Opts) {
		o.ChunkSize = size
		o.ChunkDelay = delay
	}
}

// WithAIEndAfter sets the warning-to-termination delay of the AI conversation.
func WithAIEndAfter(d time.Duration) Option { return func(o *Opts) { o.AIEndAfter = d } }

// WithClock replaces time.Now, used by the business-hours gate and logs.
func WithClock(now func() time.Time) Option { return func(o *Opts) { o.Now = now } }

var errLookupUnavailable = errors.New("portal lookup not configured")

// unavailableLookup fails every lookup so the menus escalate to a human.
type unavailableLookup struct{}

func (unavailableLookup) ValidateUser(context.Context, string, string, string) (portal.Validation, error) {
	return portal.Validation{}, errLookupUnavailable
}
func (unavailableLookup) Balance(context.Context, string, string) (portal.Balance, error) {
	return portal.Balance{}, errLookupUnavailable
}
func (unavailableLookup) OrderStatus(context.Context, string) (portal.Order, error) {
	return portal.Order{}, errLookupUnavailable
}

// inbound is one message moving through the stages.
type inbound struct {
	msg  models.Response
	text string
	at   time.Time
	s    *session.Session
}

type stage struct {
	name string
	run  func(ctx context.Context, in *inbound) bool
}

// Router is the message orchestrator. It implements the host interfaces of
// the menu machine and the survey flow.
type Router struct {
	registry   *session.Registry
	transport  Transport
	store      Store
	ai         Responder
	hours      BusinessHours
	tickets    menu.Ticketer
	classifier Classifier
	metrics    *metrics.Metrics
	cfg        Opts

	menu    *menu.Machine
	survey  *survey.Flow
	dupes   *DuplicateCache
	origins *OriginTracker

	unlocked []stage
	locked   []stage
	attended []stage

	wg sync.WaitGroup
}

var (
	_ menu.Host   = (*Router)(nil)
	_ survey.Host = (*Router)(nil)
)

// New creates a router over registry and transport.
func New(registry *session.Registry, transport Transport, opts ...Option) *Router {
	cfg := Opts{
		DedupeWindow:   DefaultDedupeWindow,
		DedupeCapacity: DefaultDedupeCapacity,
		OriginCapacity: DefaultOriginCapacity,
		ChunkSize:      DefaultChunkSize,
		ChunkDelay:     DefaultChunkDelay,
		AIEndAfter:     DefaultAIEndAfter,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier()
	}
	if cfg.Tickets == nil {
		cfg.Tickets = ticket.NewService(cfg.Store, nil)
	}
	if cfg.Lookup == nil {
		cfg.Lookup = unavailableLookup{}
	}

	r := &Router{
		registry:   registry,
		transport:  transport,
		store:      cfg.Store,
		ai:         cfg.AI,
		hours:      cfg.Hours,
		tickets:    cfg.Tickets,
		classifier: cfg.Classifier,
		metrics:    cfg.Metrics,
		cfg:        cfg,
		dupes:      NewDuplicateCache(cfg.DedupeWindow, cfg.DedupeCapacity),
		origins:    NewOriginTracker(cfg.OriginCapacity),
	}
	r.menu = menu.New(r, cfg.Lookup, cfg.Tickets)
	r.survey = survey.New(r, cfg.Store, cfg.Questions...)

	r.unlocked = []stage{
		{"human_start", r.humanStart},
		{"human_end", r.humanEnd},
		{"echo", r.suppressEcho},
		{"duplicate", r.suppressDuplicate},
	}
	r.locked = []stage{
		{"business_hours", r.businessHours},
	}
	r.attended = []stage{
		{"human_attended", r.humanAttended},
		{"abandoned", r.returningFromAbandonment},
		{"inactivity_check", r.inactivityCheck},
		{"inactive", r.pendingInactive},
		{"survey", r.surveyStep},
		{"survey_trigger", r.surveyTrigger},
		{"menu", r.menuStep},
		{"greeting", r.greeting},
		{"report", r.reportStep},
		{"ai", r.converse},
	}
	return r
}

// Stages lists the stage names in evaluation order. The per-chat lock is
// taken between "duplicate" and "business_hours".
func (r *Router) Stages() []string {
	var names []string
	for _, group := range [][]stage{r.unlocked, r.locked, r.attended} {
		for _, st := range group {
			names = append(names, st.name)
		}
	}
	return names
}

// Origins exposes the origin tracker statistics.
func (r *Router) Origins() OriginStats {
	return r.origins.Stats()
}

// Start consumes the transport's responses and receipts until ctx is
// cancelled or the channels close. Each message is handled on its own goroutine.
func (r *Router) Start(ctx context.Context) {
	slog.Info("Router starting message processing")
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer slog.Info("Router stopped message processing")
		for {
			select {
			case msg, ok := <-r.transport.Responses():
				if !ok {
					slog.Debug("Router responses channel closed")
					return
				}
				if ctx.Err() != nil {
					slog.Debug("Router dropping message received during shutdown", "chat_id", msg.From)
					return
				}
				r.wg.Add(1)
				go func(msg models.Response) {
					defer r.wg.Done()
					r.Handle(ctx, msg)
				}(msg)
			case <-ctx.Done():
				slog.Debug("Router stopping due to context cancellation")
				return
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		for {
			select {
			case rc, ok := <-r.transport.Receipts():
				if !ok {
					return
				}
				if err := r.store.AddReceipt(rc); err != nil {
					slog.Warn("Router failed to store receipt", "error", err, "to", rc.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the consumers started by Start have stopped and every
// in-flight message has been handled. Cancel Start's context first.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Handle runs msg through the stages. It never returns an error: failures
// are logged and degrade to a reply that lets the user go on.
func (r *Router) Handle(ctx context.Context, msg models.Response) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Router.Handle panic recovered", "panic", fmt.Sprint(p), "chat_id", msg.From)
			r.metrics.RecordError("router", "panic")
		}
	}()

	in := &inbound{msg: msg, text: strings.TrimSpace(msg.Body), at: r.cfg.Now()}
	if msg.From == "" || in.text == "" {
		slog.Debug("Router ignoring empty message", "chat_id", msg.From)
		return
	}
	slog.Debug("Router handling message", "chat_id", msg.From, "message_id", msg.ID, "from_me", msg.FromMe, "length", len(in.text))

	if name, ok := r.run(ctx, in, r.unlocked); ok {
		r.metrics.RecordMessage(name, time.Since(started).Seconds())
		return
	}

	chatID := msg.From
	if !r.registry.TryLock(chatID) {
		slog.Debug("Router dropping message, chat busy", "chat_id", chatID)
		r.metrics.RecordDrop("busy")
		return
	}
	defer r.registry.Unlock(chatID)
	defer r.markProcessed(msg.ID)

	if name, ok := r.run(ctx, in, r.locked); ok {
		r.metrics.RecordMessage(name, time.Since(started).Seconds())
		return
	}

	in.s = r.acquire(ctx, chatID)
	r.logTurn(ctx, in.s, models.TurnRoleUser, in.text)

	name, _ := r.run(ctx, in, r.attended)
	r.metrics.RecordMessage(name, time.Since(started).Seconds())

	if r.live(in.s) && !in.s.HumanAttended() {
		r.ArmInactivity(in.s)
	}
}

func (r *Router) run(ctx context.Context, in *inbound, stages []stage) (string, bool) {
	for _, st := range stages {
		if st.run(ctx, in) {
			slog.Debug("Router stage handled message", "stage", st.name, "chat_id", in.msg.From)
			return st.name, true
		}
	}
	return "", false
}

// acquire returns the chat's session, opening its conversation log when new.
func (r *Router) acquire(ctx context.Context, chatID string) *session.Session {
	s, created := r.registry.GetOrCreate(chatID)
	if created {
		if err := r.store.StartConversation(ctx, s.ConversationID, chatID, s.StartedAt); err != nil {
			slog.Warn("Router failed to start conversation log", "error", err, "chat_id", chatID)
		}
		r.metrics.SetSessions(r.registry.Len())
	}
	return s
}

// live reports whether s is still the registered session of its chat.
func (r *Router) live(s *session.Session) bool {
	cur, ok := r.registry.Get(s.ChatID)
	return ok && cur == s
}

func (r *Router) markProcessed(id string) {
	if id == "" {
		return
	}
	if err := r.store.MarkProcessed(id); err != nil {
		slog.Warn("Router failed to mark message processed", "error", err, "message_id", id)
	}
}

// ArmInactivity restarts the session's inactivity countdown with callbacks
// for its current flow.
func (r *Router) ArmInactivity(s *session.Session) {
	s.Timer.Arm(r.callbacksFor(s))
}

// EndSession removes the session from the registry and archives it.
func (r *Router) EndSession(ctx context.Context, s *session.Session, reason models.EndReason) {
	if !r.live(s) {
		return
	}
	if err := r.registry.End(ctx, s.ChatID, reason); err != nil {
		slog.Warn("Router.EndSession failed", "error", err, "chat_id", s.ChatID)
		return
	}
	r.metrics.RecordSessionEnd(string(reason))
	r.metrics.SetSessions(r.registry.Len())
}

// EndChat ends the session of chatID on behalf of an operator. It waits for
// an in-flight message of the chat to finish first.
func (r *Router) EndChat(ctx context.Context, chatID string) error {
	if err := r.registry.LockWait(ctx, chatID); err != nil {
		return err
	}
	defer r.registry.Unlock(chatID)
	s, ok := r.registry.Get(chatID)
	if !ok {
		return session.ErrSessionNotFound
	}
	slog.Info("Router ending chat on request", "chat_id", chatID)
	r.EndSession(ctx, s, models.EndReasonSystem)
	return nil
}

// StartSurvey starts the satisfaction survey and resumes the timer for it.
func (r *Router) StartSurvey(ctx context.Context, s *session.Session) {
	r.survey.Start(ctx, s)
	s.Timer.Resume(r.callbacksFor(s))
}
