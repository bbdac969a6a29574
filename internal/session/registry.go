package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

const (
	// DefaultSweepInterval is how often the registry looks for idle sessions.
	DefaultSweepInterval = 30 * time.Second
	// DefaultStaleLockAfter is the age after which a held lock is reported.
	DefaultStaleLockAfter = 2 * time.Minute
	// DefaultLockWait bounds LockWait.
	DefaultLockWait = 3 * time.Second
	// DefaultArchiveTimeout bounds persistence on End.
	DefaultArchiveTimeout = 10 * time.Second
)

var (
	// ErrSessionNotFound is returned when no session exists for a chat id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrChatBusy is returned by LockWait when the lock could not be taken in time.
	ErrChatBusy = errors.New("chat is being processed")
)

// Archiver persists what is left of a session when it ends.
type Archiver interface {
	SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error
	EndConversation(ctx context.Context, end models.ConversationEnd) error
}

// Opts holds registry configuration.
type Opts struct {
	Archiver       Archiver
	WarningAfter   time.Duration
	EndAfter       time.Duration
	HistoryLimit   int
	SweepInterval  time.Duration
	StaleLockAfter time.Duration
	LockWait       time.Duration
	BusyRetry      time.Duration
}

// Option configures a Registry.
type Option func(*Opts)

// WithArchiver sets where ended sessions are persisted.
func WithArchiver(a Archiver) Option {
	return func(o *Opts) { o.Archiver = a }
}

// WithTimeouts sets the warning and termination periods of new sessions.
func WithTimeouts(warningAfter, endAfter time.Duration) Option {
	return func(o *Opts) {
		o.WarningAfter = warningAfter
		o.EndAfter = endAfter
	}
}

// WithHistoryLimit sets the number of turns kept per session.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

// WithSweepInterval sets how often idle sessions are inspected.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithBusyRetry sets how long a timer fire that found its chat busy waits
// before retrying.
func WithBusyRetry(d time.Duration) Option {
	return func(o *Opts) { o.BusyRetry = d }
}

// WithLockWait bounds how long LockWait retries.
func WithLockWait(d time.Duration) Option {
	return func(o *Opts) { o.LockWait = d }
}

// Summary is a read-only view of a session for diagnostics.
type Summary struct {
	ChatID         string    `json:"chat_id"`
	ConversationID string    `json:"conversation_id"`
	Flow           Flow      `json:"flow"`
	MenuID         string    `json:"menu_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
	SurveyActive   bool      `json:"survey_active"`
	Transferred    bool      `json:"transferred"`
	Waiting        bool      `json:"waiting_for_human"`
	Busy           bool      `json:"busy"`
}

// Registry maps chat ids to sessions and holds the per-chat processing lock.
// A chat is locked while an entry exists in locks; overlapping messages are
// dropped by their callers, not queued. Ending a session frees its lock for
// the next conversation while the ending holder is still running; orphaned
// counts those holders so their later Unlock does not free a newer holder.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]time.Time
	orphaned map[string]int
	opts     Opts
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := Opts{
		WarningAfter:   DefaultWarningAfter,
		EndAfter:       DefaultEndAfter,
		HistoryLimit:   DefaultHistoryLimit,
		SweepInterval:  DefaultSweepInterval,
		StaleLockAfter: DefaultStaleLockAfter,
		LockWait:       DefaultLockWait,
		BusyRetry:      DefaultBusyRetry,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		locks:    make(map[string]time.Time),
		orphaned: make(map[string]int),
		opts:     cfg,
	}
}

// GetOrCreate returns the session for chatID, creating it when unseen.
// created reports whether a new session was allocated.
func (r *Registry) GetOrCreate(chatID string) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[chatID]; ok {
		return s, false
	}
	s = New(chatID,
		WithWarningAfter(r.opts.WarningAfter),
		WithEndAfter(r.opts.EndAfter),
		WithTimerBusyRetry(r.opts.BusyRetry),
		WithDispatcher(r),
	)
	if r.opts.HistoryLimit > 0 {
		s.historyLimit = r.opts.HistoryLimit
	}
	r.sessions[chatID] = s
	slog.Debug("Registry created session", "chat_id", chatID, "conversation_id", s.ConversationID)
	return s, true
}

// Get returns the session for chatID if present.
func (r *Registry) Get(chatID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TryLock marks chatID as being processed. It returns false if it already is.
func (r *Registry) TryLock(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.locks[chatID]; held {
		return false
	}
	r.locks[chatID] = time.Now()
	return true
}

// Unlock releases the processing lock for chatID. The Unlock of a holder
// whose session was ended meanwhile only settles its orphaned count.
func (r *Registry) Unlock(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.orphaned[chatID]; n > 0 {
		if n == 1 {
			delete(r.orphaned, chatID)
		} else {
			r.orphaned[chatID] = n - 1
		}
		return
	}
	delete(r.locks, chatID)
}

// LockWait retries TryLock with backoff until it succeeds, ctx is done or
// the configured wait elapses.
func (r *Registry) LockWait(ctx context.Context, chatID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = r.opts.LockWait

	err := backoff.Retry(func() error {
		if r.TryLock(chatID) {
			return nil
		}
		return ErrChatBusy
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("lock chat %s: %w", chatID, err)
	}
	return nil
}

// Dispatch runs a timer fire for chatID under its processing lock. It
// returns false without running fn when a message is in flight; the timer
// then retries the fire. A chat without a session counts as dispatched.
func (r *Registry) Dispatch(chatID string, fn func()) bool {
	if !r.TryLock(chatID) {
		slog.Debug("Registry.Dispatch deferred, chat busy", "chat_id", chatID)
		return false
	}
	defer r.Unlock(chatID)
	if _, ok := r.Get(chatID); !ok {
		return true
	}
	fn()
	return true
}

// End cancels the session's timers, archives it and removes it. A held lock
// is handed over: the next message may start a new session at once, and the
// current holder's Unlock is absorbed. Archive failures are logged and not
// returned.
func (r *Registry) End(ctx context.Context, chatID string, reason models.EndReason) error {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	if ok {
		delete(r.sessions, chatID)
		if _, held := r.locks[chatID]; held {
			delete(r.locks, chatID)
			r.orphaned[chatID]++
		}
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Timer.CancelAll()

	slog.Info("Registry ending session", "chat_id", chatID, "reason", reason, "messages", s.MessageCount)
	if r.opts.Archiver == nil {
		return nil
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultArchiveTimeout)
	defer cancel()

	snap := s.Snapshot(reason)
	if err := r.opts.Archiver.SaveSessionSnapshot(actx, snap); err != nil {
		slog.Error("Registry.End failed to save snapshot", "error", err, "chat_id", chatID)
	}
	end := models.ConversationEnd{
		ConversationID:  s.ConversationID,
		EndedBy:         reason,
		SurveyCompleted: reason == models.EndReasonSurveyCompleted,
		HumanTransfer:   snap.HumanTransfer,
		EndTime:         time.Now(),
	}
	if err := r.opts.Archiver.EndConversation(actx, end); err != nil {
		slog.Error("Registry.End failed to close conversation log", "error", err, "chat_id", chatID)
	}
	return nil
}

// EndAll ends every live session, used on shutdown.
func (r *Registry) EndAll(ctx context.Context, reason models.EndReason) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.End(ctx, id, reason)
	}
}

// Summaries lists live sessions. Sessions that are locked only report their
// id and Busy, since their state is being mutated.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.sessions))
	for id, s := range r.sessions {
		if _, busy := r.locks[id]; busy {
			out = append(out, Summary{ChatID: id, Busy: true})
			continue
		}
		out = append(out, Summary{
			ChatID:         id,
			ConversationID: s.ConversationID,
			Flow:           s.CurrentFlow,
			MenuID:         s.Menu.CurrentMenuID,
			StartedAt:      s.StartedAt,
			LastActivityAt: s.LastActivityAt,
			MessageCount:   s.MessageCount,
			SurveyActive:   s.Survey.Active,
			Transferred:    s.Handoff.Transferred,
			Waiting:        s.Handoff.WaitingForHuman,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Start runs the sweeper until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Registry sweeper stopped")
				return
			case now := <-ticker.C:
				r.sweep(now)
			}
		}
	}()
}

// sweep flags idle sessions that have no pending timer as inactive, so the
// next message asks whether to continue, and reports stale locks.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if since, busy := r.locks[id]; busy {
			if now.Sub(since) > r.opts.StaleLockAfter {
				slog.Warn("Registry lock held for a long time", "chat_id", id, "held_for", now.Sub(since))
			}
			continue
		}
		if s.Inactive || s.Abandoned || s.Handoff.Transferred || s.Survey.Active {
			continue
		}
		if now.Sub(s.LastActivityAt) < r.opts.WarningAfter {
			continue
		}
		if w, e := s.Timer.Pending(); w || e || s.Timer.Paused() {
			continue
		}
		s.Inactive = true
		slog.Debug("Registry marked session inactive", "chat_id", id, "idle_for", now.Sub(s.LastActivityAt))
	}
}
