package session

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWarningAfter is the quiet period before the inactivity warning.
	DefaultWarningAfter = 2 * time.Minute
	// DefaultEndAfter is the period between the warning and session termination.
	DefaultEndAfter = 2 * time.Minute
	// DefaultBusyRetry is how long a fire that found its chat busy waits
	// before trying again.
	DefaultBusyRetry = time.Second
)

// Callbacks are invoked by the Timer when a stage fires. They receive the
// owning session so they never need to capture it.
type Callbacks struct {
	OnWarning func(s *Session)
	OnEnd     func(s *Session)
	// EndAfter overrides the termination delay for this arming. Zero uses the default.
	EndAfter time.Duration
}

// Dispatcher runs a timer fire for a chat. The Registry implements it so
// fires are serialized with message handling. Dispatch returns false when
// the chat was busy and fn did not run.
type Dispatcher interface {
	Dispatch(chatID string, fn func()) bool
}

// TimerOpts holds timer configuration.
type TimerOpts struct {
	WarningAfter time.Duration
	EndAfter     time.Duration
	BusyRetry    time.Duration
	Dispatcher   Dispatcher
}

// TimerOption configures a Timer.
type TimerOption func(*TimerOpts)

// WithWarningAfter sets the quiet period before the warning.
func WithWarningAfter(d time.Duration) TimerOption {
	return func(o *TimerOpts) { o.WarningAfter = d }
}

// WithEndAfter sets the default period between warning and termination.
func WithEndAfter(d time.Duration) TimerOption {
	return func(o *TimerOpts) { o.EndAfter = d }
}

// WithTimerBusyRetry sets how long a fire skipped behind a busy chat waits
// before retrying.
func WithTimerBusyRetry(d time.Duration) TimerOption {
	return func(o *TimerOpts) { o.BusyRetry = d }
}

// WithDispatcher routes timer fires through d.
func WithDispatcher(d Dispatcher) TimerOption {
	return func(o *TimerOpts) { o.Dispatcher = d }
}

// Timer is the per-session two-stage inactivity timer: a warning after a
// quiet period, then termination unless the session is re-armed first.
// At most one warning and one termination are ever outstanding.
type Timer struct {
	mu         sync.Mutex
	owner      *Session
	dispatcher Dispatcher

	warningAfter time.Duration
	endAfter     time.Duration
	busyRetry    time.Duration

	warning     *time.Timer
	termination *time.Timer
	generation  uint64

	paused    bool
	warned    bool
	callbacks Callbacks
}

func newTimer(owner *Session, opts ...TimerOption) *Timer {
	cfg := TimerOpts{WarningAfter: DefaultWarningAfter, EndAfter: DefaultEndAfter, BusyRetry: DefaultBusyRetry}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Timer{
		owner:        owner,
		dispatcher:   cfg.Dispatcher,
		warningAfter: cfg.WarningAfter,
		endAfter:     cfg.EndAfter,
		busyRetry:    cfg.BusyRetry,
	}
}

// Arm cancels outstanding fires and schedules a fresh warning, unless the
// timer is paused or the session is attended by a human. The callbacks are
// kept for Rearm.
func (t *Timer) Arm(cb Callbacks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = cb
	t.armLocked()
}

// Rearm restarts the countdown with the callbacks of the last Arm.
func (t *Timer) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armLocked()
}

func (t *Timer) armLocked() {
	t.cancelLocked()
	t.warned = false
	if t.paused {
		slog.Debug("Timer.Arm skipped, timer paused", "chat_id", t.owner.ChatID)
		return
	}
	if t.owner.Handoff.Transferred {
		slog.Debug("Timer.Arm skipped, session transferred", "chat_id", t.owner.ChatID)
		return
	}
	gen := t.generation
	t.warning = time.AfterFunc(t.warningAfter, func() {
		t.dispatch(gen, &t.warning, t.fireWarning)
	})
	slog.Debug("Timer armed", "chat_id", t.owner.ChatID, "warning_after", t.warningAfter)
}

// Pause cancels both stages and keeps the timer from arming until Resume.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.paused = true
	slog.Debug("Timer paused", "chat_id", t.owner.ChatID)
}

// Resume clears the paused flag and arms from zero with cb.
func (t *Timer) Resume(cb Callbacks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	t.callbacks = cb
	t.armLocked()
}

// CancelAll stops both stages. It is safe to call repeatedly.
func (t *Timer) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// cancelLocked stops the timers and bumps the generation so a fire already
// queued behind the chat lock becomes a no-op.
func (t *Timer) cancelLocked() {
	if t.warning != nil {
		t.warning.Stop()
		t.warning = nil
	}
	if t.termination != nil {
		t.termination.Stop()
		t.termination = nil
	}
	t.generation++
}

// Paused reports whether the timer is paused.
func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Warned reports whether the warning stage fired since the last arming.
func (t *Timer) Warned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warned
}

// Pending reports which stages are currently scheduled.
func (t *Timer) Pending() (warning, termination bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warning != nil, t.termination != nil
}

// dispatch runs fire for the stage whose handle is at slot. A fire that
// found the chat busy is rescheduled into the same slot unless the stage
// was re-armed or cancelled meanwhile, so a message that leaves without
// re-arming cannot strand the stage.
func (t *Timer) dispatch(gen uint64, slot **time.Timer, fire func(uint64)) {
	run := func() { fire(gen) }
	if t.dispatcher == nil {
		run()
		return
	}
	if t.dispatcher.Dispatch(t.owner.ChatID, run) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation || *slot == nil {
		return
	}
	*slot = time.AfterFunc(t.busyRetry, func() {
		t.dispatch(gen, slot, fire)
	})
	slog.Debug("Timer fire deferred, chat busy", "chat_id", t.owner.ChatID, "retry_in", t.busyRetry)
}

func (t *Timer) fireWarning(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.warning == nil {
		t.mu.Unlock()
		return
	}
	t.warning = nil
	if t.paused || t.owner.Handoff.Transferred {
		t.mu.Unlock()
		return
	}
	cb := t.callbacks
	t.mu.Unlock()

	slog.Info("Timer warning fired", "chat_id", t.owner.ChatID)
	if cb.OnWarning != nil {
		cb.OnWarning(t.owner)
	}
	t.owner.MarkAbandoned()

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		// the callback re-armed or cancelled
		return
	}
	t.warned = true
	endAfter := cb.EndAfter
	if endAfter <= 0 {
		endAfter = t.endAfter
	}
	t.termination = time.AfterFunc(endAfter, func() {
		t.dispatch(gen, &t.termination, t.fireEnd)
	})
}

func (t *Timer) fireEnd(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.termination == nil {
		t.mu.Unlock()
		return
	}
	t.termination = nil
	if t.paused || t.owner.Handoff.Transferred {
		t.mu.Unlock()
		return
	}
	cb := t.callbacks
	t.mu.Unlock()

	slog.Info("Timer termination fired", "chat_id", t.owner.ChatID)
	if cb.OnEnd != nil {
		cb.OnEnd(t.owner)
	}
}
