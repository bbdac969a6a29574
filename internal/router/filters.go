package router

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultDedupeWindow is how long an identical (chat, text) pair is suppressed.
	DefaultDedupeWindow = 5 * time.Second
	// DefaultDedupeCapacity bounds the duplicate cache.
	DefaultDedupeCapacity = 5000
	// DefaultOriginCapacity bounds each id set of the origin tracker.
	DefaultOriginCapacity = 1000
)

// DuplicateCache remembers recently seen (chat, text) pairs so transport
// redeliveries are processed once. Entries expire from the cache after the
// window of wall time; the window is also checked against the message time.
type DuplicateCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   *expirable.LRU[string, time.Time]
}

// NewDuplicateCache creates a cache suppressing repeats within window.
func NewDuplicateCache(window time.Duration, capacity int) *DuplicateCache {
	return &DuplicateCache{window: window, seen: expirable.NewLRU[string, time.Time](capacity, nil, window)}
}

// Observe reports whether text from chatID was already seen within the
// window before at. A pair that is not a duplicate is recorded.
func (d *DuplicateCache) Observe(chatID, text string, at time.Time) bool {
	key := chatID + "\x00" + text
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.seen.Peek(key); ok && at.Sub(t) < d.window {
		return true
	}
	d.seen.Add(key, at)
	return false
}

// Len returns the number of remembered pairs.
func (d *DuplicateCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Len()
}

// Origin is the most likely author of a message.
type Origin string

const (
	OriginBot         Origin = "bot"
	OriginHuman       Origin = "human"
	OriginLikelyBot   Origin = "likely-bot"
	OriginLikelyHuman Origin = "likely-human"
	OriginUnknown     Origin = "unknown"
)

// OriginStats counts tracked and unidentified messages.
type OriginStats struct {
	BotMessages          int `json:"bot_messages"`
	HumanMessages        int `json:"human_messages"`
	UnidentifiedMessages int `json:"unidentified_messages"`
	TrackedBotMessages   int `json:"tracked_bot_messages"`
	TrackedHumanMessages int `json:"tracked_human_messages"`
}

// OriginTracker remembers the ids of messages the bot sent and of messages
// seen from people, each in a bounded set.
type OriginTracker struct {
	mu    sync.Mutex
	bot   *lru.Cache[string, struct{}]
	human *lru.Cache[string, struct{}]
	stats OriginStats
}

// NewOriginTracker creates a tracker keeping at most capacity ids per set.
// A capacity below one is raised to DefaultOriginCapacity.
func NewOriginTracker(capacity int) *OriginTracker {
	if capacity < 1 {
		capacity = DefaultOriginCapacity
	}
	// lru.New only fails for a non-positive size.
	bot, _ := lru.New[string, struct{}](capacity)
	human, _ := lru.New[string, struct{}](capacity)
	return &OriginTracker{bot: bot, human: human}
}

// TrackBot records id as sent by the bot.
func (o *OriginTracker) TrackBot(id string) {
	if id == "" {
		return
	}
	o.bot.Add(id, struct{}{})
	o.mu.Lock()
	o.stats.BotMessages++
	o.mu.Unlock()
	slog.Debug("OriginTracker bot message tracked", "message_id", id)
}

// TrackHuman records id as written by a person.
func (o *OriginTracker) TrackHuman(id string) {
	if id == "" {
		return
	}
	o.human.Add(id, struct{}{})
	o.mu.Lock()
	o.stats.HumanMessages++
	o.mu.Unlock()
}

// Classify returns the origin of a message given its transport id and
// whether the transport flagged it as sent by the connected account.
func (o *OriginTracker) Classify(id string, fromMe bool) Origin {
	if id == "" {
		o.mu.Lock()
		o.stats.UnidentifiedMessages++
		o.mu.Unlock()
		if fromMe {
			return OriginLikelyBot
		}
		return OriginUnknown
	}
	if o.bot.Contains(id) {
		return OriginBot
	}
	if o.human.Contains(id) {
		return OriginHuman
	}
	if fromMe {
		return OriginLikelyBot
	}
	return OriginLikelyHuman
}

// Stats returns a copy of the counters.
func (o *OriginTracker) Stats() OriginStats {
	o.mu.Lock()
	st := o.stats
	o.mu.Unlock()
	st.TrackedBotMessages = o.bot.Len()
	st.TrackedHumanMessages = o.human.Len()
	return st
}
