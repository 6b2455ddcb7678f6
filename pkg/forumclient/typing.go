package forumclient

import (
	"sort"
	"time"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const (
	// TypingIdleTimeout is the keystroke silence after which typing-stop is emitted.
	TypingIdleTimeout = 1000 * time.Millisecond
	// TypingIndicatorTTL expires a remote typing indicator that never received its stop.
	TypingIndicatorTTL = 5 * time.Second
)

// typingDebouncer emits start on the first keystroke of a burst and a single stop once
// the channel has been idle for the configured timeout. One debouncer exists per channel.
type typingDebouncer struct {
	clock      Clock
	idle       time.Duration
	timer      Timer
	generation uint64
	typing     bool
	onStart    func()
	onStop     func()
}

func newTypingDebouncer(clock Clock, idle time.Duration, onStart, onStop func()) *typingDebouncer {
	if idle <= 0 {
		idle = TypingIdleTimeout
	}
	return &typingDebouncer{clock: clock, idle: idle, onStart: onStart, onStop: onStop}
}

// Keystroke registers activity and restarts the idle timer.
func (d *typingDebouncer) Keystroke() {
	if !d.typing {
		d.typing = true
		d.onStart()
	}
	d.arm()
}

// Stop ends the burst immediately, emitting stop if a burst was in progress.
func (d *typingDebouncer) Stop() {
	d.disarm()
	if d.typing {
		d.typing = false
		d.onStop()
	}
}

// Cancel drops any pending timer without emitting anything.
func (d *typingDebouncer) Cancel() {
	d.disarm()
	d.typing = false
}

// Typing reports whether a burst is in progress.
func (d *typingDebouncer) Typing() bool {
	return d.typing
}

func (d *typingDebouncer) arm() {
	d.disarm()
	generation := d.generation
	d.timer = d.clock.AfterFunc(d.idle, func() {
		d.expire(generation)
	})
}

func (d *typingDebouncer) disarm() {
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *typingDebouncer) expire(generation uint64) {
	// A callback already queued when the timer was re-armed carries a stale generation.
	if generation != d.generation {
		return
	}
	d.timer = nil
	if d.typing {
		d.typing = false
		d.onStop()
	}
}

// TypingIndicator is a remote user currently typing.
type TypingIndicator struct {
	User      realtime.UserRef
	StartedAt time.Time
}

type typingEntry struct {
	indicator  TypingIndicator
	timer      Timer
	generation uint64
}

// TypingSet tracks remote typing indicators keyed by user id. Entries expire after a TTL
// so a peer that vanished mid-burst does not leave a stale indicator behind.
type TypingSet struct {
	clock      Clock
	ttl        time.Duration
	entries    map[string]*typingEntry
	generation uint64
}

// NewTypingSet creates an empty indicator set.
func NewTypingSet(clock Clock, ttl time.Duration) *TypingSet {
	if ttl <= 0 {
		ttl = TypingIndicatorTTL
	}
	return &TypingSet{clock: clock, ttl: ttl, entries: make(map[string]*typingEntry)}
}

// Start adds or refreshes an indicator.
func (s *TypingSet) Start(user realtime.UserRef) {
	entry, ok := s.entries[user.ID]
	if !ok {
		entry = &typingEntry{indicator: TypingIndicator{User: user, StartedAt: s.clock.Now()}}
		s.entries[user.ID] = entry
	} else if entry.timer != nil {
		entry.timer.Stop()
	}

	s.generation++
	entry.generation = s.generation
	userID, generation := user.ID, entry.generation
	entry.timer = s.clock.AfterFunc(s.ttl, func() {
		s.expire(userID, generation)
	})
}

// Stop removes an indicator.
func (s *TypingSet) Stop(userID string) {
	entry, ok := s.entries[userID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, userID)
}

// Apply folds a user-typing event into the set.
func (s *TypingSet) Apply(event realtime.UserTyping) {
	switch event.Type {
	case realtime.TypingStarted:
		s.Start(realtime.UserRef{ID: event.UserID, Name: event.UserName})
	case realtime.TypingStopped:
		s.Stop(event.UserID)
	}
}

// Active lists the current indicators ordered by start time.
func (s *TypingSet) Active() []TypingIndicator {
	out := make([]TypingIndicator, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.indicator)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].User.ID < out[j].User.ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Clear drops every indicator and pending expiry.
func (s *TypingSet) Clear() {
	for id := range s.entries {
		s.Stop(id)
	}
}

func (s *TypingSet) expire(userID string, generation uint64) {
	entry, ok := s.entries[userID]
	if !ok || entry.generation != generation {
		return
	}
	delete(s.entries, userID)
}
