package forumclient

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// Emitter delivers an outbound event over the realtime connection.
type Emitter func(event realtime.Event) error

// GroupChannel is the shared chat room of one course. Messages are rendered in arrival
// order only; the sender's own message appears once the server echoes it back.
type GroupChannel struct {
	courseID string
	self     realtime.UserRef
	emit     Emitter
	clock    Clock
	logger   zerolog.Logger
	messages []realtime.GroupMessage
	typing   *TypingSet
	typer    *typingDebouncer
}

// NewGroupChannel creates the channel for a course.
func NewGroupChannel(courseID string, self realtime.UserRef, emit Emitter, clock Clock, logger zerolog.Logger) *GroupChannel {
	g := &GroupChannel{
		courseID: courseID,
		self:     self,
		emit:     emit,
		clock:    clock,
		logger:   logger.With().Str("component", "group_chat").Logger(),
		typing:   NewTypingSet(clock, TypingIndicatorTTL),
	}
	g.typer = newTypingDebouncer(clock, TypingIdleTimeout, func() {
		g.sendTyping(realtime.TypingStart{TypingPayload: g.typingPayload()})
	}, func() {
		g.sendTyping(realtime.TypingStop{TypingPayload: g.typingPayload()})
	})
	return g
}

// Post sends text to the course room. Blank text is rejected before anything is emitted.
func (g *GroupChannel) Post(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	g.typer.Stop()

	return g.emit(realtime.SendChatMessage{
		CourseID: g.courseID,
		Message:  text,
		Type:     realtime.MessageKindText,
	})
}

// Receive appends an inbound message.
func (g *GroupChannel) Receive(message realtime.GroupMessage) {
	if message.Kind == "" {
		message.Kind = realtime.MessageKindText
	}
	if message.User != nil {
		g.typing.Stop(message.User.ID)
	}
	g.messages = append(g.messages, message)
}

// Notice appends a locally synthesised system message.
func (g *GroupChannel) Notice(text string, at time.Time) {
	if at.IsZero() {
		at = g.clock.Now()
	}
	g.messages = append(g.messages, realtime.GroupMessage{
		ID:     uuid.NewString(),
		Kind:   realtime.MessageKindSystem,
		Text:   text,
		SentAt: at,
	})
}

// Keystroke signals local typing activity.
func (g *GroupChannel) Keystroke() {
	g.typer.Keystroke()
}

// StopTyping ends the current burst immediately.
func (g *GroupChannel) StopTyping() {
	g.typer.Stop()
}

// ApplyTyping folds a remote typing event scoped to this course.
func (g *GroupChannel) ApplyTyping(event realtime.UserTyping) {
	if event.UserID == g.self.ID {
		return
	}
	if event.Scope != "" && event.Scope != realtime.ScopeCourse {
		return
	}
	if event.RoomID != "" && event.RoomID != g.courseID {
		return
	}
	g.typing.Apply(event)
}

// Messages returns a copy of the transcript.
func (g *GroupChannel) Messages() []realtime.GroupMessage {
	return append([]realtime.GroupMessage(nil), g.messages...)
}

// Typing lists remote users currently typing.
func (g *GroupChannel) Typing() []TypingIndicator {
	return g.typing.Active()
}

// Close drops pending timers without emitting.
func (g *GroupChannel) Close() {
	g.typer.Cancel()
	g.typing.Clear()
}

func (g *GroupChannel) typingPayload() realtime.TypingPayload {
	return realtime.TypingPayload{RoomID: g.courseID, Type: realtime.ScopeCourse}
}

func (g *GroupChannel) sendTyping(event realtime.Event) {
	if err := g.emit(event); err != nil {
		g.logger.Debug().Err(err).Str("event", string(event.Name())).Msg("typing signal not delivered")
	}
}
