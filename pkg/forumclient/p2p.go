package forumclient

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// DefaultP2PHistoryLimit bounds the messages retained per private room.
const DefaultP2PHistoryLimit = 200

// SessionState is the lifecycle position of an unordered pair of users.
type SessionState int

// Pair states. Declining returns the pair to SessionNone.
const (
	SessionNone SessionState = iota
	SessionInvited
	SessionAccepted
)

func (s SessionState) String() string {
	switch s {
	case SessionInvited:
		return "invited"
	case SessionAccepted:
		return "accepted"
	default:
		return "none"
	}
}

// P2PInvitation is an incoming invitation waiting for accept or decline.
type P2PInvitation struct {
	RoomID     string
	From       realtime.UserRef
	ToUserID   string
	Message    string
	ReceivedAt time.Time
}

// P2PSession is a private conversation known to this client.
type P2PSession struct {
	RoomID    string
	Peer      realtime.UserRef
	State     SessionState
	Outgoing  bool
	StartedAt time.Time
}

type messageHistory struct {
	limit int
	items []realtime.P2PMessage
}

func (h *messageHistory) add(message realtime.P2PMessage) {
	if len(h.items) >= h.limit {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, message)
}

type p2pRoom struct {
	session *P2PSession
	history *messageHistory
	typer   *typingDebouncer
	typing  *TypingSet
}

// P2PManager coordinates private chats: invitation lifecycle, pairwise rooms and the
// single session currently displayed. Rooms that are not displayed stay live and keep
// accumulating messages.
type P2PManager struct {
	self         realtime.UserRef
	emit         Emitter
	clock        Clock
	logger       zerolog.Logger
	historyLimit int

	invitations map[string]P2PInvitation
	rooms       map[string]*p2pRoom
	active      string
}

// NewP2PManager creates a manager for the authenticated user.
func NewP2PManager(self realtime.UserRef, emit Emitter, clock Clock, historyLimit int, logger zerolog.Logger) *P2PManager {
	if historyLimit <= 0 {
		historyLimit = DefaultP2PHistoryLimit
	}
	return &P2PManager{
		self:         self,
		emit:         emit,
		clock:        clock,
		logger:       logger.With().Str("component", "p2p").Logger(),
		historyLimit: historyLimit,
		invitations:  make(map[string]P2PInvitation),
		rooms:        make(map[string]*p2pRoom),
	}
}

// Initiate invites target into the shared private room and immediately makes it the
// active session for the inviter, without waiting for the peer to accept.
func (m *P2PManager) Initiate(target realtime.UserRef, message string) (string, error) {
	if target.ID == "" || target.ID == m.self.ID {
		return "", ErrSelfInvite
	}

	roomID := realtime.RoomID(m.self.ID, target.ID)

	// The peer invited us first; accepting resolves both invitations.
	if _, pending := m.invitations[roomID]; pending {
		return roomID, m.Accept(roomID)
	}

	if room, ok := m.rooms[roomID]; ok && room.session.State == SessionAccepted {
		m.active = roomID
		return roomID, nil
	}

	if err := m.emit(realtime.InitiateP2PChat{
		TargetUserID: target.ID,
		RoomID:       roomID,
		Message:      strings.TrimSpace(message),
	}); err != nil {
		return "", err
	}

	room := m.open(roomID)
	room.session.Peer = target
	room.session.State = SessionInvited
	room.session.Outgoing = true
	m.active = roomID

	m.logger.Debug().Str("room_id", roomID).Str("target_id", target.ID).Msg("private chat initiated")
	return roomID, nil
}

// HandleRequest records an incoming invitation. Only one invitation per pair is kept;
// a newer one replaces the older. If this client already opened the same room, the
// invitation is accepted straight away. It reports whether that happened.
func (m *P2PManager) HandleRequest(request realtime.P2PChatRequest) bool {
	if request.From == "" || request.From == m.self.ID {
		return false
	}

	expected := realtime.RoomID(m.self.ID, request.From)
	if request.RoomID != expected {
		m.logger.Warn().Str("room_id", request.RoomID).Str("from", request.From).Msg("ignoring invitation for foreign room")
		return false
	}

	if room, ok := m.rooms[request.RoomID]; ok && room.session.State != SessionNone {
		if err := m.emit(realtime.AcceptP2PChat{P2PResolution: realtime.P2PResolution{
			RoomID:     request.RoomID,
			FromUserID: request.From,
		}}); err != nil {
			m.logger.Warn().Err(err).Str("room_id", request.RoomID).Msg("failed to auto-accept invitation")
			return false
		}
		room.session.Peer = request.Inviter()
		room.session.State = SessionAccepted
		return true
	}

	m.invitations[request.RoomID] = P2PInvitation{
		RoomID:     request.RoomID,
		From:       request.Inviter(),
		ToUserID:   m.self.ID,
		Message:    request.Message,
		ReceivedAt: m.clock.Now(),
	}
	return false
}

// Accept accepts a pending invitation and makes its room the active session.
func (m *P2PManager) Accept(roomID string) error {
	invitation, ok := m.invitations[roomID]
	if !ok {
		return ErrNoInvitation
	}

	if err := m.emit(realtime.AcceptP2PChat{P2PResolution: realtime.P2PResolution{
		RoomID:     roomID,
		FromUserID: invitation.From.ID,
	}}); err != nil {
		return err
	}

	delete(m.invitations, roomID)
	room := m.open(roomID)
	room.session.Peer = invitation.From
	room.session.State = SessionAccepted
	room.session.Outgoing = false
	m.active = roomID
	return nil
}

// Decline rejects a pending invitation. No session is created and anything the peer
// sent meanwhile is dropped.
func (m *P2PManager) Decline(roomID string) error {
	invitation, ok := m.invitations[roomID]
	if !ok {
		return ErrNoInvitation
	}

	if err := m.emit(realtime.DeclineP2PChat{P2PResolution: realtime.P2PResolution{
		RoomID:     roomID,
		FromUserID: invitation.From.ID,
	}}); err != nil {
		return err
	}

	delete(m.invitations, roomID)
	m.discard(roomID)
	return nil
}

// HandleAccepted marks an outgoing invitation as accepted by the peer.
func (m *P2PManager) HandleAccepted(outcome realtime.P2POutcome) {
	room, ok := m.rooms[outcome.RoomID]
	if !ok {
		return
	}
	if outcome.By.ID != "" {
		room.session.Peer = outcome.By
	}
	room.session.State = SessionAccepted
}

// HandleDeclined drops an outgoing session the peer declined, with its history.
func (m *P2PManager) HandleDeclined(outcome realtime.P2POutcome) {
	room, ok := m.rooms[outcome.RoomID]
	if !ok || room.session.State == SessionNone {
		return
	}
	m.discard(outcome.RoomID)
}

// Activate displays an existing session.
func (m *P2PManager) Activate(roomID string) error {
	room, ok := m.rooms[roomID]
	if !ok || room.session.State == SessionNone {
		return ErrUnknownSession
	}
	m.active = roomID
	return nil
}

// Deactivate hides the active session without closing it.
func (m *P2PManager) Deactivate() {
	if room, ok := m.rooms[m.active]; ok {
		room.typer.Stop()
	}
	m.active = ""
}

// Send posts text into the active session.
func (m *P2PManager) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	room, ok := m.rooms[m.active]
	if !ok {
		return ErrNoActiveSession
	}

	room.typer.Stop()

	return m.emit(realtime.SendP2PMessage{
		RoomID:  m.active,
		Message: text,
		Type:    realtime.MessageKindText,
	})
}

// Receive stores a private message in its room, whether or not the room is displayed.
// Messages are only kept for live sessions and pending invitations.
func (m *P2PManager) Receive(message realtime.P2PMessage) {
	if _, ok := realtime.Peer(message.RoomID, m.self.ID); !ok {
		m.logger.Warn().Str("room_id", message.RoomID).Msg("dropping message for foreign room")
		return
	}
	if m.State(message.RoomID) == SessionNone {
		m.logger.Debug().Str("room_id", message.RoomID).Msg("dropping message outside a private session")
		return
	}
	room := m.room(message.RoomID)
	if message.User.ID != m.self.ID {
		room.typing.Stop(message.User.ID)
		if room.session.Peer.ID == "" {
			room.session.Peer = message.User
		}
	}
	room.history.add(message)
}

// Keystroke signals typing in the active session.
func (m *P2PManager) Keystroke() error {
	room, ok := m.rooms[m.active]
	if !ok {
		return ErrNoActiveSession
	}
	room.typer.Keystroke()
	return nil
}

// ApplyTyping folds a remote typing event scoped to a private room.
func (m *P2PManager) ApplyTyping(event realtime.UserTyping) {
	if event.UserID == m.self.ID || event.Scope != realtime.ScopeP2P {
		return
	}
	room, ok := m.rooms[event.RoomID]
	if !ok {
		return
	}
	room.typing.Apply(event)
}

// ActiveSession returns the displayed session.
func (m *P2PManager) ActiveSession() (P2PSession, bool) {
	room, ok := m.rooms[m.active]
	if !ok {
		return P2PSession{}, false
	}
	return *room.session, true
}

// ActiveMessages returns the transcript of the displayed session only.
func (m *P2PManager) ActiveMessages() []realtime.P2PMessage {
	return m.Messages(m.active)
}

// ActiveTyping lists remote typers in the displayed session.
func (m *P2PManager) ActiveTyping() []TypingIndicator {
	room, ok := m.rooms[m.active]
	if !ok {
		return nil
	}
	return room.typing.Active()
}

// Messages returns the retained transcript of a room.
func (m *P2PManager) Messages(roomID string) []realtime.P2PMessage {
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]realtime.P2PMessage(nil), room.history.items...)
}

// State reports the pair state of a room from this client's point of view.
func (m *P2PManager) State(roomID string) SessionState {
	if room, ok := m.rooms[roomID]; ok && room.session.State != SessionNone {
		return room.session.State
	}
	if _, ok := m.invitations[roomID]; ok {
		return SessionInvited
	}
	return SessionNone
}

// Pending lists incoming invitations, oldest first.
func (m *P2PManager) Pending() []P2PInvitation {
	out := make([]P2PInvitation, 0, len(m.invitations))
	for _, invitation := range m.invitations {
		out = append(out, invitation)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// Sessions lists live sessions ordered by start time.
func (m *P2PManager) Sessions() []P2PSession {
	out := make([]P2PSession, 0, len(m.rooms))
	for _, room := range m.rooms {
		if room.session.State == SessionNone {
			continue
		}
		out = append(out, *room.session)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close drops pending timers without emitting.
func (m *P2PManager) Close() {
	for _, room := range m.rooms {
		room.typer.Cancel()
		room.typing.Clear()
	}
}

// open returns the room of a session that starts now.
func (m *P2PManager) open(roomID string) *p2pRoom {
	room := m.room(roomID)
	if room.session.State == SessionNone {
		room.session.StartedAt = m.clock.Now()
	}
	return room
}

func (m *P2PManager) discard(roomID string) {
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	room.typer.Cancel()
	room.typing.Clear()
	delete(m.rooms, roomID)
	if m.active == roomID {
		m.active = ""
	}
}

func (m *P2PManager) room(roomID string) *p2pRoom {
	if room, ok := m.rooms[roomID]; ok {
		return room
	}

	payload := realtime.TypingPayload{RoomID: roomID, Type: realtime.ScopeP2P}
	room := &p2pRoom{
		session: &P2PSession{RoomID: roomID, StartedAt: m.clock.Now()},
		history: &messageHistory{limit: m.historyLimit},
		typing:  NewTypingSet(m.clock, TypingIndicatorTTL),
	}
	room.typer = newTypingDebouncer(m.clock, TypingIdleTimeout, func() {
		m.sendTyping(realtime.TypingStart{TypingPayload: payload})
	}, func() {
		m.sendTyping(realtime.TypingStop{TypingPayload: payload})
	})
	m.rooms[roomID] = room
	return room
}

func (m *P2PManager) sendTyping(event realtime.Event) {
	if err := m.emit(event); err != nil {
		m.logger.Debug().Err(err).Str("event", string(event.Name())).Msg("typing signal not delivered")
	}
}
