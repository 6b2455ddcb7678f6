package forumclient

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

func newTestP2P(t *testing.T, self realtime.UserRef, limit int) (*P2PManager, *recorder, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	rec := &recorder{}
	return NewP2PManager(self, rec.emit, clock, limit, zerolog.Nop()), rec, clock
}

func TestP2PInitiateActivatesOptimistically(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("ana", "Ana"), 0)

	roomID, err := manager.Initiate(user("budi", "Budi"), " ayo diskusi ")
	require.NoError(t, err)
	require.Equal(t, realtime.RoomID("budi", "ana"), roomID)

	invite := rec.events[0].(realtime.InitiateP2PChat)
	require.Equal(t, "budi", invite.TargetUserID)
	require.Equal(t, roomID, invite.RoomID)
	require.Equal(t, "ayo diskusi", invite.Message)

	session, ok := manager.ActiveSession()
	require.True(t, ok)
	require.Equal(t, roomID, session.RoomID)
	require.Equal(t, SessionInvited, session.State)
	require.True(t, session.Outgoing)

	require.NoError(t, manager.Send("halo"))
	msg := rec.events[1].(realtime.SendP2PMessage)
	require.Equal(t, roomID, msg.RoomID)
	require.Equal(t, "halo", msg.Message)

	manager.HandleAccepted(realtime.P2POutcome{RoomID: roomID, By: user("budi", "Budi")})
	require.Equal(t, SessionAccepted, manager.State(roomID))
}

func TestP2PInitiateRejectsSelf(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("ana", "Ana"), 0)

	_, err := manager.Initiate(user("ana", "Ana"), "")
	require.ErrorIs(t, err, ErrSelfInvite)
	require.Empty(t, rec.events)
}

func TestP2PAcceptPromotesInvitation(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("budi", "Budi"), 0)
	roomID := realtime.RoomID("ana", "budi")

	auto := manager.HandleRequest(realtime.P2PChatRequest{From: "ana", FromName: "Ana", RoomID: roomID, Message: "hi"})
	require.False(t, auto)
	require.Len(t, manager.Pending(), 1)
	require.Equal(t, SessionInvited, manager.State(roomID))
	_, ok := manager.ActiveSession()
	require.False(t, ok)

	require.NoError(t, manager.Accept(roomID))
	accept := rec.events[0].(realtime.AcceptP2PChat)
	require.Equal(t, roomID, accept.RoomID)
	require.Equal(t, "ana", accept.FromUserID)

	session, ok := manager.ActiveSession()
	require.True(t, ok)
	require.Equal(t, SessionAccepted, session.State)
	require.Equal(t, "ana", session.Peer.ID)
	require.Empty(t, manager.Pending())

	require.ErrorIs(t, manager.Accept(roomID), ErrNoInvitation)
}

func TestP2PDeclineDiscardsInvitation(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("budi", "Budi"), 0)
	roomID := realtime.RoomID("ana", "budi")

	manager.HandleRequest(realtime.P2PChatRequest{From: "ana", FromName: "Ana", RoomID: roomID})
	require.NoError(t, manager.Decline(roomID))

	require.Equal(t, []realtime.EventName{realtime.EventDeclineP2PChat}, rec.names())
	require.Empty(t, manager.Pending())
	require.Empty(t, manager.Sessions())
	require.Equal(t, SessionNone, manager.State(roomID))
	require.ErrorIs(t, manager.Send("hi"), ErrNoActiveSession)
}

func TestP2PRepeatedInvitationReplacesEarlier(t *testing.T) {
	manager, _, clock := newTestP2P(t, user("budi", "Budi"), 0)
	roomID := realtime.RoomID("ana", "budi")

	manager.HandleRequest(realtime.P2PChatRequest{From: "ana", FromName: "Ana", RoomID: roomID, Message: "first"})
	clock.Advance(time.Minute)
	manager.HandleRequest(realtime.P2PChatRequest{From: "ana", FromName: "Ana", RoomID: roomID, Message: "second"})
	manager.HandleRequest(realtime.P2PChatRequest{From: "citra", FromName: "Citra", RoomID: realtime.RoomID("citra", "budi")})

	pending := manager.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "second", pending[0].Message)
	require.Equal(t, "citra", pending[1].From.ID)
}

func TestP2PRejectsForeignRoomInvitation(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("budi", "Budi"), 0)

	manager.HandleRequest(realtime.P2PChatRequest{From: "ana", RoomID: "ana_citra"})
	require.Empty(t, manager.Pending())
}

func TestP2PCrossedInvitationsAutoAccept(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("ana", "Ana"), 0)

	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	auto := manager.HandleRequest(realtime.P2PChatRequest{From: "budi", FromName: "Budi", RoomID: roomID})
	require.True(t, auto)
	require.Empty(t, manager.Pending())
	require.Equal(t, SessionAccepted, manager.State(roomID))
	require.Equal(t, realtime.EventAcceptP2PChat, rec.events[len(rec.events)-1].Name())
}

func TestP2PInitiateWithPendingInvitationAccepts(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("ana", "Ana"), 0)
	roomID := realtime.RoomID("ana", "budi")

	manager.HandleRequest(realtime.P2PChatRequest{From: "budi", FromName: "Budi", RoomID: roomID})
	got, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)
	require.Equal(t, roomID, got)
	require.Equal(t, []realtime.EventName{realtime.EventAcceptP2PChat}, rec.names())
	require.Equal(t, SessionAccepted, manager.State(roomID))
}

func TestP2PDisplaysOnlyActiveRoom(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("ana", "Ana"), 0)
	withBudi, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)
	withCitra, err := manager.Initiate(user("citra", "Citra"), "")
	require.NoError(t, err)

	manager.Receive(realtime.P2PMessage{ID: "1", RoomID: withBudi, User: user("budi", "Budi"), Text: "from budi"})
	manager.Receive(realtime.P2PMessage{ID: "2", RoomID: withCitra, User: user("citra", "Citra"), Text: "from citra"})

	active := manager.ActiveMessages()
	require.Len(t, active, 1)
	require.Equal(t, "from citra", active[0].Text)

	require.NoError(t, manager.Activate(withBudi))
	active = manager.ActiveMessages()
	require.Len(t, active, 1)
	require.Equal(t, "from budi", active[0].Text)
	require.Len(t, manager.Messages(withCitra), 1)
	require.Len(t, manager.Sessions(), 2)

	require.ErrorIs(t, manager.Activate("ana_zed"), ErrUnknownSession)
}

func TestP2PHistoryIsBounded(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("ana", "Ana"), 3)
	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		manager.Receive(realtime.P2PMessage{ID: fmt.Sprint(i), RoomID: roomID, User: user("budi", "Budi"), Text: fmt.Sprint(i)})
	}

	messages := manager.Messages(roomID)
	require.Len(t, messages, 3)
	require.Equal(t, "2", messages[0].ID)
	require.Equal(t, "4", messages[2].ID)
}

func TestP2PDeclinedByPeerClearsActive(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("ana", "Ana"), 0)
	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	manager.HandleDeclined(realtime.P2POutcome{RoomID: roomID, By: user("budi", "Budi")})

	_, ok := manager.ActiveSession()
	require.False(t, ok)
	require.Equal(t, SessionNone, manager.State(roomID))
	require.Empty(t, manager.Sessions())
}

func TestP2PDeclinedRoomDoesNotLeakIntoLaterSession(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("budi", "Budi"), 0)
	roomID := realtime.RoomID("ana", "budi")

	manager.Receive(realtime.P2PMessage{ID: "m0", RoomID: roomID, User: user("ana", "Ana"), Text: "no session yet"})
	require.Empty(t, manager.Messages(roomID))

	manager.HandleRequest(realtime.P2PChatRequest{From: "ana", FromName: "Ana", RoomID: roomID})
	manager.Receive(realtime.P2PMessage{ID: "m1", RoomID: roomID, User: user("ana", "Ana"), Text: "while pending"})
	require.Len(t, manager.Messages(roomID), 1)

	require.NoError(t, manager.Decline(roomID))
	require.Empty(t, manager.Messages(roomID))

	manager.Receive(realtime.P2PMessage{ID: "m2", RoomID: roomID, User: user("ana", "Ana"), Text: "sent after you declined"})
	manager.HandleRequest(realtime.P2PChatRequest{From: "ana", FromName: "Ana", RoomID: roomID})
	require.NoError(t, manager.Accept(roomID))

	require.Equal(t, SessionAccepted, manager.State(roomID))
	require.Empty(t, manager.ActiveMessages())
}

func TestP2PDeclinedByPeerDropsHistory(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("ana", "Ana"), 0)
	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)
	manager.Receive(realtime.P2PMessage{ID: "m1", RoomID: roomID, User: user("ana", "Ana"), Text: "halo"})
	require.Len(t, manager.Messages(roomID), 1)

	manager.HandleDeclined(realtime.P2POutcome{RoomID: roomID, By: user("budi", "Budi")})
	require.Empty(t, manager.Messages(roomID))

	manager.Receive(realtime.P2PMessage{ID: "m2", RoomID: roomID, User: user("budi", "Budi"), Text: "late"})
	require.Empty(t, manager.Messages(roomID))
}

func TestP2PSessionStartIsStable(t *testing.T) {
	manager, _, clock := newTestP2P(t, user("ana", "Ana"), 0)
	started := clock.Now()
	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	manager.Receive(realtime.P2PMessage{ID: "m1", RoomID: roomID, User: user("budi", "Budi"), Text: "halo"})
	manager.HandleAccepted(realtime.P2POutcome{RoomID: roomID, By: user("budi", "Budi")})
	clock.Advance(time.Minute)
	manager.Receive(realtime.P2PMessage{ID: "m2", RoomID: roomID, User: user("budi", "Budi"), Text: "lagi"})

	session, ok := manager.ActiveSession()
	require.True(t, ok)
	require.True(t, session.StartedAt.Equal(started))
}

func TestP2PReceivesFromPeerWithSeparatorInID(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("ana_s", "Ana"), 0)
	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)
	require.Equal(t, "ana_s_budi", roomID)

	manager.Receive(realtime.P2PMessage{ID: "m1", RoomID: roomID, User: user("budi", "Budi"), Text: "halo"})
	require.Len(t, manager.ActiveMessages(), 1)
}

func TestP2PTypingTimersArePerRoom(t *testing.T) {
	manager, rec, clock := newTestP2P(t, user("ana", "Ana"), 0)
	withBudi, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	require.NoError(t, manager.Keystroke())
	clock.Advance(600 * time.Millisecond)

	withCitra, err := manager.Initiate(user("citra", "Citra"), "")
	require.NoError(t, err)
	require.NoError(t, manager.Keystroke())

	clock.Advance(400 * time.Millisecond)
	stops := 0
	for _, event := range rec.events {
		if stop, ok := event.(realtime.TypingStop); ok {
			stops++
			require.Equal(t, withBudi, stop.RoomID)
			require.Equal(t, realtime.ScopeP2P, stop.Type)
		}
	}
	require.Equal(t, 1, stops)

	clock.Advance(600 * time.Millisecond)
	require.Equal(t, 2, rec.count(realtime.EventTypingStop))
	last := rec.events[len(rec.events)-1].(realtime.TypingStop)
	require.Equal(t, withCitra, last.RoomID)
}

func TestP2PSendRejectsBlankText(t *testing.T) {
	manager, rec, _ := newTestP2P(t, user("ana", "Ana"), 0)
	_, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	require.ErrorIs(t, manager.Send("   "), ErrEmptyMessage)
	require.Equal(t, 1, len(rec.events))
}

func TestP2PApplyTypingScopedToRoom(t *testing.T) {
	manager, _, _ := newTestP2P(t, user("ana", "Ana"), 0)
	roomID, err := manager.Initiate(user("budi", "Budi"), "")
	require.NoError(t, err)

	manager.ApplyTyping(realtime.UserTyping{UserID: "budi", UserName: "Budi", Type: realtime.TypingStarted, Scope: realtime.ScopeP2P, RoomID: roomID})
	manager.ApplyTyping(realtime.UserTyping{UserID: "citra", Type: realtime.TypingStarted, Scope: realtime.ScopeCourse, RoomID: roomID})

	typing := manager.ActiveTyping()
	require.Len(t, typing, 1)
	require.Equal(t, "budi", typing[0].User.ID)
}
