package forumclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

func fastBackoff() Backoff {
	return Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (l *stateLog) record(state ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *stateLog) snapshot() []ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionState(nil), l.states...)
}

func dialTest(t *testing.T, dialer *fakeDialer, opts ConnectionOptions) *Connection {
	t.Helper()
	opts.Dialer = dialer
	opts.Logger = zerolog.Nop()
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = fastBackoff()
	}
	conn, err := Dial(context.Background(), "ws://forum.test/ws", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectionRequiresAuthentication(t *testing.T) {
	dialer := &fakeDialer{}
	conn := dialTest(t, dialer, ConnectionOptions{})
	ctx := context.Background()

	require.ErrorIs(t, conn.Send(ctx, realtime.SendChatMessage{CourseID: "c1", Message: "hi"}), ErrNotAuthenticated)
	require.ErrorIs(t, conn.JoinRoom(ctx, RoomLiveChat, "c1"), ErrNotAuthenticated)

	require.NoError(t, conn.Authenticate(ctx, user("ana", "Ana")))
	require.NoError(t, conn.JoinRoom(ctx, RoomCourseForum, "c1"))
	require.NoError(t, conn.JoinRoom(ctx, RoomLiveChat, "c1"))

	fake := dialer.last()
	require.Eventually(t, func() bool { return len(fake.sent()) == 3 }, time.Second, 5*time.Millisecond)

	sent := fake.sent()
	auth := sent[0].(realtime.Authenticate)
	require.Equal(t, "ana", auth.UserID)
	require.Equal(t, realtime.JoinCourseForum{CourseID: "c1"}, sent[1])
	require.Equal(t, realtime.JoinLiveChat{CourseID: "c1"}, sent[2])
}

func TestConnectionDispatchesInboundEvents(t *testing.T) {
	dialer := &fakeDialer{}
	received := make(chan realtime.Event, 4)
	conn := dialTest(t, dialer, ConnectionOptions{OnEvent: func(event realtime.Event) { received <- event }})

	typed := make(chan realtime.UserTyping, 1)
	conn.On(realtime.EventUserTyping, func(event realtime.Event) {
		typed <- event.(realtime.UserTyping)
	})

	fake := dialer.last()
	fake.inbound <- []byte(`{"event":"mystery","data":{}}`)
	fake.inbound <- []byte(`not json`)
	fake.push(t, realtime.UserTyping{UserID: "budi", Type: realtime.TypingStarted, Scope: realtime.ScopeCourse})

	select {
	case event := <-received:
		require.Equal(t, realtime.EventUserTyping, event.Name())
	case <-time.After(time.Second):
		t.Fatal("expected event to be dispatched")
	}
	select {
	case event := <-typed:
		require.Equal(t, "budi", event.UserID)
	case <-time.After(time.Second):
		t.Fatal("expected named handler to run")
	}
}

func TestConnectionReconnectsAndResubscribes(t *testing.T) {
	dialer := &fakeDialer{}
	states := &stateLog{}
	conn := dialTest(t, dialer, ConnectionOptions{OnState: states.record})
	ctx := context.Background()

	require.NoError(t, conn.Authenticate(ctx, user("ana", "Ana")))
	require.NoError(t, conn.JoinRoom(ctx, RoomCourseForum, "c1"))
	require.NoError(t, conn.JoinRoom(ctx, RoomLiveChat, "c1"))
	require.NoError(t, conn.JoinRoom(ctx, RoomLiveChat, "c1"))

	first := dialer.last()
	require.Eventually(t, func() bool { return len(first.sent()) == 4 }, time.Second, 5*time.Millisecond)
	_ = first.Close()

	require.Eventually(t, func() bool {
		return dialer.dials() == 2 && conn.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	second := dialer.last()
	require.Eventually(t, func() bool { return len(second.sent()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []realtime.EventName{
		realtime.EventAuthenticate,
		realtime.EventJoinCourseForum,
		realtime.EventJoinLiveChat,
	}, second.sentNames())

	require.NoError(t, conn.Send(ctx, realtime.SendChatMessage{CourseID: "c1", Message: "back"}))
	require.Eventually(t, func() bool { return second.countSent(realtime.EventSendChatMessage) == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, []ConnectionState{StateReconnecting, StateConnected}, states.snapshot())
}

func TestConnectionGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	states := &stateLog{}
	backoff := fastBackoff()
	backoff.MaxAttempts = 3
	conn := dialTest(t, dialer, ConnectionOptions{OnState: states.record, Backoff: backoff})
	require.NoError(t, conn.Authenticate(context.Background(), user("ana", "Ana")))

	dialer.fail(errors.New("server down"))
	_ = dialer.last().Close()

	require.Eventually(t, func() bool { return conn.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, conn.Send(context.Background(), realtime.TypingStop{}), ErrNotConnected)
	require.Equal(t, []ConnectionState{StateReconnecting, StateDisconnected}, states.snapshot())
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	conn := dialTest(t, dialer, ConnectionOptions{})

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.True(t, dialer.last().isClosed())
	require.Equal(t, StateDisconnected, conn.State())
	require.ErrorIs(t, conn.Authenticate(context.Background(), user("ana", "Ana")), ErrConnectionClosed)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, dialer.dials())
}

func TestDialFailureIsReported(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail(errors.New("refused"))

	_, err := Dial(context.Background(), "ws://forum.test/ws", ConnectionOptions{Dialer: dialer, Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestBackoffDelayGrowsToCap(t *testing.T) {
	backoff := Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}

	require.Equal(t, 500*time.Millisecond, backoff.Delay(0))
	require.Equal(t, time.Second, backoff.Delay(1))
	require.Equal(t, 4*time.Second, backoff.Delay(3))
	require.Equal(t, 30*time.Second, backoff.Delay(10))

	jittered := DefaultBackoff()
	for attempt := 0; attempt < 20; attempt++ {
		delay := jittered.Delay(attempt)
		require.GreaterOrEqual(t, delay, time.Duration(0))
		require.LessOrEqual(t, delay, 36*time.Second)
	}
}
