package forumclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
)

// Conn is the subset of a websocket connection the manager relies on. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Dialer opens transport connections.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// DialContext implements Dialer.
func (d WebsocketDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectionState is the observable state of the realtime link.
type ConnectionState int

// Link states.
const (
	StateConnected ConnectionState = iota
	StateReconnecting
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// RoomKind selects which join event subscribes to a room.
type RoomKind int

// Room kinds joined per course.
const (
	RoomCourseForum RoomKind = iota
	RoomLiveChat
)

func (k RoomKind) event(id string) realtime.Event {
	if k == RoomLiveChat {
		return realtime.JoinLiveChat{CourseID: id}
	}
	return realtime.JoinCourseForum{CourseID: id}
}

type roomJoin struct {
	kind RoomKind
	id   string
}

// Handler receives decoded inbound events on the connection's reader goroutine.
type Handler func(event realtime.Event)

// Backoff controls reconnection delays.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

// DefaultBackoff starts at 500ms and doubles up to 30s with 20% jitter, retrying forever.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2}
}

// Delay returns the wait before the given zero-based reconnection attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(b.Initial) * math.Pow(multiplier, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay += delay * b.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ConnectionOptions configures Dial.
type ConnectionOptions struct {
	Dialer     Dialer
	Header     http.Header
	Logger     zerolog.Logger
	OnEvent    Handler
	OnState    func(ConnectionState)
	Backoff    Backoff
	SendBuffer int
}

// Connection owns the realtime transport of one view: a single writer per physical
// connection, reconnection with backoff, and re-subscription after reconnecting.
// Handlers must not call Close.
type Connection struct {
	url    string
	opts   ConnectionOptions
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    ConnectionState
	session  *session
	identity *realtime.UserRef
	rooms    []roomJoin
	handlers map[realtime.EventName][]Handler
	closed   bool

	closeOnce sync.Once
}

// Dial opens the realtime connection. The returned connection is not yet authenticated.
func Dial(ctx context.Context, url string, opts ConnectionOptions) (*Connection, error) {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	conn, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime server: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		url:      url,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "realtime_connection").Logger(),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateConnected,
		handlers: make(map[realtime.EventName][]Handler),
	}

	sess := newSession(conn, opts.SendBuffer, c.logger)
	c.session = sess
	go c.run(sess)

	c.logger.Debug().Str("url", url).Msg("realtime connection established")
	return c, nil
}

// State reports the link state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticated reports whether Authenticate succeeded.
func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != nil
}

// Authenticate binds the connection to a user. The identity is replayed after reconnects.
func (c *Connection) Authenticate(ctx context.Context, user realtime.UserRef) error {
	frame, err := realtime.Encode(realtime.Authenticate{UserID: user.ID, DisplayName: user.Name, Avatar: user.AvatarURL})
	if err != nil {
		return err
	}

	sess, err := c.current(false)
	if err != nil {
		return err
	}
	if err := sess.enqueue(ctx, frame); err != nil {
		return err
	}

	c.mu.Lock()
	identity := user
	c.identity = &identity
	c.mu.Unlock()
	return nil
}

// JoinRoom subscribes to a course room. Joined rooms are re-joined after reconnects.
func (c *Connection) JoinRoom(ctx context.Context, kind RoomKind, id string) error {
	if err := c.Send(ctx, kind.event(id)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, room := range c.rooms {
		if room.kind == kind && room.id == id {
			return nil
		}
	}
	c.rooms = append(c.rooms, roomJoin{kind: kind, id: id})
	return nil
}

// Send emits an event. It fails with ErrNotAuthenticated before Authenticate and with
// ErrNotConnected while the link is reconnecting.
func (c *Connection) Send(ctx context.Context, event realtime.Event) error {
	if auth, ok := event.(realtime.Authenticate); ok {
		return c.Authenticate(ctx, realtime.UserRef{ID: auth.UserID, Name: auth.DisplayName, AvatarURL: auth.Avatar})
	}

	frame, err := realtime.Encode(event)
	if err != nil {
		return err
	}
	sess, err := c.current(true)
	if err != nil {
		return err
	}
	return sess.enqueue(ctx, frame)
}

// On registers a handler for one event name.
func (c *Connection) On(name realtime.EventName, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], handler)
}

// Close tears the connection down and stops reconnecting. It is safe to call repeatedly.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		sess := c.session
		c.session = nil
		c.mu.Unlock()

		c.cancel()
		if sess != nil {
			sess.close()
		}
		<-c.done
		c.setState(StateDisconnected)
		c.logger.Debug().Msg("realtime connection closed")
	})
	return nil
}

func (c *Connection) current(requireIdentity bool) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if requireIdentity && c.identity == nil {
		return nil, ErrNotAuthenticated
	}
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Connection) run(sess *session) {
	defer close(c.done)

	for {
		err := c.read(sess)

		c.mu.Lock()
		closed := c.closed
		if c.session == sess {
			c.session = nil
		}
		c.mu.Unlock()
		if closed {
			return
		}

		c.logger.Warn().Err(err).Msg("realtime connection lost")
		c.setState(StateReconnecting)

		next, ok := c.reconnect()
		if !ok {
			c.setState(StateDisconnected)
			return
		}
		sess = next
	}
}

func (c *Connection) read(sess *session) error {
	defer sess.close()
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return err
		}

		event, err := realtime.Decode(data)
		if err != nil {
			if errors.Is(err, realtime.ErrUnknownEvent) {
				c.logger.Debug().Err(err).Msg("ignoring unknown realtime event")
			} else {
				c.logger.Warn().Err(err).Msg("dropping malformed realtime frame")
			}
			continue
		}
		c.dispatch(event)
	}
}

func (c *Connection) dispatch(event realtime.Event) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[event.Name()]...)
	c.mu.Unlock()

	if c.opts.OnEvent != nil {
		c.opts.OnEvent(event)
	}
	for _, handler := range handlers {
		handler(event)
	}
}

func (c *Connection) reconnect() (*session, bool) {
	for attempt := 0; c.opts.Backoff.MaxAttempts <= 0 || attempt < c.opts.Backoff.MaxAttempts; attempt++ {
		timer := time.NewTimer(c.opts.Backoff.Delay(attempt))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		conn, err := c.opts.Dialer.DialContext(c.ctx, c.url, c.opts.Header)
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("reconnect attempt failed")
			continue
		}

		sess := newSession(conn, c.opts.SendBuffer, c.logger)
		if err := c.resubscribe(sess); err != nil {
			c.logger.Warn().Err(err).Msg("failed to restore subscriptions")
			sess.close()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			sess.close()
			return nil, false
		}
		c.session = sess
		c.mu.Unlock()

		c.logger.Info().Int("attempt", attempt+1).Msg("realtime connection restored")
		c.setState(StateConnected)
		return sess, true
	}
	return nil, false
}

// resubscribe queues authenticate and the room joins before the session is published,
// so they precede anything the application sends.
func (c *Connection) resubscribe(sess *session) error {
	c.mu.Lock()
	identity := c.identity
	rooms := append([]roomJoin(nil), c.rooms...)
	c.mu.Unlock()

	if identity == nil {
		return nil
	}

	events := []realtime.Event{realtime.Authenticate{UserID: identity.ID, DisplayName: identity.Name, Avatar: identity.AvatarURL}}
	for _, room := range rooms {
		events = append(events, room.kind.event(room.id))
	}
	for _, event := range events {
		frame, err := realtime.Encode(event)
		if err != nil {
			return err
		}
		if err := sess.enqueue(c.ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.opts.OnState != nil {
		c.opts.OnState(state)
	}
}

// session is one physical connection with its writer goroutine.
type session struct {
	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func newSession(conn Conn, buffer int, logger zerolog.Logger) *session {
	s := &session{
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.writeLoop()
	return s
}

func (s *session) enqueue(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if dw, ok := s.conn.(deadlineWriter); ok {
				_ = dw.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug().Err(err).Msg("realtime write failed")
				s.close()
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
