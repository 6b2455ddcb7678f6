package forumclient

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves time forward and fires due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	pending := c.timers[:0]
	for _, timer := range c.timers {
		switch {
		case timer.stopped || timer.fired:
		case !timer.at.After(c.now):
			timer.fired = true
			due = append(due, timer)
		default:
			pending = append(pending, timer)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, timer := range due {
		timer.fn()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// recorder is an Emitter that keeps every event it was given.
type recorder struct {
	events []realtime.Event
	err    error
}

func (r *recorder) emit(event realtime.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) names() []realtime.EventName {
	out := make([]realtime.EventName, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Name())
	}
	return out
}

func (r *recorder) count(name realtime.EventName) int {
	n := 0
	for _, event := range r.events {
		if event.Name() == name {
			n++
		}
	}
	return n
}

var errFakeClosed = errors.New("fake connection closed")

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []realtime.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	event, err := realtime.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, event)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(t *testing.T, event realtime.Event) {
	t.Helper()
	frame, err := realtime.Encode(event)
	require.NoError(t, err)
	c.inbound <- frame
}

func (c *fakeConn) sent() []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Event(nil), c.written...)
}

func (c *fakeConn) sentNames() []realtime.EventName {
	events := c.sent()
	out := make([]realtime.EventName, 0, len(events))
	for _, event := range events {
		out = append(out, event.Name())
	}
	return out
}

func (c *fakeConn) countSent(name realtime.EventName) int {
	n := 0
	for _, event := range c.sent() {
		if event.Name() == name {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
}

func (d *fakeDialer) DialContext(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type stubAPI struct {
	mu        sync.Mutex
	course    realtime.Course
	posts     []realtime.ForumPost
	courseErr error
	postsErr  error
	askErr    error
	queries   []realtime.AssistantQuery
	block     chan struct{}
}

func (s *stubAPI) Course(ctx context.Context, courseID string) (realtime.Course, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return realtime.Course{}, ctx.Err()
		}
	}
	if s.courseErr != nil {
		return realtime.Course{}, s.courseErr
	}
	course := s.course
	course.ID = courseID
	return course, nil
}

func (s *stubAPI) Posts(ctx context.Context, _ string) ([]realtime.ForumPost, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.postsErr != nil {
		return nil, s.postsErr
	}
	return s.posts, nil
}

func (s *stubAPI) CreatePost(_ context.Context, courseID string, draft realtime.PostDraft) (realtime.ForumPost, error) {
	return realtime.ForumPost{
		ID:       "created-" + draft.Title,
		CourseID: courseID,
		Title:    draft.Title,
		Content:  draft.Content,
		Kind:     draft.Kind,
		Tags:     draft.Tags,
	}, nil
}

func (s *stubAPI) CreateReply(_ context.Context, postID string, draft realtime.ReplyDraft) (realtime.ForumReply, error) {
	return realtime.ForumReply{ID: postID + "-reply", Content: draft.Content}, nil
}

func (s *stubAPI) Ask(_ context.Context, query realtime.AssistantQuery) (realtime.AssistantReply, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.askErr != nil {
		return realtime.AssistantReply{}, s.askErr
	}
	return realtime.AssistantReply{Message: "answer to " + query.Message, Confidence: 0.8}, nil
}

func (s *stubAPI) lastQuery() realtime.AssistantQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

func user(id, name string) realtime.UserRef {
	return realtime.UserRef{ID: id, Name: name}
}
