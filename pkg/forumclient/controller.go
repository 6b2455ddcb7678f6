package forumclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const (
	actionBuffer = 128
	emitTimeout  = 5 * time.Second
)

// Controller is the forum view. It owns the realtime connection and every component,
// and applies all mutations on a single loop goroutine.
type Controller struct {
	opts   Options
	logger zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	actions  chan func()
	loopDone chan struct{}

	closeOnce sync.Once

	// Owned by the loop goroutine.
	clock         Clock
	conn          *Connection
	connState     ConnectionState
	sessionID     string
	course        FetchResult[realtime.Course]
	board         *BoardStore
	query         BoardQuery
	presence      *PresenceTracker
	group         *GroupChannel
	p2p           *P2PManager
	assistant     AssistantTranscript
	groupOpen     bool
	assistantOpen bool
	notices       []Notice
}

// Mount builds the forum view: it loads the course and board over REST, then opens the
// realtime connection. A connection failure leaves the view in board-only mode instead of
// failing. Cancelling ctx closes the view.
func Mount(ctx context.Context, opts Options) (*Controller, error) {
	if opts.CourseID == "" {
		return nil, errors.New("course id is required")
	}
	if opts.User.ID == "" {
		return nil, errors.New("user id is required")
	}
	if opts.API == nil {
		return nil, errors.New("api client is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "forum_view").Str("course_id", opts.CourseID).Logger(),
		ctx:       runCtx,
		cancel:    cancel,
		actions:   make(chan func(), actionBuffer),
		loopDone:  make(chan struct{}),
		connState: StateDisconnected,
		board:     NewBoardStore(),
		query:     BoardQuery{Filter: FilterAll, Sort: SortRecent},
		presence:  NewPresenceTracker(),
	}
	c.clock = loopClock{base: opts.Clock, enqueue: c.enqueue}
	c.group = NewGroupChannel(opts.CourseID, opts.User, c.emit, c.clock, opts.Logger)
	c.p2p = NewP2PManager(opts.User, c.emit, c.clock, opts.P2PHistoryLimit, opts.Logger)
	c.course = FetchResult[realtime.Course]{Data: realtime.Course{ID: opts.CourseID}}

	go c.loop()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	go func() {
		<-c.loopDone
		stop()
	}()

	if err := c.load(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Controller) load(ctx context.Context) error {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		course realtime.Course
		posts  []realtime.ForumPost
		errC   error
		errP   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		course, errC = c.opts.API.Course(reqCtx, c.opts.CourseID)
	}()
	go func() {
		defer wg.Done()
		posts, errP = c.opts.API.Posts(reqCtx, c.opts.CourseID)
	}()
	wg.Wait()

	courseID := c.opts.CourseID
	courseResult := WithFallback(course, errC, func() realtime.Course { return FallbackCourse(courseID) })
	postResult := WithFallback(posts, errP, func() []realtime.ForumPost { return FallbackPosts(courseID) })

	return c.do(ctx, func() error {
		if courseResult.Err != nil && !courseResult.Fallback {
			return courseResult.Err
		}
		if postResult.Err != nil && !postResult.Fallback {
			return postResult.Err
		}

		c.course = courseResult
		c.board.Load(postResult.Data, postResult.Fallback)
		if courseResult.Fallback || postResult.Fallback {
			c.logger.Warn().AnErr("course_error", courseResult.Err).AnErr("posts_error", postResult.Err).Msg("forum api unavailable, using sample content")
			c.notify(NoticeWarning, FallbackNotice)
		}
		return nil
	})
}

func (c *Controller) connect(ctx context.Context) error {
	if c.opts.RealtimeURL == "" {
		return c.degrade(ctx, errors.New("realtime url not configured"))
	}

	conn, err := Dial(ctx, c.opts.RealtimeURL, ConnectionOptions{
		Dialer:  c.opts.Dialer,
		Header:  c.opts.Header,
		Logger:  c.opts.Logger,
		Backoff: c.opts.Backoff,
		OnEvent: func(event realtime.Event) {
			c.enqueue(func() { c.handle(event) })
		},
		OnState: func(state ConnectionState) {
			c.enqueue(func() { c.applyConnectionState(state) })
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return c.degrade(ctx, err)
	}

	err = conn.Authenticate(ctx, c.opts.User)
	if err == nil {
		err = conn.JoinRoom(ctx, RoomCourseForum, c.opts.CourseID)
	}
	if err == nil {
		err = conn.JoinRoom(ctx, RoomLiveChat, c.opts.CourseID)
	}
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, context.Canceled) {
			return err
		}
		return c.degrade(ctx, err)
	}

	if err := c.do(ctx, func() error {
		c.conn = conn
		c.connState = conn.State()
		return nil
	}); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (c *Controller) degrade(ctx context.Context, cause error) error {
	c.logger.Warn().Err(cause).Msg("live chat unavailable, continuing with board only")
	return c.do(ctx, func() error {
		c.connState = StateDisconnected
		c.notify(NoticeWarning, "Live chat is unavailable. The discussion board still works.")
		return nil
	})
}

// Close unmounts the view: the loop stops, pending timers are dropped, in-flight requests
// are cancelled and the connection is closed. It is safe to call repeatedly.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.loopDone

		c.group.Close()
		c.p2p.Close()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.logger.Debug().Msg("forum view closed")
	})
	return nil
}

// Done is closed once the view has stopped processing.
func (c *Controller) Done() <-chan struct{} {
	return c.loopDone
}

// State returns a snapshot of the view.
func (c *Controller) State(ctx context.Context) (ViewState, error) {
	var state ViewState
	err := c.do(ctx, func() error {
		state = c.snapshot()
		return nil
	})
	return state, err
}

// SetQuery changes the board filter, search term and sort key.
func (c *Controller) SetQuery(ctx context.Context, query BoardQuery) error {
	return c.do(ctx, func() error {
		if query.Filter == "" {
			query.Filter = FilterAll
		}
		if query.Sort == "" {
			query.Sort = SortRecent
		}
		c.query = query
		return nil
	})
}

// OpenPanel shows a chat surface. Opening group chat hides the private chat and vice versa;
// PanelP2P requires an active session, use OpenP2P to choose one.
func (c *Controller) OpenPanel(ctx context.Context, panel Panel) error {
	return c.do(ctx, func() error {
		switch panel {
		case PanelGroupChat:
			if err := c.requireChat(); err != nil {
				return err
			}
			c.p2p.Deactivate()
			c.groupOpen = true
		case PanelP2P:
			if err := c.requireChat(); err != nil {
				return err
			}
			if _, ok := c.p2p.ActiveSession(); !ok {
				return ErrNoActiveSession
			}
			c.showP2P()
		case PanelAssistant:
			c.assistantOpen = true
		}
		return nil
	})
}

// ClosePanel hides a chat surface. Sessions keep running in the background.
func (c *Controller) ClosePanel(ctx context.Context, panel Panel) error {
	return c.do(ctx, func() error {
		switch panel {
		case PanelGroupChat:
			c.group.StopTyping()
			c.groupOpen = false
		case PanelP2P:
			c.p2p.Deactivate()
		case PanelAssistant:
			c.assistantOpen = false
		}
		return nil
	})
}

// SendGroupMessage posts to the course chat.
func (c *Controller) SendGroupMessage(ctx context.Context, text string) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		return c.group.Post(text)
	})
}

// GroupKeystroke signals typing in the course chat.
func (c *Controller) GroupKeystroke(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		c.group.Keystroke()
		return nil
	})
}

// StartP2P invites target and opens the private chat right away.
func (c *Controller) StartP2P(ctx context.Context, target realtime.UserRef, message string) (string, error) {
	var roomID string
	err := c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		id, err := c.p2p.Initiate(target, message)
		if err != nil {
			return err
		}
		roomID = id
		c.showP2P()
		return nil
	})
	return roomID, err
}

// AcceptInvitation accepts a pending invitation and opens its chat.
func (c *Controller) AcceptInvitation(ctx context.Context, roomID string) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		if err := c.p2p.Accept(roomID); err != nil {
			return err
		}
		c.showP2P()
		return nil
	})
}

// DeclineInvitation declines a pending invitation.
func (c *Controller) DeclineInvitation(ctx context.Context, roomID string) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		return c.p2p.Decline(roomID)
	})
}

// OpenP2P switches the displayed private chat. Other sessions stay live.
func (c *Controller) OpenP2P(ctx context.Context, roomID string) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		if err := c.p2p.Activate(roomID); err != nil {
			return err
		}
		c.showP2P()
		return nil
	})
}

// SendP2PMessage posts into the displayed private chat.
func (c *Controller) SendP2PMessage(ctx context.Context, text string) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		return c.p2p.Send(text)
	})
}

// P2PKeystroke signals typing in the displayed private chat.
func (c *Controller) P2PKeystroke(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireChat(); err != nil {
			return err
		}
		return c.p2p.Keystroke()
	})
}

// SubmitPost opens a thread over REST and shows it on the board.
func (c *Controller) SubmitPost(ctx context.Context, draft realtime.PostDraft) (realtime.ForumPost, error) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	post, err := c.opts.API.CreatePost(reqCtx, c.opts.CourseID, draft)
	if err != nil {
		return realtime.ForumPost{}, fmt.Errorf("create post: %w", err)
	}
	err = c.do(ctx, func() error {
		c.board.Prepend(post)
		return nil
	})
	return post, err
}

// SubmitReply replies to a thread over REST and attaches the reply on the board.
func (c *Controller) SubmitReply(ctx context.Context, postID string, draft realtime.ReplyDraft) (realtime.ForumReply, error) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	reply, err := c.opts.API.CreateReply(reqCtx, postID, draft)
	if err != nil {
		return realtime.ForumReply{}, fmt.Errorf("create reply: %w", err)
	}
	err = c.do(ctx, func() error {
		c.board.AppendReply(postID, reply)
		return nil
	})
	return reply, err
}

// AskAssistant sends a question with the last turns of the conversation and records the answer.
func (c *Controller) AskAssistant(ctx context.Context, question string) (realtime.AssistantReply, error) {
	var query realtime.AssistantQuery
	if err := c.do(ctx, func() error {
		q, err := c.assistant.Begin(question, c.clock.Now())
		if err != nil {
			return err
		}
		query = q
		c.assistantOpen = true
		return nil
	}); err != nil {
		return realtime.AssistantReply{}, err
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	reply, askErr := c.opts.API.Ask(reqCtx, query)
	err := c.do(ctx, func() error {
		if askErr != nil {
			c.assistant.Fail()
			c.notify(NoticeWarning, "The study assistant is unavailable right now.")
			return nil
		}
		if reply.Timestamp.IsZero() {
			reply.Timestamp = c.clock.Now()
		}
		c.assistant.Complete(reply)
		return nil
	})
	if askErr != nil {
		return realtime.AssistantReply{}, fmt.Errorf("ask assistant: %w", askErr)
	}
	return reply, err
}

// DismissNotices clears the notice list.
func (c *Controller) DismissNotices(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.notices = nil
		return nil
	})
}

func (c *Controller) handle(event realtime.Event) {
	switch ev := event.(type) {
	case realtime.Authenticated:
		c.sessionID = ev.SessionID
	case realtime.CourseOnlineUsers:
		c.presence.ApplySnapshot(ev.Users)
	case realtime.OnlineUsersUpdate:
		c.presence.ApplySnapshot(ev.Users)
	case realtime.UserJoinedChat:
		c.presence.Join(realtime.OnlineUser{SessionID: ev.SessionID, User: ev.User, JoinedAt: ev.Timestamp})
		if ev.SessionID != c.sessionID {
			c.group.Notice(fmt.Sprintf("%s joined the chat", displayName(ev.PresenceNotice)), ev.Timestamp)
		}
	case realtime.UserLeftChat:
		c.presence.Leave(ev.SessionID)
		if ev.SessionID != c.sessionID {
			c.group.Notice(fmt.Sprintf("%s left the chat", displayName(ev.PresenceNotice)), ev.Timestamp)
		}
	case realtime.NewChatMessage:
		c.group.Receive(ev.GroupMessage)
	case realtime.UserTyping:
		if ev.Scope == realtime.ScopeP2P {
			c.p2p.ApplyTyping(ev)
		} else {
			c.group.ApplyTyping(ev)
		}
	case realtime.P2PChatRequest:
		if c.p2p.HandleRequest(ev) {
			c.notify(NoticeInfo, fmt.Sprintf("%s joined your private chat", ev.FromName))
		} else if c.p2p.State(ev.RoomID) == SessionInvited {
			c.notify(NoticeInfo, fmt.Sprintf("%s wants to chat privately", ev.FromName))
		}
	case realtime.P2PChatAccepted:
		c.p2p.HandleAccepted(ev.P2POutcome)
	case realtime.P2PChatDeclined:
		c.p2p.HandleDeclined(ev.P2POutcome)
		c.notify(NoticeInfo, fmt.Sprintf("%s declined the private chat", ev.By.Name))
	case realtime.P2PMessageReceived:
		c.p2p.Receive(ev.P2PMessage)
	case realtime.ForumPostAdded:
		if ev.CourseID == "" || ev.CourseID == c.opts.CourseID {
			c.board.Prepend(ev.ForumPost)
		}
	case realtime.ForumReplyAdded:
		c.board.AppendReply(ev.PostID, ev.Reply)
	case realtime.ErrorEvent:
		c.logger.Warn().Str("code", ev.Code).Str("event", string(ev.Event)).Msg(ev.Message)
		c.notify(NoticeWarning, ev.Message)
	default:
		c.logger.Debug().Str("event", string(event.Name())).Msg("ignoring realtime event")
	}
}

func (c *Controller) applyConnectionState(state ConnectionState) {
	if c.conn == nil || c.connState == state {
		return
	}
	c.connState = state
	switch state {
	case StateReconnecting:
		c.group.StopTyping()
		c.notify(NoticeWarning, "Connection lost. Reconnecting...")
	case StateConnected:
		c.notify(NoticeInfo, "Reconnected.")
	case StateDisconnected:
		c.notify(NoticeWarning, "Disconnected from live chat.")
	}
}

func (c *Controller) showP2P() {
	c.group.StopTyping()
	c.groupOpen = false
}

func (c *Controller) requireChat() error {
	if c.conn == nil {
		return ErrChatUnavailable
	}
	return nil
}

func (c *Controller) emit(event realtime.Event) error {
	if c.conn == nil {
		return ErrChatUnavailable
	}
	ctx, cancel := context.WithTimeout(c.ctx, emitTimeout)
	defer cancel()
	return c.conn.Send(ctx, event)
}

func (c *Controller) notify(level NoticeLevel, text string) {
	c.notices = append(c.notices, Notice{Level: level, Text: text, At: c.clock.Now()})
	if len(c.notices) > maxNotices {
		c.notices = append([]Notice(nil), c.notices[len(c.notices)-maxNotices:]...)
	}
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.actions:
			fn()
			if c.opts.OnChange != nil {
				c.opts.OnChange(c.snapshot())
			}
		}
	}
}

func (c *Controller) enqueue(fn func()) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.actions <- fn:
		return true
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !c.enqueue(func() { result <- fn() }) {
		return ErrControllerClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loopDone:
		select {
		case err := <-result:
			return err
		default:
			return ErrControllerClosed
		}
	}
}

// requestContext is cancelled by either the caller or Close.
func (c *Controller) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return reqCtx, func() {
		stop()
		cancel()
	}
}

func displayName(notice realtime.PresenceNotice) string {
	if notice.DisplayName != "" {
		return notice.DisplayName
	}
	if notice.User.Name != "" {
		return notice.User.Name
	}
	return "Someone"
}
