package forumclient

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const maxNotices = 20

// Options configures Mount.
type Options struct {
	// RealtimeURL is the websocket endpoint, for example ws://localhost:8080/api/v2/forum/ws.
	RealtimeURL string
	CourseID    string
	User        realtime.UserRef
	API         API

	Dialer          Dialer
	Header          http.Header
	Backoff         Backoff
	Clock           Clock
	Logger          zerolog.Logger
	P2PHistoryLimit int

	// OnChange receives a snapshot after every mutation. It runs on the controller loop
	// and must not call back into the controller synchronously.
	OnChange func(ViewState)
}

// Panel is a chat surface of the forum view.
type Panel int

// Panels. PanelGroupChat and PanelP2P are mutually exclusive.
const (
	PanelGroupChat Panel = iota
	PanelP2P
	PanelAssistant
)

// NoticeLevel classifies a notice.
type NoticeLevel string

// Notice levels.
const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a non-blocking message shown alongside the view.
type Notice struct {
	Level NoticeLevel
	Text  string
	At    time.Time
}

// BoardQuery selects and orders the visible posts.
type BoardQuery struct {
	Filter Filter
	Search string
	Sort   SortKey
}

// ViewState is an immutable snapshot of the forum view.
type ViewState struct {
	Course         realtime.Course
	CourseFallback bool

	Query         BoardQuery
	Posts         []realtime.ForumPost
	TotalPosts    int
	BoardFallback bool

	ChatAvailable    bool
	Connection       ConnectionState
	ShowDisconnected bool
	SessionID        string

	Online      []realtime.OnlineUser
	OnlineCount int

	GroupChatOpen bool
	GroupMessages []realtime.GroupMessage
	GroupTyping   []TypingIndicator

	ActiveP2P   *P2PSession
	P2PMessages []realtime.P2PMessage
	P2PTyping   []TypingIndicator
	P2PSessions []P2PSession
	Invitations []P2PInvitation

	AssistantOpen    bool
	Assistant        []AssistantEntry
	AssistantPending bool

	Notices []Notice
}

func (c *Controller) snapshot() ViewState {
	state := ViewState{
		Course:         c.course.Data,
		CourseFallback: c.course.Fallback,

		Query:         c.query,
		Posts:         c.board.List(c.query.Filter, c.query.Search, c.query.Sort),
		TotalPosts:    c.board.Len(),
		BoardFallback: c.board.Fallback(),

		ChatAvailable: c.conn != nil,
		Connection:    c.connState,
		SessionID:     c.sessionID,

		Online:      c.presence.Roster(),
		OnlineCount: c.presence.Count(),

		GroupChatOpen: c.groupOpen,
		GroupMessages: c.group.Messages(),
		GroupTyping:   c.group.Typing(),

		P2PMessages: c.p2p.ActiveMessages(),
		P2PTyping:   c.p2p.ActiveTyping(),
		P2PSessions: c.p2p.Sessions(),
		Invitations: c.p2p.Pending(),

		AssistantOpen:    c.assistantOpen,
		Assistant:        c.assistant.Entries(),
		AssistantPending: c.assistant.Pending(),

		Notices: append([]Notice(nil), c.notices...),
	}
	state.ShowDisconnected = !state.ChatAvailable || c.connState != StateConnected
	if session, ok := c.p2p.ActiveSession(); ok {
		state.ActiveP2P = &session
	}
	return state
}
