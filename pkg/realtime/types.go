package realtime

import "time"

// UserRef identifies the author of a message or presence entry.
type UserRef struct {
	ID        string `json:"id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=128"`
	AvatarURL string `json:"avatarUrl,omitempty" validate:"omitempty,max=512"`
}

// OnlineUser is a single presence entry. Entries are keyed by transport session,
// so the same user may appear more than once (several tabs).
type OnlineUser struct {
	SessionID string    `json:"sessionId"`
	User      UserRef   `json:"user"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Message kinds used by the group chat.
const (
	MessageKindText   = "text"
	MessageKindSystem = "system"
)

// GroupMessage is a single entry in a course chat room.
type GroupMessage struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	User   *UserRef  `json:"user,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// P2PMessage is a private message exchanged inside a pairwise room.
type P2PMessage struct {
	ID     string    `json:"id"`
	RoomID string    `json:"roomId"`
	User   UserRef   `json:"user"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// PostKind classifies forum threads.
type PostKind string

// Supported post kinds.
const (
	PostKindQuestion     PostKind = "question"
	PostKindDiscussion   PostKind = "discussion"
	PostKindHelp         PostKind = "help"
	PostKindAnnouncement PostKind = "announcement"
)

// Valid reports whether the kind is one of the known post kinds.
func (k PostKind) Valid() bool {
	switch k {
	case PostKindQuestion, PostKindDiscussion, PostKindHelp, PostKindAnnouncement:
		return true
	}
	return false
}

// ForumAuthor extends a user reference with community standing.
type ForumAuthor struct {
	UserRef
	Reputation int    `json:"reputation"`
	Badge      string `json:"badge,omitempty"`
}

// ForumReply is a reply attached to a forum post.
type ForumReply struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Author     ForumAuthor `json:"author"`
	CreatedAt  time.Time   `json:"createdAt"`
	Upvotes    int         `json:"upvotes"`
	Downvotes  int         `json:"downvotes"`
	IsAccepted bool        `json:"isAccepted"`
}

// ForumPost is a discussion thread with its replies.
type ForumPost struct {
	ID                string       `json:"id"`
	CourseID          string       `json:"courseId"`
	Title             string       `json:"title"`
	Content           string       `json:"content"`
	Author            ForumAuthor  `json:"author"`
	Kind              PostKind     `json:"kind"`
	Tags              []string     `json:"tags"`
	CreatedAt         time.Time    `json:"createdAt"`
	LastActivityAt    time.Time    `json:"lastActivityAt"`
	Upvotes           int          `json:"upvotes"`
	Downvotes         int          `json:"downvotes"`
	ViewCount         int          `json:"viewCount"`
	Pinned            bool         `json:"pinned"`
	Closed            bool         `json:"closed"`
	Replies           []ForumReply `json:"replies"`
	HasAcceptedAnswer bool         `json:"hasAcceptedAnswer"`
}

// Score is the net vote count of the post.
func (p ForumPost) Score() int {
	return p.Upvotes - p.Downvotes
}

// Clone returns a deep copy so callers can hand posts across ownership boundaries.
func (p ForumPost) Clone() ForumPost {
	out := p
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	if p.Replies != nil {
		out.Replies = append([]ForumReply(nil), p.Replies...)
	}
	return out
}
