package realtime

import (
	"encoding/json"
	"time"
)

// EventName is the tag of a frame on the realtime connection.
type EventName string

// Client to server events.
const (
	EventAuthenticate    EventName = "authenticate"
	EventJoinCourseForum EventName = "join-course-forum"
	EventJoinLiveChat    EventName = "join-live-chat"
	EventSendChatMessage EventName = "send-chat-message"
	EventTypingStart     EventName = "typing-start"
	EventTypingStop      EventName = "typing-stop"
	EventInitiateP2PChat EventName = "initiate-p2p-chat"
	EventAcceptP2PChat   EventName = "accept-p2p-chat"
	EventDeclineP2PChat  EventName = "decline-p2p-chat"
	EventSendP2PMessage  EventName = "send-p2p-message"
)

// Server to client events.
const (
	EventAuthenticated     EventName = "authenticated"
	EventCourseOnlineUsers EventName = "course-online-users"
	EventOnlineUsersUpdate EventName = "online-users-update"
	EventUserJoinedChat    EventName = "user-joined-chat"
	EventUserLeftChat      EventName = "user-left-chat"
	EventNewChatMessage    EventName = "new-chat-message"
	EventUserTyping        EventName = "user-typing"
	EventP2PChatRequest    EventName = "p2p-chat-request"
	EventP2PChatAccepted   EventName = "p2p-chat-accepted"
	EventP2PChatDeclined   EventName = "p2p-chat-declined"
	EventP2PMessage        EventName = "p2p-message"
	EventForumPostAdded    EventName = "forum-post-added"
	EventForumReplyAdded   EventName = "forum-reply-added"
	EventError             EventName = "error"
)

// Typing scopes.
const (
	ScopeCourse = "course"
	ScopeP2P    = "p2p"
)

// Typing transitions carried by user-typing.
const (
	TypingStarted = "start"
	TypingStopped = "stop"
)

// Event is the closed set of frames exchanged over the realtime connection.
type Event interface {
	Name() EventName
	isEvent()
}

// Authenticate binds the connection to an identity. It must precede every other outbound event.
type Authenticate struct {
	UserID      string `json:"userId" validate:"required,max=64"`
	DisplayName string `json:"name" validate:"required,max=128"`
	Avatar      string `json:"avatar,omitempty" validate:"omitempty,max=512"`
}

// JoinCourseForum subscribes the connection to board updates of a course.
type JoinCourseForum struct {
	CourseID string `validate:"required,max=64"`
}

// JoinLiveChat subscribes the connection to presence and group chat of a course.
type JoinLiveChat struct {
	CourseID string `validate:"required,max=64"`
}

// SendChatMessage posts text into the course room.
type SendChatMessage struct {
	CourseID string `json:"courseId" validate:"required,max=64"`
	Message  string `json:"message" validate:"required,min=1,max=4000"`
	Type     string `json:"type" validate:"omitempty,oneof=text"`
}

// TypingPayload is shared by typing-start and typing-stop.
type TypingPayload struct {
	RoomID string `json:"roomId" validate:"required,max=160"`
	Type   string `json:"type" validate:"required,oneof=course p2p"`
}

// TypingStart hints that the sender started typing in a room.
type TypingStart struct{ TypingPayload }

// TypingStop hints that the sender stopped typing in a room.
type TypingStop struct{ TypingPayload }

// InitiateP2PChat invites another user into a private room.
type InitiateP2PChat struct {
	TargetUserID string `json:"targetUserId" validate:"required,max=64"`
	RoomID       string `json:"roomId" validate:"required,max=160"`
	Message      string `json:"message,omitempty" validate:"omitempty,max=500"`
}

// P2PResolution is shared by accept-p2p-chat and decline-p2p-chat.
type P2PResolution struct {
	RoomID     string `json:"roomId" validate:"required,max=160"`
	FromUserID string `json:"fromUserId,omitempty" validate:"omitempty,max=64"`
}

// AcceptP2PChat accepts a pending invitation.
type AcceptP2PChat struct{ P2PResolution }

// DeclineP2PChat declines a pending invitation.
type DeclineP2PChat struct{ P2PResolution }

// SendP2PMessage posts text into a private room.
type SendP2PMessage struct {
	RoomID  string `json:"roomId" validate:"required,max=160"`
	Message string `json:"message" validate:"required,min=1,max=4000"`
	Type    string `json:"type" validate:"omitempty,oneof=text"`
}

// Authenticated acknowledges authenticate and reveals the transport session id.
type Authenticated struct {
	SessionID string  `json:"sessionId"`
	User      UserRef `json:"user"`
}

// CourseOnlineUsers is the roster sent to a connection right after it joins the live chat.
type CourseOnlineUsers struct {
	Users []OnlineUser
}

// OnlineUsersUpdate is the roster broadcast whenever presence changes.
type OnlineUsersUpdate struct {
	Users []OnlineUser
}

// PresenceNotice is shared by user-joined-chat and user-left-chat.
type PresenceNotice struct {
	SessionID   string    `json:"sessionId"`
	User        UserRef   `json:"user"`
	DisplayName string    `json:"name"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserJoinedChat announces a new transport session in the course room.
type UserJoinedChat struct{ PresenceNotice }

// UserLeftChat announces a transport session leaving the course room.
type UserLeftChat struct{ PresenceNotice }

// NewChatMessage delivers a group message, including the echo of the sender's own message.
type NewChatMessage struct{ GroupMessage }

// UserTyping relays another user's typing state.
type UserTyping struct {
	UserID   string `json:"userId"`
	UserName string `json:"name"`
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Scope    string `json:"scope"`
}

// P2PChatRequest delivers an invitation to the target user.
type P2PChatRequest struct {
	From       string `json:"from"`
	FromName   string `json:"fromName"`
	FromAvatar string `json:"fromAvatar,omitempty"`
	RoomID     string `json:"roomId"`
	Message    string `json:"message,omitempty"`
}

// Inviter returns the inviting user as a reference.
func (r P2PChatRequest) Inviter() UserRef {
	return UserRef{ID: r.From, Name: r.FromName, AvatarURL: r.FromAvatar}
}

// P2POutcome is shared by p2p-chat-accepted and p2p-chat-declined.
type P2POutcome struct {
	RoomID string  `json:"roomId"`
	By     UserRef `json:"by"`
}

// P2PChatAccepted tells the inviter that the peer accepted.
type P2PChatAccepted struct{ P2POutcome }

// P2PChatDeclined tells the inviter that the peer declined.
type P2PChatDeclined struct{ P2POutcome }

// P2PMessageReceived delivers a private message.
type P2PMessageReceived struct{ P2PMessage }

// ForumPostAdded pushes a new thread to board subscribers.
type ForumPostAdded struct{ ForumPost }

// ForumReplyAdded pushes a new reply to board subscribers.
type ForumReplyAdded struct {
	PostID string     `json:"postId"`
	Reply  ForumReply `json:"reply"`
}

// ErrorEvent reports a rejected outbound event.
type ErrorEvent struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Event   EventName `json:"event,omitempty"`
}

func (Authenticate) Name() EventName       { return EventAuthenticate }
func (JoinCourseForum) Name() EventName    { return EventJoinCourseForum }
func (JoinLiveChat) Name() EventName       { return EventJoinLiveChat }
func (SendChatMessage) Name() EventName    { return EventSendChatMessage }
func (TypingStart) Name() EventName        { return EventTypingStart }
func (TypingStop) Name() EventName         { return EventTypingStop }
func (InitiateP2PChat) Name() EventName    { return EventInitiateP2PChat }
func (AcceptP2PChat) Name() EventName      { return EventAcceptP2PChat }
func (DeclineP2PChat) Name() EventName     { return EventDeclineP2PChat }
func (SendP2PMessage) Name() EventName     { return EventSendP2PMessage }
func (Authenticated) Name() EventName      { return EventAuthenticated }
func (CourseOnlineUsers) Name() EventName  { return EventCourseOnlineUsers }
func (OnlineUsersUpdate) Name() EventName  { return EventOnlineUsersUpdate }
func (UserJoinedChat) Name() EventName     { return EventUserJoinedChat }
func (UserLeftChat) Name() EventName       { return EventUserLeftChat }
func (NewChatMessage) Name() EventName     { return EventNewChatMessage }
func (UserTyping) Name() EventName         { return EventUserTyping }
func (P2PChatRequest) Name() EventName     { return EventP2PChatRequest }
func (P2PChatAccepted) Name() EventName    { return EventP2PChatAccepted }
func (P2PChatDeclined) Name() EventName    { return EventP2PChatDeclined }
func (P2PMessageReceived) Name() EventName { return EventP2PMessage }
func (ForumPostAdded) Name() EventName     { return EventForumPostAdded }
func (ForumReplyAdded) Name() EventName    { return EventForumReplyAdded }
func (ErrorEvent) Name() EventName         { return EventError }

func (Authenticate) isEvent()       {}
func (JoinCourseForum) isEvent()    {}
func (JoinLiveChat) isEvent()       {}
func (SendChatMessage) isEvent()    {}
func (TypingStart) isEvent()        {}
func (TypingStop) isEvent()         {}
func (InitiateP2PChat) isEvent()    {}
func (AcceptP2PChat) isEvent()      {}
func (DeclineP2PChat) isEvent()     {}
func (SendP2PMessage) isEvent()     {}
func (Authenticated) isEvent()      {}
func (CourseOnlineUsers) isEvent()  {}
func (OnlineUsersUpdate) isEvent()  {}
func (UserJoinedChat) isEvent()     {}
func (UserLeftChat) isEvent()       {}
func (NewChatMessage) isEvent()     {}
func (UserTyping) isEvent()         {}
func (P2PChatRequest) isEvent()     {}
func (P2PChatAccepted) isEvent()    {}
func (P2PChatDeclined) isEvent()    {}
func (P2PMessageReceived) isEvent() {}
func (ForumPostAdded) isEvent()     {}
func (ForumReplyAdded) isEvent()    {}
func (ErrorEvent) isEvent()         {}

// The join events and roster events travel as bare JSON values rather than objects.

func (e JoinCourseForum) MarshalJSON() ([]byte, error) { return json.Marshal(e.CourseID) }

func (e *JoinCourseForum) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.CourseID)
}

func (e JoinLiveChat) MarshalJSON() ([]byte, error) { return json.Marshal(e.CourseID) }

func (e *JoinLiveChat) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.CourseID)
}

func (e CourseOnlineUsers) MarshalJSON() ([]byte, error) { return marshalRoster(e.Users) }

func (e *CourseOnlineUsers) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Users)
}

func (e OnlineUsersUpdate) MarshalJSON() ([]byte, error) { return marshalRoster(e.Users) }

func (e *OnlineUsersUpdate) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Users)
}

func marshalRoster(users []OnlineUser) ([]byte, error) {
	if users == nil {
		users = []OnlineUser{}
	}
	return json.Marshal(users)
}
