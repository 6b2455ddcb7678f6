package forumclient

import "errors"

var (
	// ErrEmptyMessage is returned when a message is blank after trimming; nothing is sent.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotAuthenticated is returned when an event is sent before authenticate.
	ErrNotAuthenticated = errors.New("connection not authenticated")
	// ErrNotConnected is returned while the transport is down or reconnecting.
	ErrNotConnected = errors.New("realtime connection unavailable")
	// ErrConnectionClosed is returned after Close.
	ErrConnectionClosed = errors.New("realtime connection closed")
	// ErrChatUnavailable is returned by chat operations when the view runs without a connection.
	ErrChatUnavailable = errors.New("live chat unavailable")
	// ErrNoActiveSession is returned when sending a private message with no active session.
	ErrNoActiveSession = errors.New("no active private chat")
	// ErrNoInvitation is returned when accepting or declining an unknown invitation.
	ErrNoInvitation = errors.New("no pending invitation for room")
	// ErrUnknownSession is returned when activating a room without a session.
	ErrUnknownSession = errors.New("unknown private chat session")
	// ErrSelfInvite is returned when a user tries to open a private chat with themselves.
	ErrSelfInvite = errors.New("cannot start a private chat with yourself")
	// ErrControllerClosed is returned by controller operations after Close.
	ErrControllerClosed = errors.New("forum view closed")
)
