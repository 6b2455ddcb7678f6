package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned when a frame carries an event name outside the protocol.
	ErrUnknownEvent = errors.New("unknown realtime event")
	// ErrMalformedFrame is returned when a frame is not a valid envelope.
	ErrMalformedFrame = errors.New("malformed realtime frame")
)

// Envelope is the frame layout on the wire.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode serialises an event into an envelope frame.
func Encode(event Event) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedFrame)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.Name(), err)
	}

	return json.Marshal(Envelope{Event: event.Name(), Data: data})
}

// Decode parses an envelope frame into its concrete event type.
func Decode(frame []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if envelope.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}

	return DecodeData(envelope.Event, envelope.Data)
}

// DecodeData decodes the payload of a named event.
func DecodeData(name EventName, data json.RawMessage) (Event, error) {
	switch name {
	case EventAuthenticate:
		return decodeAs[Authenticate](name, data)
	case EventJoinCourseForum:
		return decodeAs[JoinCourseForum](name, data)
	case EventJoinLiveChat:
		return decodeAs[JoinLiveChat](name, data)
	case EventSendChatMessage:
		return decodeAs[SendChatMessage](name, data)
	case EventTypingStart:
		return decodeAs[TypingStart](name, data)
	case EventTypingStop:
		return decodeAs[TypingStop](name, data)
	case EventInitiateP2PChat:
		return decodeAs[InitiateP2PChat](name, data)
	case EventAcceptP2PChat:
		return decodeAs[AcceptP2PChat](name, data)
	case EventDeclineP2PChat:
		return decodeAs[DeclineP2PChat](name, data)
	case EventSendP2PMessage:
		return decodeAs[SendP2PMessage](name, data)
	case EventAuthenticated:
		return decodeAs[Authenticated](name, data)
	case EventCourseOnlineUsers:
		return decodeAs[CourseOnlineUsers](name, data)
	case EventOnlineUsersUpdate:
		return decodeAs[OnlineUsersUpdate](name, data)
	case EventUserJoinedChat:
		return decodeAs[UserJoinedChat](name, data)
	case EventUserLeftChat:
		return decodeAs[UserLeftChat](name, data)
	case EventNewChatMessage:
		return decodeAs[NewChatMessage](name, data)
	case EventUserTyping:
		return decodeAs[UserTyping](name, data)
	case EventP2PChatRequest:
		return decodeAs[P2PChatRequest](name, data)
	case EventP2PChatAccepted:
		return decodeAs[P2PChatAccepted](name, data)
	case EventP2PChatDeclined:
		return decodeAs[P2PChatDeclined](name, data)
	case EventP2PMessage:
		return decodeAs[P2PMessageReceived](name, data)
	case EventForumPostAdded:
		return decodeAs[ForumPostAdded](name, data)
	case EventForumReplyAdded:
		return decodeAs[ForumReplyAdded](name, data)
	case EventError:
		return decodeAs[ErrorEvent](name, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decodeAs[T Event](name EventName, data json.RawMessage) (Event, error) {
	var event T
	if len(data) == 0 || string(data) == "null" {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedFrame, name)
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedFrame, name, err)
	}
	return event, nil
}
