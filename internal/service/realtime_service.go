package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-forum/internal/dto"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/models"
	"github.com/noah-isme/gema-forum/internal/observability"
	"github.com/noah-isme/gema-forum/internal/repository"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const (
	realtimeSendBufferSize = 64
	realtimeWriteTimeout   = 10 * time.Second
	realtimePingInterval   = 30 * time.Second
	realtimeCleanupTimeout = 5 * time.Second
)

// Error codes carried by error events.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeInvalidFrame    = "invalid_frame"
	CodeInvalidPayload  = "invalid_payload"
	CodeNotJoined       = "not_joined"
	CodeUnsupported     = "unsupported_event"
	CodeInternal        = "internal"
)

var (
	// ErrRealtimeForbidden is reported when an event addresses a room the sender may not use.
	ErrRealtimeForbidden = errors.New("sender not authorised for room")
	// ErrRealtimeEmptyMessage is reported when a message is empty once sanitised.
	ErrRealtimeEmptyMessage = errors.New("message content empty after sanitization")

	errNoInvitation = eventError{code: CodeNotJoined, message: "no pending invitation for room"}
	errNoP2PSession = eventError{code: CodeNotJoined, message: "private chat not accepted"}
)

// Socket is the part of a websocket connection the hub drives.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// RealtimeConnectionOptions wraps metadata extracted during the HTTP upgrade.
type RealtimeConnectionOptions struct {
	// Identity is the verified token subject. When set, authenticate must name the same user.
	Identity      *realtime.UserRef
	Role          string
	CorrelationID string
	Context       context.Context
}

// RealtimeConfig tunes the realtime hub.
type RealtimeConfig struct {
	// ChannelBase prefixes the redis channel and NATS subject used for fan-out.
	ChannelBase  string
	HistoryLimit int
	// Sessions records private room invitations and acceptances. Defaults to memory.
	Sessions P2PSessionStore
}

// Broadcaster pushes server-originated events to everyone watching a course board.
type Broadcaster interface {
	BroadcastCourse(ctx context.Context, courseID string, event realtime.Event)
}

// RealtimeService manages forum websocket connections, presence and chat delivery.
type RealtimeService interface {
	Broadcaster
	ServeConnection(conn Socket, opts RealtimeConnectionOptions)
	History(ctx context.Context, query dto.ChatHistoryQuery) ([]realtime.GroupMessage, error)
	Start(ctx context.Context)
}

type realtimeService struct {
	repo         repository.ChatRepository
	presence     PresenceStore
	sessions     P2PSessionStore
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	sanitizer    *bluemonday.Policy
	strict       *bluemonday.Policy
	hub          *realtimeHub
	nodeID       string
	historyLimit int
	now          func() time.Time
}

// fanoutEnvelope carries an encoded frame to the other nodes. Exactly one of Room or UserID is set.
type fanoutEnvelope struct {
	Source  string          `json:"source"`
	Room    string          `json:"room,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Event   string          `json:"event"`
	Frame   json.RawMessage `json:"frame"`
	SentAt  time.Time       `json:"sent_at"`
}

// target addresses a delivery: a room (optionally skipping one session) or all connections of a user.
type target struct {
	room    string
	userID  string
	exclude string
}

// NewRealtimeService creates the websocket hub. redisClient and natsConn are optional; without
// either the hub only reaches connections on this node.
func NewRealtimeService(repo repository.ChatRepository, presence PresenceStore, redisClient *redis.Client, natsConn *nats.Conn, validate *validator.Validate, cfg RealtimeConfig, logger zerolog.Logger) RealtimeService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	if presence == nil {
		presence = NewMemoryPresenceStore()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewMemoryP2PSessionStore()
	}

	redisChannel := ""
	natsSubject := ""
	if cfg.ChannelBase != "" {
		redisChannel = cfg.ChannelBase + ":realtime"
		natsSubject = strings.ReplaceAll(cfg.ChannelBase, ":", ".") + ".realtime"
	}

	return &realtimeService{
		repo:         repo,
		presence:     presence,
		sessions:     cfg.Sessions,
		redis:        redisClient,
		redisChannel: redisChannel,
		nats:         natsConn,
		natsSubject:  natsSubject,
		validator:    validate,
		logger:       logger.With().Str("component", "realtime_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-forum/internal/service/realtime"),
		sanitizer:    sanitizer,
		strict:       bluemonday.StrictPolicy(),
		hub:          newRealtimeHub(logger),
		nodeID:       uuid.NewString(),
		historyLimit: cfg.HistoryLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func forumRoom(courseID string) string { return "forum:" + courseID }
func chatRoom(courseID string) string  { return "chat:" + courseID }

// Start subscribes to cross-node fan-out. NATS is preferred when both transports are configured
// so each frame reaches a node once.
func (s *realtimeService) Start(ctx context.Context) {
	switch {
	case s.nats != nil && s.natsSubject != "":
		s.consumeNATS(ctx)
	case s.redis != nil && s.redisChannel != "":
		go s.consumeRedis(ctx)
	}
}

func (s *realtimeService) ServeConnection(conn Socket, opts RealtimeConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = middleware.CorrelationIDFromContext(baseCtx)
	}

	client := &realtimeClient{
		conn:        conn,
		send:        make(chan []byte, realtimeSendBufferSize),
		options:     opts,
		service:     s,
		closed:      make(chan struct{}),
		sessionID:   uuid.NewString(),
		chatCourses: make(map[string]struct{}),
		baseCtx:     baseCtx,
	}

	s.hub.register(client)
	observability.RealtimeConnectionsTotal().Inc()
	observability.RealtimeConnections().Inc()
	defer observability.RealtimeConnections().Dec()

	go client.writer()
	client.reader()
}

func (s *realtimeService) History(ctx context.Context, query dto.ChatHistoryQuery) ([]realtime.GroupMessage, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}
	limit := query.Limit
	if limit <= 0 {
		limit = s.historyLimit
	}

	messages, err := s.repo.ListByRoom(ctx, chatRoom(query.CourseID), before, limit)
	if err != nil {
		return nil, err
	}

	return dto.NewGroupMessageSlice(messages), nil
}

func (s *realtimeService) BroadcastCourse(ctx context.Context, courseID string, event realtime.Event) {
	s.deliver(ctx, target{room: forumRoom(courseID)}, event)
}

// dispatch handles one inbound event. Failures are reported to the sender as error events.
func (s *realtimeService) dispatch(ctx context.Context, client *realtimeClient, event realtime.Event) {
	name := string(event.Name())

	if auth, ok := event.(realtime.Authenticate); ok {
		s.finish(client, event, s.authenticate(client, auth))
		return
	}

	user, authenticated := client.identity()
	if !authenticated {
		observability.RealtimeEvents().WithLabelValues(name, CodeUnauthenticated).Inc()
		client.sendError(CodeUnauthenticated, "authenticate before sending "+name, event.Name())
		return
	}

	var err error
	switch e := event.(type) {
	case realtime.JoinCourseForum:
		err = s.joinForum(client, e)
	case realtime.JoinLiveChat:
		err = s.joinLiveChat(ctx, client, user, e)
	case realtime.SendChatMessage:
		err = s.sendChatMessage(ctx, client, user, e)
	case realtime.TypingStart:
		err = s.relayTyping(ctx, client, user, e.TypingPayload, realtime.TypingStarted)
	case realtime.TypingStop:
		err = s.relayTyping(ctx, client, user, e.TypingPayload, realtime.TypingStopped)
	case realtime.InitiateP2PChat:
		err = s.initiateP2P(ctx, client, user, e)
	case realtime.AcceptP2PChat:
		err = s.resolveP2P(ctx, client, user, e.P2PResolution, true)
	case realtime.DeclineP2PChat:
		err = s.resolveP2P(ctx, client, user, e.P2PResolution, false)
	case realtime.SendP2PMessage:
		err = s.sendP2PMessage(ctx, client, user, e)
	default:
		err = eventError{code: CodeUnsupported, message: name + " is not accepted from clients"}
	}

	s.finish(client, event, err)
}

type eventError struct {
	code    string
	message string
}

func (e eventError) Error() string { return e.message }

func (s *realtimeService) finish(client *realtimeClient, event realtime.Event, err error) {
	name := string(event.Name())
	if err == nil {
		observability.RealtimeEvents().WithLabelValues(name, "ok").Inc()
		return
	}

	code := CodeInternal
	var validationErrors validator.ValidationErrors
	var coded eventError
	switch {
	case errors.As(err, &coded):
		code = coded.code
	case errors.As(err, &validationErrors), errors.Is(err, ErrRealtimeEmptyMessage):
		code = CodeInvalidPayload
	case errors.Is(err, ErrRealtimeForbidden):
		code = CodeForbidden
	}

	observability.RealtimeEvents().WithLabelValues(name, code).Inc()
	if code == CodeInternal {
		client.logger().Error().Err(err).Str("event", name).Msg("realtime event failed")
		client.sendError(code, "event could not be processed", event.Name())
		return
	}
	client.logger().Debug().Err(err).Str("event", name).Msg("realtime event rejected")
	client.sendError(code, err.Error(), event.Name())
}

func (s *realtimeService) authenticate(client *realtimeClient, payload realtime.Authenticate) error {
	payload.UserID = strings.TrimSpace(payload.UserID)
	payload.DisplayName = strings.TrimSpace(s.strict.Sanitize(payload.DisplayName))
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	if verified := client.options.Identity; verified != nil && verified.ID != payload.UserID {
		return eventError{code: CodeForbidden, message: "identity does not match token"}
	}
	if current, ok := client.identity(); ok && current.ID != payload.UserID {
		return eventError{code: CodeForbidden, message: "connection already bound to another user"}
	}

	user := realtime.UserRef{ID: payload.UserID, Name: payload.DisplayName, AvatarURL: strings.TrimSpace(payload.Avatar)}
	client.setIdentity(user)
	s.hub.bindUser(client, user.ID)

	client.enqueue(realtime.Authenticated{SessionID: client.sessionID, User: user})
	return nil
}

func (s *realtimeService) joinForum(client *realtimeClient, payload realtime.JoinCourseForum) error {
	payload.CourseID = strings.TrimSpace(payload.CourseID)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	s.hub.join(forumRoom(payload.CourseID), client)
	return nil
}

func (s *realtimeService) joinLiveChat(ctx context.Context, client *realtimeClient, user realtime.UserRef, payload realtime.JoinLiveChat) error {
	courseID := strings.TrimSpace(payload.CourseID)
	payload.CourseID = courseID
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	fresh := s.hub.join(chatRoom(courseID), client)
	if fresh {
		client.addChatCourse(courseID)
		entry := realtime.OnlineUser{SessionID: client.sessionID, User: user, JoinedAt: s.now()}
		if err := s.presence.Join(ctx, courseID, entry); err != nil {
			return err
		}
	}

	roster, err := s.presence.List(ctx, courseID)
	if err != nil {
		return err
	}
	client.enqueue(realtime.CourseOnlineUsers{Users: roster})

	if fresh {
		notice := realtime.PresenceNotice{
			SessionID:   client.sessionID,
			User:        user,
			DisplayName: user.Name,
			Timestamp:   s.now(),
		}
		s.deliver(ctx, target{room: chatRoom(courseID)}, realtime.UserJoinedChat{PresenceNotice: notice})
		s.deliver(ctx, target{room: chatRoom(courseID)}, realtime.OnlineUsersUpdate{Users: roster})
	}
	return nil
}

// leaveLiveChat reverses joinLiveChat for a closing connection.
func (s *realtimeService) leaveLiveChat(ctx context.Context, client *realtimeClient, user realtime.UserRef, courseID string) {
	removed, err := s.presence.Leave(ctx, courseID, client.sessionID)
	if err != nil {
		client.logger().Warn().Err(err).Str("course_id", courseID).Msg("failed to remove presence")
		return
	}
	if !removed {
		return
	}

	roster, err := s.presence.List(ctx, courseID)
	if err != nil {
		client.logger().Warn().Err(err).Str("course_id", courseID).Msg("failed to list presence")
		return
	}

	notice := realtime.PresenceNotice{
		SessionID:   client.sessionID,
		User:        user,
		DisplayName: user.Name,
		Timestamp:   s.now(),
	}
	s.deliver(ctx, target{room: chatRoom(courseID)}, realtime.UserLeftChat{PresenceNotice: notice})
	s.deliver(ctx, target{room: chatRoom(courseID)}, realtime.OnlineUsersUpdate{Users: roster})
}

func (s *realtimeService) sendChatMessage(ctx context.Context, client *realtimeClient, user realtime.UserRef, payload realtime.SendChatMessage) error {
	payload.CourseID = strings.TrimSpace(payload.CourseID)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if !client.inChatCourse(payload.CourseID) {
		return eventError{code: CodeNotJoined, message: "join the live chat before sending"}
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if clean == "" {
		return ErrRealtimeEmptyMessage
	}

	room := chatRoom(payload.CourseID)
	spanCtx, span := s.tracer.Start(ctx, "realtime.chat_message", trace.WithAttributes(
		attribute.String("chat.room_id", room),
		attribute.String("chat.sender_id", user.ID),
		attribute.String("correlation_id", client.options.CorrelationID),
	))
	defer span.End()

	model := models.ChatMessage{
		RoomID:       room,
		SenderID:     user.ID,
		SenderName:   user.Name,
		SenderAvatar: user.AvatarURL,
		Content:      clean,
		Type:         realtime.MessageKindText,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return err
	}

	s.deliver(spanCtx, target{room: room}, realtime.NewChatMessage{GroupMessage: dto.NewGroupMessage(model)})
	observability.RealtimeMessages().WithLabelValues(realtime.ScopeCourse).Inc()
	return nil
}

func (s *realtimeService) relayTyping(ctx context.Context, client *realtimeClient, user realtime.UserRef, payload realtime.TypingPayload, transition string) error {
	payload.RoomID = strings.TrimSpace(payload.RoomID)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	indicator := realtime.UserTyping{
		UserID:   user.ID,
		UserName: user.Name,
		Type:     transition,
		RoomID:   payload.RoomID,
		Scope:    payload.Type,
	}

	if payload.Type == realtime.ScopeP2P {
		peer, err := s.authorisePrivate(ctx, payload.RoomID, user.ID)
		if err != nil {
			return err
		}
		s.deliver(ctx, target{userID: peer}, indicator)
		return nil
	}

	if !client.inChatCourse(payload.RoomID) {
		return eventError{code: CodeNotJoined, message: "join the live chat before typing"}
	}
	s.deliver(ctx, target{room: chatRoom(payload.RoomID), exclude: client.sessionID}, indicator)
	return nil
}

func (s *realtimeService) initiateP2P(ctx context.Context, client *realtimeClient, user realtime.UserRef, payload realtime.InitiateP2PChat) error {
	payload.TargetUserID = strings.TrimSpace(payload.TargetUserID)
	payload.RoomID = strings.TrimSpace(payload.RoomID)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if payload.TargetUserID == user.ID {
		return eventError{code: CodeInvalidPayload, message: "cannot start a private chat with yourself"}
	}
	if payload.RoomID != realtime.RoomID(user.ID, payload.TargetUserID) {
		return ErrRealtimeForbidden
	}

	if _, err := s.sessions.Update(ctx, payload.RoomID, func(session *PrivateSession) (bool, error) {
		session.invite(user.ID)
		session.UpdatedAt = s.now()
		return true, nil
	}); err != nil {
		return err
	}

	s.deliver(ctx, target{userID: payload.TargetUserID}, realtime.P2PChatRequest{
		From:       user.ID,
		FromName:   user.Name,
		FromAvatar: user.AvatarURL,
		RoomID:     payload.RoomID,
		Message:    strings.TrimSpace(s.strict.Sanitize(payload.Message)),
	})
	return nil
}

func (s *realtimeService) resolveP2P(ctx context.Context, client *realtimeClient, user realtime.UserRef, payload realtime.P2PResolution, accepted bool) error {
	payload.RoomID = strings.TrimSpace(payload.RoomID)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	peer, ok := realtime.Peer(payload.RoomID, user.ID)
	if !ok {
		return ErrRealtimeForbidden
	}
	if payload.FromUserID != "" && payload.FromUserID != peer {
		return ErrRealtimeForbidden
	}

	if _, err := s.sessions.Update(ctx, payload.RoomID, func(session *PrivateSession) (bool, error) {
		invited := session.InvitedBy(peer)
		if !accepted {
			if !invited {
				return false, errNoInvitation
			}
			return false, nil
		}
		if !invited && !session.Accepted {
			return false, errNoInvitation
		}
		session.Accepted = true
		session.Inviters = nil
		session.UpdatedAt = s.now()
		return true, nil
	}); err != nil {
		return err
	}

	outcome := realtime.P2POutcome{RoomID: payload.RoomID, By: user}
	if accepted {
		s.deliver(ctx, target{userID: peer}, realtime.P2PChatAccepted{P2POutcome: outcome})
		return nil
	}
	s.deliver(ctx, target{userID: peer}, realtime.P2PChatDeclined{P2POutcome: outcome})
	return nil
}

func (s *realtimeService) sendP2PMessage(ctx context.Context, client *realtimeClient, user realtime.UserRef, payload realtime.SendP2PMessage) error {
	payload.RoomID = strings.TrimSpace(payload.RoomID)
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	peer, err := s.authorisePrivate(ctx, payload.RoomID, user.ID)
	if err != nil {
		return err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if clean == "" {
		return ErrRealtimeEmptyMessage
	}

	spanCtx, span := s.tracer.Start(ctx, "realtime.p2p_message", trace.WithAttributes(
		attribute.String("chat.room_id", payload.RoomID),
		attribute.String("chat.sender_id", user.ID),
	))
	defer span.End()

	model := models.ChatMessage{
		RoomID:       payload.RoomID,
		SenderID:     user.ID,
		SenderName:   user.Name,
		SenderAvatar: user.AvatarURL,
		ReceiverID:   peer,
		Content:      clean,
		Type:         realtime.MessageKindText,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return err
	}

	message := realtime.P2PMessageReceived{P2PMessage: dto.NewP2PMessage(model)}
	s.deliver(spanCtx, target{userID: user.ID}, message)
	s.deliver(spanCtx, target{userID: peer}, message)
	observability.RealtimeMessages().WithLabelValues(realtime.ScopeP2P).Inc()
	return nil
}

// authorisePrivate returns the peer of a private room once the sender is allowed to talk in it.
func (s *realtimeService) authorisePrivate(ctx context.Context, roomID, userID string) (string, error) {
	peer, ok := realtime.Peer(roomID, userID)
	if !ok {
		return "", ErrRealtimeForbidden
	}
	session, err := s.sessions.Get(ctx, roomID)
	if err != nil {
		return "", err
	}
	if !session.Allows(userID) {
		return "", errNoP2PSession
	}
	return peer, nil
}

// deliver encodes an event once, hands it to local connections and publishes it to other nodes.
func (s *realtimeService) deliver(ctx context.Context, to target, event realtime.Event) {
	frame, err := realtime.Encode(event)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(event.Name())).Msg("failed to encode realtime event")
		return
	}

	s.hub.deliver(to, event.Name(), frame)
	s.publish(ctx, to, event.Name(), frame)
}

func (s *realtimeService) publish(ctx context.Context, to target, name realtime.EventName, frame []byte) {
	useNATS := s.nats != nil && s.natsSubject != ""
	useRedis := !useNATS && s.redis != nil && s.redisChannel != ""
	if !useNATS && !useRedis {
		return
	}

	payload, err := json.Marshal(fanoutEnvelope{
		Source:  s.nodeID,
		Room:    to.room,
		UserID:  to.userID,
		Exclude: to.exclude,
		Event:   string(name),
		Frame:   frame,
		SentAt:  s.now(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal fan-out envelope")
		return
	}

	if useNATS {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			observability.FanoutErrors().WithLabelValues("nats").Inc()
			s.logger.Warn().Err(err).Msg("failed to publish realtime frame to nats")
		}
		return
	}

	if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
		observability.FanoutErrors().WithLabelValues("redis").Inc()
		s.logger.Warn().Err(err).Msg("failed to publish realtime frame to redis")
	}
}

func (s *realtimeService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		s.handleFanout([]byte(msg.Payload))
	}
}

// consumeNATS subscribes without a queue group: every node must see every frame.
func (s *realtimeService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleFanout(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats realtime subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()
}

func (s *realtimeService) handleFanout(data []byte) {
	// Our own frames come back on redis; skip them before paying for a full decode.
	if gjson.GetBytes(data, "source").String() == s.nodeID {
		return
	}

	var envelope fanoutEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid realtime fan-out envelope")
		return
	}
	if len(envelope.Frame) == 0 {
		return
	}

	s.hub.deliver(target{room: envelope.Room, userID: envelope.UserID, exclude: envelope.Exclude},
		realtime.EventName(envelope.Event), envelope.Frame)
}

// realtimeHub tracks local connections by room and by user.
type realtimeHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*realtimeClient]struct{}
	users map[string]map[*realtimeClient]struct{}
	log   zerolog.Logger
}

func newRealtimeHub(logger zerolog.Logger) *realtimeHub {
	return &realtimeHub{
		rooms: make(map[string]map[*realtimeClient]struct{}),
		users: make(map[string]map[*realtimeClient]struct{}),
		log:   logger.With().Str("component", "realtime_hub").Logger(),
	}
}

func (h *realtimeHub) register(client *realtimeClient) {
	h.log.Debug().Str("session_id", client.sessionID).Msg("realtime client connected")
}

// join adds the client to a room and reports whether it was not already a member.
func (h *realtimeHub) join(room string, client *realtimeClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*realtimeClient]struct{})
		h.rooms[room] = members
	}
	if _, exists := members[client]; exists {
		return false
	}
	members[client] = struct{}{}
	h.log.Debug().Str("room", room).Str("session_id", client.sessionID).Msg("realtime client joined room")
	return true
}

func (h *realtimeHub) bindUser(client *realtimeClient, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	connections, ok := h.users[userID]
	if !ok {
		connections = make(map[*realtimeClient]struct{})
		h.users[userID] = connections
	}
	connections[client] = struct{}{}
}

func (h *realtimeHub) unregister(client *realtimeClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room, members := range h.rooms {
		if _, ok := members[client]; !ok {
			continue
		}
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	for userID, connections := range h.users {
		if _, ok := connections[client]; !ok {
			continue
		}
		delete(connections, client)
		if len(connections) == 0 {
			delete(h.users, userID)
		}
	}
	h.log.Debug().Str("session_id", client.sessionID).Msg("realtime client disconnected")
}

func (h *realtimeHub) deliver(to target, name realtime.EventName, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var recipients map[*realtimeClient]struct{}
	switch {
	case to.room != "":
		recipients = h.rooms[to.room]
	case to.userID != "":
		recipients = h.users[to.userID]
	}

	for client := range recipients {
		if to.exclude != "" && client.sessionID == to.exclude {
			continue
		}
		client.enqueueFrame(name, frame)
	}
}

type realtimeClient struct {
	conn      Socket
	send      chan []byte
	options   RealtimeConnectionOptions
	service   *realtimeService
	closed    chan struct{}
	once      sync.Once
	sessionID string
	baseCtx   context.Context

	mu          sync.Mutex
	user        *realtime.UserRef
	chatCourses map[string]struct{}
}

func (c *realtimeClient) logger() *zerolog.Logger {
	logger := c.service.logger.With().Str("session_id", c.sessionID).Logger()
	if c.options.CorrelationID != "" {
		logger = logger.With().Str("correlation_id", c.options.CorrelationID).Logger()
	}
	return &logger
}

func (c *realtimeClient) identity() (realtime.UserRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return realtime.UserRef{}, false
	}
	return *c.user, true
}

func (c *realtimeClient) setIdentity(user realtime.UserRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &user
}

func (c *realtimeClient) addChatCourse(courseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatCourses[courseID] = struct{}{}
}

func (c *realtimeClient) inChatCourse(courseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chatCourses[courseID]
	return ok
}

func (c *realtimeClient) joinedChatCourses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	courses := make([]string, 0, len(c.chatCourses))
	for courseID := range c.chatCourses {
		courses = append(courses, courseID)
	}
	return courses
}

// enqueue encodes an event addressed only to this connection.
func (c *realtimeClient) enqueue(event realtime.Event) {
	frame, err := realtime.Encode(event)
	if err != nil {
		c.logger().Error().Err(err).Str("event", string(event.Name())).Msg("failed to encode realtime event")
		return
	}
	c.enqueueFrame(event.Name(), frame)
}

func (c *realtimeClient) enqueueFrame(name realtime.EventName, frame []byte) {
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		observability.RealtimeDropped().WithLabelValues(string(name)).Inc()
		c.service.hub.log.Warn().Str("session_id", c.sessionID).Str("event", string(name)).Msg("dropping realtime frame for slow client")
	}
}

func (c *realtimeClient) sendError(code, message string, event realtime.EventName) {
	c.enqueue(realtime.ErrorEvent{Code: code, Message: message, Event: event})
}

func (c *realtimeClient) reader() {
	defer c.close()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logger().Debug().Err(err).Msg("realtime read loop ended")
			return
		}

		event, err := realtime.Decode(frame)
		if err != nil {
			observability.RealtimeEvents().WithLabelValues("unknown", CodeInvalidFrame).Inc()
			c.sendError(CodeInvalidFrame, err.Error(), "")
			continue
		}

		c.service.dispatch(c.baseCtx, c, event)
	}
}

func (c *realtimeClient) writer() {
	defer c.close()

	ticker := time.NewTicker(realtimePingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger().Debug().Err(err).Msg("realtime write loop terminated")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger().Debug().Err(err).Msg("realtime ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *realtimeClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()

		user, ok := c.identity()
		if !ok {
			return
		}
		// The request context is gone once the socket closes.
		ctx, cancel := context.WithTimeout(context.Background(), realtimeCleanupTimeout)
		defer cancel()
		for _, courseID := range c.joinedChatCourses() {
			c.service.leaveLiveChat(ctx, c, user, courseID)
		}
	})
}
