package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/internal/dto"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/service"
	"github.com/noah-isme/gema-forum/internal/utils"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const localConnectionOptions = "realtime_options"

// RealtimeHandler wires the forum websocket endpoint and chat history.
type RealtimeHandler struct {
	service   service.RealtimeService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRealtimeHandler creates a realtime handler instance.
func NewRealtimeHandler(service service.RealtimeService, validator *validator.Validate, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// RegisterSocket binds the websocket upgrade at the root of router, which is expected to be
// mounted at the socket path behind the token middleware.
func (h *RealtimeHandler) RegisterSocket(router fiber.Router) {
	router.Use(func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		opts := service.RealtimeConnectionOptions{
			Role:          middleware.UserRole(c),
			CorrelationID: middleware.GetCorrelationID(c),
			Context:       withRequestContext(c),
		}
		if userID := middleware.UserID(c); userID != "" {
			opts.Identity = &realtime.UserRef{
				ID:        userID,
				Name:      middleware.UserName(c),
				AvatarURL: middleware.UserAvatar(c),
			}
		}
		c.Locals(localConnectionOptions, opts)
		return c.Next()
	})

	router.Get("/", websocket.New(h.handleConnection))
}

// RegisterHistory binds the chat history endpoint.
func (h *RealtimeHandler) RegisterHistory(router fiber.Router) {
	router.Get("/courses/:courseId/chat", h.history)
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	opts, _ := conn.Locals(localConnectionOptions).(service.RealtimeConnectionOptions)
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	logger := h.logger.With().Str("correlation_id", opts.CorrelationID).Logger()
	if opts.Identity != nil {
		logger = logger.With().Str("user_id", opts.Identity.ID).Logger()
	}

	logger.Info().Msg("forum websocket connected")
	h.service.ServeConnection(conn, opts)
	logger.Info().Msg("forum websocket disconnected")
}

func (h *RealtimeHandler) history(c *fiber.Ctx) error {
	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.ChatHistoryQuery{
		CourseID: c.Params("courseId"),
		Before:   beforePtr,
		Limit:    limit,
	}
	if err := h.validator.Struct(query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	messages, err := h.service.History(withRequestContext(c), query)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("course_id", query.CourseID).Msg("failed to load chat history")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load chat history")
	}

	return utils.SendSuccess(c, "chat history", messages)
}
