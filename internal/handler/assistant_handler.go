package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/service"
	"github.com/noah-isme/gema-forum/internal/utils"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// AssistantHandler exposes the study assistant.
type AssistantHandler struct {
	service service.AssistantService
	logger  zerolog.Logger
}

// NewAssistantHandler constructs the assistant handler.
func NewAssistantHandler(service service.AssistantService, logger zerolog.Logger) *AssistantHandler {
	return &AssistantHandler{
		service: service,
		logger:  logger.With().Str("component", "assistant_handler").Logger(),
	}
}

// Register binds the assistant route. limiter may be nil.
func (h *AssistantHandler) Register(router fiber.Router, limiter fiber.Handler) {
	handlers := []fiber.Handler{middleware.RequireUser()}
	if limiter != nil {
		handlers = append(handlers, limiter)
	}
	handlers = append(handlers, h.ask)
	router.Post("/assistant", handlers...)
}

func (h *AssistantHandler) ask(c *fiber.Ctx) error {
	if !h.service.Enabled() {
		return utils.SendError(c, fiber.StatusServiceUnavailable, service.ErrAssistantUnavailable.Error())
	}

	var payload realtime.AssistantQuery
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	reply, err := h.service.Ask(withRequestContext(c), middleware.UserID(c), payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssistantUnavailable):
			return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("assistant request failed")
		return utils.SendError(c, fiber.StatusBadGateway, "assistant request failed")
	}

	return utils.SendSuccess(c, "assistant reply", reply)
}
