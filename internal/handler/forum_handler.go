package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-forum/internal/dto"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/repository"
	"github.com/noah-isme/gema-forum/internal/service"
	"github.com/noah-isme/gema-forum/internal/utils"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// ForumHandler provides HTTP endpoints for the course discussion board.
type ForumHandler struct {
	service service.ForumService
	logger  zerolog.Logger
}

// NewForumHandler constructs a handler instance.
func NewForumHandler(service service.ForumService, logger zerolog.Logger) *ForumHandler {
	return &ForumHandler{
		service: service,
		logger:  logger.With().Str("component", "forum_handler").Logger(),
	}
}

// Register binds the board routes. Writes need an identity; moderation needs a teacher or admin.
func (h *ForumHandler) Register(router fiber.Router) {
	router.Get("/courses/:courseId", h.course)
	router.Get("/courses/:courseId/posts", h.listPosts)

	user := middleware.RequireUser()
	router.Post("/courses/:courseId/posts", user, h.createPost)
	router.Post("/posts/:id/replies", user, h.createReply)
	router.Post("/posts/:id/replies/:replyId/accept", user, h.acceptReply)
	router.Post("/posts/:id/vote", user, h.vote)
	router.Post("/posts/:id/view", h.recordView)

	moderator := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTeacher)
	router.Put("/courses/:courseId", moderator, h.saveCourse)
	router.Post("/posts/:id/pin", moderator, h.pin)
	router.Post("/posts/:id/close", moderator, h.close)
}

func (h *ForumHandler) course(c *fiber.Ctx) error {
	course, err := h.service.Course(withRequestContext(c), c.Params("courseId"))
	if err != nil {
		return h.fail(c, err, "failed to load course")
	}
	return utils.SendSuccess(c, "course", course)
}

func (h *ForumHandler) saveCourse(c *fiber.Ctx) error {
	var payload realtime.Course
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.ID = c.Params("courseId")

	course, err := h.service.SaveCourse(withRequestContext(c), forumActorFromContext(c), payload)
	if err != nil {
		return h.fail(c, err, "failed to save course")
	}
	return utils.SendSuccess(c, "course saved", course)
}

func (h *ForumHandler) listPosts(c *fiber.Ctx) error {
	posts, err := h.service.ListPosts(withRequestContext(c), c.Params("courseId"))
	if err != nil {
		return h.fail(c, err, "failed to load posts")
	}
	return utils.SendSuccess(c, "posts", posts)
}

func (h *ForumHandler) createPost(c *fiber.Ctx) error {
	var payload realtime.PostDraft
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	post, err := h.service.CreatePost(withRequestContext(c), forumActorFromContext(c), c.Params("courseId"), payload)
	if err != nil {
		return h.fail(c, err, "failed to create post")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "post created", post)
}

func (h *ForumHandler) createReply(c *fiber.Ctx) error {
	postID, err := parseUintParamValue(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload realtime.ReplyDraft
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	reply, err := h.service.CreateReply(withRequestContext(c), forumActorFromContext(c), postID, payload)
	if err != nil {
		return h.fail(c, err, "failed to create reply")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "reply created", reply)
}

func (h *ForumHandler) acceptReply(c *fiber.Ctx) error {
	postID, err := parseUintParamValue(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	replyID, err := parseUintParamValue(c, "replyId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	post, err := h.service.AcceptReply(withRequestContext(c), forumActorFromContext(c), postID, replyID)
	if err != nil {
		return h.fail(c, err, "failed to accept reply")
	}
	return utils.SendSuccess(c, "reply accepted", post)
}

func (h *ForumHandler) vote(c *fiber.Ctx) error {
	postID, err := parseUintParamValue(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.VoteRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	post, err := h.service.Vote(withRequestContext(c), forumActorFromContext(c), postID, payload)
	if err != nil {
		return h.fail(c, err, "failed to record vote")
	}
	return utils.SendSuccess(c, "vote recorded", post)
}

func (h *ForumHandler) recordView(c *fiber.Ctx) error {
	postID, err := parseUintParamValue(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.RecordView(withRequestContext(c), postID); err != nil {
		return h.fail(c, err, "failed to record view")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "view recorded", nil)
}

func (h *ForumHandler) pin(c *fiber.Ctx) error {
	return h.moderate(c, h.service.SetPinned, "post pin updated")
}

func (h *ForumHandler) close(c *fiber.Ctx) error {
	return h.moderate(c, h.service.SetClosed, "post close updated")
}

type moderationFunc func(ctx context.Context, actor service.ForumActor, postID uint, enabled bool) (realtime.ForumPost, error)

func (h *ForumHandler) moderate(c *fiber.Ctx, apply moderationFunc, message string) error {
	postID, err := parseUintParamValue(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ModerationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}

	post, err := apply(withRequestContext(c), forumActorFromContext(c), postID, enabled)
	if err != nil {
		return h.fail(c, err, "failed to update post")
	}
	return utils.SendSuccess(c, message, post)
}

func (h *ForumHandler) fail(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, service.ErrForumForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrPostClosed):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrReplyMismatch),
		errors.Is(err, service.ErrForumEmptyContent),
		isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
	return utils.SendError(c, fiber.StatusInternalServerError, fallback)
}
