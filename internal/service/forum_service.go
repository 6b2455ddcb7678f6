package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-forum/internal/dto"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/models"
	"github.com/noah-isme/gema-forum/internal/observability"
	"github.com/noah-isme/gema-forum/internal/repository"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

var (
	// ErrForumForbidden indicates the user attempted an operation they are not allowed to perform.
	ErrForumForbidden = errors.New("insufficient permissions for forum operation")
	// ErrPostClosed is returned when replying to a closed thread.
	ErrPostClosed = errors.New("post is closed for replies")
	// ErrForumEmptyContent is returned when content is empty once sanitised.
	ErrForumEmptyContent = errors.New("content empty after sanitization")
)

// ForumActor is the authenticated user performing a forum operation.
type ForumActor struct {
	ID     string
	Name   string
	Avatar string
	Role   string
}

// ForumService exposes course board use-cases.
type ForumService interface {
	Course(ctx context.Context, courseID string) (realtime.Course, error)
	SaveCourse(ctx context.Context, actor ForumActor, course realtime.Course) (realtime.Course, error)
	ListPosts(ctx context.Context, courseID string) ([]realtime.ForumPost, error)
	CreatePost(ctx context.Context, actor ForumActor, courseID string, draft realtime.PostDraft) (realtime.ForumPost, error)
	CreateReply(ctx context.Context, actor ForumActor, postID uint, draft realtime.ReplyDraft) (realtime.ForumReply, error)
	AcceptReply(ctx context.Context, actor ForumActor, postID, replyID uint) (realtime.ForumPost, error)
	Vote(ctx context.Context, actor ForumActor, postID uint, payload dto.VoteRequest) (realtime.ForumPost, error)
	SetPinned(ctx context.Context, actor ForumActor, postID uint, pinned bool) (realtime.ForumPost, error)
	SetClosed(ctx context.Context, actor ForumActor, postID uint, closed bool) (realtime.ForumPost, error)
	RecordView(ctx context.Context, postID uint) error
}

type forumService struct {
	posts       repository.ForumRepository
	courses     repository.CourseRepository
	broadcaster Broadcaster
	cache       *redis.Client
	ttl         time.Duration
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	strict      *bluemonday.Policy
	now         func() time.Time
}

// NewForumService constructs the forum service. cache and broadcaster are optional.
func NewForumService(posts repository.ForumRepository, courses repository.CourseRepository, broadcaster Broadcaster, cache *redis.Client, ttl time.Duration, validate *validator.Validate, logger zerolog.Logger) ForumService {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &forumService{
		posts:       posts,
		courses:     courses,
		broadcaster: broadcaster,
		cache:       cache,
		ttl:         ttl,
		validator:   validate,
		logger:      logger.With().Str("component", "forum_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-forum/internal/service/forum"),
		sanitizer:   policy,
		strict:      bluemonday.StrictPolicy(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *forumService) Course(ctx context.Context, courseID string) (realtime.Course, error) {
	course, err := s.courses.Get(ctx, strings.TrimSpace(courseID))
	if err != nil {
		return realtime.Course{}, err
	}
	return dto.NewCourse(course), nil
}

// SaveCourse creates or replaces the metadata shown above a course forum.
func (s *forumService) SaveCourse(ctx context.Context, actor ForumActor, course realtime.Course) (realtime.Course, error) {
	if !middleware.IsModerator(actor.Role) {
		return realtime.Course{}, ErrForumForbidden
	}

	model := models.Course{
		ID:          strings.TrimSpace(course.ID),
		Title:       strings.TrimSpace(s.strict.Sanitize(course.Title)),
		Description: strings.TrimSpace(s.sanitizer.Sanitize(course.Description)),
		Instructor:  strings.TrimSpace(s.strict.Sanitize(course.Instructor)),
	}
	if model.ID == "" || model.Title == "" {
		return realtime.Course{}, ErrForumEmptyContent
	}

	if err := s.courses.Upsert(ctx, &model); err != nil {
		return realtime.Course{}, err
	}
	s.logger.Info().Str("course_id", model.ID).Str("actor_id", actor.ID).Msg("course metadata saved")
	return dto.NewCourse(model), nil
}

func (s *forumService) ListPosts(ctx context.Context, courseID string) ([]realtime.ForumPost, error) {
	courseID = strings.TrimSpace(courseID)
	if cached, ok := s.fetchCache(ctx, courseID); ok {
		observability.ForumCache().WithLabelValues("hit").Inc()
		return cached, nil
	}
	observability.ForumCache().WithLabelValues("miss").Inc()

	posts, err := s.posts.ListPosts(ctx, courseID)
	if err != nil {
		return nil, err
	}

	result := dto.NewForumPostSlice(posts)
	s.writeCache(ctx, courseID, result)
	return result, nil
}

func (s *forumService) CreatePost(ctx context.Context, actor ForumActor, courseID string, draft realtime.PostDraft) (realtime.ForumPost, error) {
	draft.Kind = realtime.PostKind(strings.ToLower(strings.TrimSpace(string(draft.Kind))))
	if err := s.validator.Struct(draft); err != nil {
		return realtime.ForumPost{}, err
	}
	if draft.Kind == realtime.PostKindAnnouncement && !middleware.IsModerator(actor.Role) {
		return realtime.ForumPost{}, ErrForumForbidden
	}

	title := strings.TrimSpace(s.strict.Sanitize(draft.Title))
	content := strings.TrimSpace(s.sanitizer.Sanitize(draft.Content))
	if title == "" || content == "" {
		return realtime.ForumPost{}, ErrForumEmptyContent
	}

	spanCtx, span := s.tracer.Start(ctx, "forum.create_post", trace.WithAttributes(
		attribute.String("forum.course_id", courseID),
		attribute.String("forum.author_id", actor.ID),
		attribute.String("forum.kind", string(draft.Kind)),
	))
	defer span.End()

	now := s.now()
	post := models.ForumPost{
		CourseID:       strings.TrimSpace(courseID),
		Title:          title,
		Content:        content,
		Kind:           string(draft.Kind),
		Tags:           normaliseTags(draft.Tags),
		Metadata:       datatypes.JSONMap{"created_by_role": actor.Role},
		AuthorID:       actor.ID,
		AuthorName:     actor.Name,
		AuthorAvatar:   actor.Avatar,
		AuthorBadge:    badgeForRole(actor.Role),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.posts.CreatePost(spanCtx, &post); err != nil {
		span.RecordError(err)
		return realtime.ForumPost{}, err
	}

	s.logger.Info().Uint("post_id", post.ID).Str("course_id", post.CourseID).Str("author_id", actor.ID).Msg("forum post created")

	s.invalidate(spanCtx, post.CourseID)
	result := dto.NewForumPost(post)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastCourse(spanCtx, post.CourseID, realtime.ForumPostAdded{ForumPost: result})
	}
	return result, nil
}

func (s *forumService) CreateReply(ctx context.Context, actor ForumActor, postID uint, draft realtime.ReplyDraft) (realtime.ForumReply, error) {
	if err := s.validator.Struct(draft); err != nil {
		return realtime.ForumReply{}, err
	}
	content := strings.TrimSpace(s.sanitizer.Sanitize(draft.Content))
	if content == "" {
		return realtime.ForumReply{}, ErrForumEmptyContent
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return realtime.ForumReply{}, err
	}
	if post.Closed {
		return realtime.ForumReply{}, ErrPostClosed
	}

	spanCtx, span := s.tracer.Start(ctx, "forum.create_reply", trace.WithAttributes(
		attribute.Int64("forum.post_id", int64(postID)),
		attribute.String("forum.author_id", actor.ID),
	))
	defer span.End()

	reply := models.ForumReply{
		PostID:       postID,
		Content:      content,
		AuthorID:     actor.ID,
		AuthorName:   actor.Name,
		AuthorAvatar: actor.Avatar,
		AuthorBadge:  badgeForRole(actor.Role),
		CreatedAt:    s.now(),
	}
	if err := s.posts.CreateReply(spanCtx, &reply); err != nil {
		span.RecordError(err)
		return realtime.ForumReply{}, err
	}

	s.invalidate(spanCtx, post.CourseID)
	result := dto.NewForumReply(reply)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastCourse(spanCtx, post.CourseID, realtime.ForumReplyAdded{
			PostID: strconv.FormatUint(uint64(post.ID), 10),
			Reply:  result,
		})
	}
	return result, nil
}

// AcceptReply lets the post author or a moderator mark the accepted answer. At most one reply
// per post is accepted at any time.
func (s *forumService) AcceptReply(ctx context.Context, actor ForumActor, postID, replyID uint) (realtime.ForumPost, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return realtime.ForumPost{}, err
	}
	if err := s.authorizeMutation(post.AuthorID, actor); err != nil {
		return realtime.ForumPost{}, err
	}

	if err := s.posts.AcceptReply(ctx, postID, replyID); err != nil {
		return realtime.ForumPost{}, err
	}
	return s.reload(ctx, postID)
}

func (s *forumService) Vote(ctx context.Context, actor ForumActor, postID uint, payload dto.VoteRequest) (realtime.ForumPost, error) {
	if err := s.validator.Struct(payload); err != nil {
		return realtime.ForumPost{}, err
	}
	if err := s.posts.Vote(ctx, postID, actor.ID, payload.Value); err != nil {
		return realtime.ForumPost{}, err
	}
	return s.reload(ctx, postID)
}

func (s *forumService) SetPinned(ctx context.Context, actor ForumActor, postID uint, pinned bool) (realtime.ForumPost, error) {
	if !middleware.IsModerator(actor.Role) {
		return realtime.ForumPost{}, ErrForumForbidden
	}
	if err := s.posts.SetPinned(ctx, postID, pinned, actor.ID); err != nil {
		return realtime.ForumPost{}, err
	}
	return s.reload(ctx, postID)
}

func (s *forumService) SetClosed(ctx context.Context, actor ForumActor, postID uint, closed bool) (realtime.ForumPost, error) {
	if !middleware.IsModerator(actor.Role) {
		return realtime.ForumPost{}, ErrForumForbidden
	}
	if err := s.posts.SetClosed(ctx, postID, closed, actor.ID); err != nil {
		return realtime.ForumPost{}, err
	}
	return s.reload(ctx, postID)
}

// RecordView bumps the view counter. The cached list is left alone; view counts may lag by the cache TTL.
func (s *forumService) RecordView(ctx context.Context, postID uint) error {
	return s.posts.IncrementViews(ctx, postID)
}

func (s *forumService) reload(ctx context.Context, postID uint) (realtime.ForumPost, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return realtime.ForumPost{}, err
	}
	s.invalidate(ctx, post.CourseID)
	return dto.NewForumPost(post), nil
}

func (s *forumService) authorizeMutation(ownerID string, actor ForumActor) error {
	if ownerID == actor.ID || middleware.IsModerator(actor.Role) {
		return nil
	}
	return ErrForumForbidden
}

func (s *forumService) cacheKey(courseID string) string {
	return "forum:v1:posts:" + courseID
}

func (s *forumService) fetchCache(ctx context.Context, courseID string) ([]realtime.ForumPost, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, s.cacheKey(courseID)).Result()
	if err != nil {
		return nil, false
	}

	var posts []realtime.ForumPost
	if err := json.Unmarshal([]byte(payload), &posts); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode forum post cache")
		return nil, false
	}
	return posts, true
}

func (s *forumService) writeCache(ctx context.Context, courseID string, posts []realtime.ForumPost) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(posts)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode forum post cache")
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(courseID), payload, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store forum post cache")
	}
}

func (s *forumService) invalidate(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cacheKey(courseID)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("course_id", courseID).Msg("failed to invalidate forum post cache")
	}
}

func normaliseTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#")))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func badgeForRole(role string) string {
	switch strings.ToLower(role) {
	case middleware.RoleTeacher:
		return "Instructor"
	case middleware.RoleAdmin:
		return "Moderator"
	}
	return ""
}
