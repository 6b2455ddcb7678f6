package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-forum/internal/dto"
	"github.com/noah-isme/gema-forum/internal/handler"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/repository"
	"github.com/noah-isme/gema-forum/internal/service"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

type mockForumService struct {
	err       error
	posts     []realtime.ForumPost
	lastActor service.ForumActor
	lastDraft realtime.PostDraft
	lastPost  uint
	lastReply uint
	enabled   *bool
	views     int
}

func (m *mockForumService) Course(_ context.Context, courseID string) (realtime.Course, error) {
	return realtime.Course{ID: courseID, Title: "Go Basics"}, m.err
}

func (m *mockForumService) SaveCourse(_ context.Context, actor service.ForumActor, course realtime.Course) (realtime.Course, error) {
	m.lastActor = actor
	return course, m.err
}

func (m *mockForumService) ListPosts(context.Context, string) ([]realtime.ForumPost, error) {
	return m.posts, m.err
}

func (m *mockForumService) CreatePost(_ context.Context, actor service.ForumActor, courseID string, draft realtime.PostDraft) (realtime.ForumPost, error) {
	m.lastActor = actor
	m.lastDraft = draft
	return realtime.ForumPost{ID: "1", CourseID: courseID, Title: draft.Title}, m.err
}

func (m *mockForumService) CreateReply(_ context.Context, actor service.ForumActor, postID uint, draft realtime.ReplyDraft) (realtime.ForumReply, error) {
	m.lastActor = actor
	m.lastPost = postID
	return realtime.ForumReply{ID: "9", Content: draft.Content}, m.err
}

func (m *mockForumService) AcceptReply(_ context.Context, actor service.ForumActor, postID, replyID uint) (realtime.ForumPost, error) {
	m.lastActor = actor
	m.lastPost = postID
	m.lastReply = replyID
	return realtime.ForumPost{ID: "1", HasAcceptedAnswer: true}, m.err
}

func (m *mockForumService) Vote(_ context.Context, actor service.ForumActor, postID uint, payload dto.VoteRequest) (realtime.ForumPost, error) {
	m.lastActor = actor
	m.lastPost = postID
	return realtime.ForumPost{ID: "1", Upvotes: 1}, m.err
}

func (m *mockForumService) SetPinned(_ context.Context, actor service.ForumActor, postID uint, pinned bool) (realtime.ForumPost, error) {
	m.lastActor = actor
	m.lastPost = postID
	m.enabled = &pinned
	return realtime.ForumPost{ID: "1", Pinned: pinned}, m.err
}

func (m *mockForumService) SetClosed(_ context.Context, actor service.ForumActor, postID uint, closed bool) (realtime.ForumPost, error) {
	m.lastActor = actor
	m.lastPost = postID
	m.enabled = &closed
	return realtime.ForumPost{ID: "1", Closed: closed}, m.err
}

func (m *mockForumService) RecordView(_ context.Context, postID uint) error {
	m.lastPost = postID
	m.views++
	return m.err
}

// asUser fakes what the JWT middleware stores for a verified token.
func asUser(id, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id != "" {
			c.Locals(middleware.LocalUserID, id)
			c.Locals(middleware.LocalUserRole, role)
			c.Locals(middleware.LocalUserName, "User "+id)
		}
		return c.Next()
	}
}

func newForumApp(svc service.ForumService, id, role string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/forum", asUser(id, role))
	handler.NewForumHandler(svc, zerolog.New(io.Discard)).Register(group)
	return app
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestForumHandler_ListPosts(t *testing.T) {
	svc := &mockForumService{posts: []realtime.ForumPost{{ID: "1", Title: "Hello"}, {ID: "2", Title: "World"}}}
	app := newForumApp(svc, "", "")

	resp, err := app.Test(jsonRequest(http.MethodGet, "/api/v2/forum/courses/c1/posts", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                 `json:"success"`
		Data    []realtime.ForumPost `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Len(t, body.Data, 2)
}

func TestForumHandler_CreatePostRequiresUser(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "", "")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/courses/c1/posts", realtime.PostDraft{Title: "Hi there"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestForumHandler_CreatePost(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "ana", middleware.RoleStudent)

	draft := realtime.PostDraft{Title: "Channels?", Content: "How do they block?", Kind: realtime.PostKindQuestion, Tags: []string{"go"}}
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/courses/c1/posts", draft))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	require.Equal(t, "ana", svc.lastActor.ID)
	require.Equal(t, "User ana", svc.lastActor.Name)
	require.Equal(t, middleware.RoleStudent, svc.lastActor.Role)
	require.Equal(t, draft.Title, svc.lastDraft.Title)
	require.Equal(t, []string{"go"}, svc.lastDraft.Tags)
}

func TestForumHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", gorm.ErrRecordNotFound, fiber.StatusNotFound},
		{"forbidden", service.ErrForumForbidden, fiber.StatusForbidden},
		{"closed", service.ErrPostClosed, fiber.StatusConflict},
		{"mismatch", repository.ErrReplyMismatch, fiber.StatusBadRequest},
		{"empty", service.ErrForumEmptyContent, fiber.StatusBadRequest},
		{"unexpected", errors.New("db down"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockForumService{err: tc.err}
			app := newForumApp(svc, "ana", middleware.RoleStudent)

			resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/3/replies", realtime.ReplyDraft{Content: "hi"}))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			var body struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			decodeResponse(t, resp, &body)
			require.False(t, body.Success)
			if tc.status == fiber.StatusInternalServerError {
				require.NotContains(t, body.Message, "db down")
			}
		})
	}
}

func TestForumHandler_AcceptReplyParsesIDs(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "ana", middleware.RoleStudent)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/3/replies/7/accept", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(3), svc.lastPost)
	require.Equal(t, uint(7), svc.lastReply)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/abc/replies/7/accept", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestForumHandler_ModerationNeedsTeacher(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "ana", middleware.RoleStudent)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/3/pin", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Nil(t, svc.enabled)
}

func TestForumHandler_PinAndUnpin(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "rina", middleware.RoleTeacher)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/3/pin", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, svc.enabled)
	require.True(t, *svc.enabled)

	disabled := false
	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/3/close", dto.ModerationRequest{Enabled: &disabled}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.False(t, *svc.enabled)
}

func TestForumHandler_RecordViewIsAnonymous(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "", "")

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/posts/5/view", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, svc.views)
	require.Equal(t, uint(5), svc.lastPost)
}

func TestForumHandler_SaveCourse(t *testing.T) {
	svc := &mockForumService{}
	app := newForumApp(svc, "rina", middleware.RoleTeacher)

	resp, err := app.Test(jsonRequest(http.MethodPut, "/api/v2/forum/courses/c1", realtime.Course{Title: "Go Basics"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data realtime.Course `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.Equal(t, "c1", body.Data.ID)
	require.Equal(t, "rina", svc.lastActor.ID)
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}
