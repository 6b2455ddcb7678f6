package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-forum/internal/handler"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/service"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

type mockAssistantService struct {
	enabled bool
	reply   realtime.AssistantReply
	err     error
	userID  string
	query   realtime.AssistantQuery
}

func (m *mockAssistantService) Enabled() bool { return m.enabled }

func (m *mockAssistantService) Ask(_ context.Context, userID string, query realtime.AssistantQuery) (realtime.AssistantReply, error) {
	m.userID = userID
	m.query = query
	return m.reply, m.err
}

func newAssistantApp(svc service.AssistantService, limiter fiber.Handler) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/forum", asUser("ana", middleware.RoleStudent))
	handler.NewAssistantHandler(svc, zerolog.New(io.Discard)).Register(group, limiter)
	return app
}

func TestAssistantHandler_Disabled(t *testing.T) {
	app := newAssistantApp(&mockAssistantService{}, nil)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/assistant", realtime.AssistantQuery{Message: "hi"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestAssistantHandler_Answers(t *testing.T) {
	svc := &mockAssistantService{enabled: true, reply: realtime.AssistantReply{Message: "Use sync.WaitGroup", Confidence: 0.8, Timestamp: time.Now()}}
	app := newAssistantApp(svc, nil)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/assistant", realtime.AssistantQuery{Message: "wait for goroutines?"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data realtime.AssistantReply `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.Equal(t, "Use sync.WaitGroup", body.Data.Message)
	require.Equal(t, "ana", svc.userID)
	require.Equal(t, "wait for goroutines?", svc.query.Message)
}

func TestAssistantHandler_ErrorMapping(t *testing.T) {
	validationErr := validator.New().Struct(realtime.AssistantQuery{})
	require.Error(t, validationErr)

	for _, tc := range []struct {
		err    error
		status int
	}{
		{validationErr, fiber.StatusBadRequest},
		{service.ErrAssistantUnavailable, fiber.StatusServiceUnavailable},
		{errors.New("upstream timeout"), fiber.StatusBadGateway},
	} {
		app := newAssistantApp(&mockAssistantService{enabled: true, err: tc.err}, nil)
		resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/assistant", realtime.AssistantQuery{Message: "x"}))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode)
	}
}

func TestAssistantHandler_RateLimited(t *testing.T) {
	svc := &mockAssistantService{enabled: true}
	app := newAssistantApp(svc, middleware.RateLimit("assistant", 1, time.Minute))

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/assistant", realtime.AssistantQuery{Message: "one"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/v2/forum/assistant", realtime.AssistantQuery{Message: "two"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}
