package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-forum/internal/observability"
	"github.com/noah-isme/gema-forum/pkg/ai"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// ErrAssistantUnavailable is returned when no AI provider is configured.
var ErrAssistantUnavailable = errors.New("study assistant is not configured")

// AssistantService answers study questions posted from the forum view.
type AssistantService interface {
	Ask(ctx context.Context, userID string, query realtime.AssistantQuery) (realtime.AssistantReply, error)
	Enabled() bool
}

type assistantService struct {
	assistant ai.Assistant
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAssistantService wraps an AI backend. A nil assistant yields ErrAssistantUnavailable.
func NewAssistantService(assistant ai.Assistant, validate *validator.Validate, logger zerolog.Logger) AssistantService {
	return &assistantService{
		assistant: assistant,
		validator: validate,
		logger:    logger.With().Str("component", "assistant_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *assistantService) Enabled() bool {
	return s.assistant != nil
}

func (s *assistantService) Ask(ctx context.Context, userID string, query realtime.AssistantQuery) (realtime.AssistantReply, error) {
	if s.assistant == nil {
		observability.AssistantRequests().WithLabelValues("disabled").Inc()
		return realtime.AssistantReply{}, ErrAssistantUnavailable
	}

	query.Message = strings.TrimSpace(query.Message)
	query.ConversationHistory = realtime.TrimHistory(query.ConversationHistory)
	if err := s.validator.Struct(query); err != nil {
		observability.AssistantRequests().WithLabelValues("invalid").Inc()
		return realtime.AssistantReply{}, err
	}

	history := make([]ai.Turn, 0, len(query.ConversationHistory))
	for _, turn := range query.ConversationHistory {
		history = append(history, ai.Turn{Role: turn.Role, Content: turn.Content})
	}

	answer, err := s.assistant.Answer(ctx, ai.Question{Message: query.Message, History: history})
	if err != nil {
		observability.AssistantRequests().WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("assistant request failed")
		return realtime.AssistantReply{}, err
	}

	observability.AssistantRequests().WithLabelValues("answered").Inc()
	return realtime.AssistantReply{
		Message:    answer.Message,
		Confidence: answer.Confidence,
		Timestamp:  s.now(),
	}, nil
}
