package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "assistant_duration_seconds",
		Help:      "Duration of study assistant completions",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "assistant_failures_total",
		Help:      "Number of failed study assistant completions",
	}, []string{"model"})
)

// defaultConfidence is reported when the model answers in plain text instead of JSON.
const defaultConfidence = 0.5

// OpenAIConfig defines configuration options for the OpenAI assistant.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIAssistant implements Assistant against the OpenAI chat completion API.
type OpenAIAssistant struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAssistant builds a new assistant using the provided configuration.
func NewOpenAIAssistant(cfg OpenAIConfig) (*OpenAIAssistant, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 600
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIAssistant{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-forum/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai_assistant").Logger(),
	}, nil
}

// Answer sends the question and its history to OpenAI and parses the reply.
func (a *OpenAIAssistant) Answer(parent context.Context, question Question) (Answer, error) {
	ctx, span := a.tracer.Start(parent, "openai.answer", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
		attribute.Int("history", len(question.History)),
	))
	defer span.End()

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          a.cfg.Model,
		MaxTokens:      a.cfg.MaxTokens,
		Temperature:    a.cfg.Temperature,
		Messages:       buildMessages(question),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues(a.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return Answer{}, a.fail(span, fmt.Errorf("openai answer: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Answer{}, a.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	answer := parseAnswer(resp.Choices[0].Message.Content)
	if answer.Message == "" {
		return Answer{}, a.fail(span, fmt.Errorf("empty answer returned from openai"))
	}

	a.logger.Debug().Int("prompt_tokens", resp.Usage.PromptTokens).Int("completion_tokens", resp.Usage.CompletionTokens).Msg("assistant answered")
	return answer, nil
}

func (a *OpenAIAssistant) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(a.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func systemPrompt(courseTitle string) string {
	prompt := "You are a patient study assistant for an online course forum. Explain concepts step by step, " +
		"prefer short code examples, and say so when you are unsure. Respond with a JSON object " +
		`{"answer": string, "confidence": number between 0 and 1}.`
	if courseTitle != "" {
		prompt += " The student is taking the course \"" + courseTitle + "\"."
	}
	return prompt
}

func buildMessages(question Question) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(question.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(question.CourseTitle),
	})
	for _, turn := range question.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question.Message,
	})
	return messages
}

// parseAnswer accepts the requested JSON object and falls back to treating the content as plain text.
func parseAnswer(content string) Answer {
	content = strings.TrimSpace(content)

	var answer Answer
	if err := json.Unmarshal([]byte(content), &answer); err != nil || strings.TrimSpace(answer.Message) == "" {
		return Answer{Message: content, Confidence: defaultConfidence}
	}

	answer.Message = strings.TrimSpace(answer.Message)
	if answer.Confidence < 0 {
		answer.Confidence = 0
	}
	if answer.Confidence > 1 {
		answer.Confidence = 1
	}
	return answer
}
