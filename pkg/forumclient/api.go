package forumclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrUnexpectedResponse is returned when the server answers without the success envelope.
var ErrUnexpectedResponse = errors.New("unexpected api response")

// APIError is a non-success answer from the forum API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("forum api: status %d", e.Status)
	}
	return fmt.Sprintf("forum api: status %d: %s", e.Status, e.Message)
}

// API is the REST collaborator of the forum view.
type API interface {
	Course(ctx context.Context, courseID string) (realtime.Course, error)
	Posts(ctx context.Context, courseID string) ([]realtime.ForumPost, error)
	CreatePost(ctx context.Context, courseID string, draft realtime.PostDraft) (realtime.ForumPost, error)
	CreateReply(ctx context.Context, postID string, draft realtime.ReplyDraft) (realtime.ForumReply, error)
	Ask(ctx context.Context, query realtime.AssistantQuery) (realtime.AssistantReply, error)
}

// APIClient talks to the forum REST API under a single base URL.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient creates a client. baseURL is the server root, for example http://localhost:8080.
func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Course fetches course metadata.
func (c *APIClient) Course(ctx context.Context, courseID string) (realtime.Course, error) {
	var course realtime.Course
	err := c.do(ctx, http.MethodGet, "/api/v2/forum/courses/"+url.PathEscape(courseID), nil, &course)
	return course, err
}

// Posts fetches every post of a course.
func (c *APIClient) Posts(ctx context.Context, courseID string) ([]realtime.ForumPost, error) {
	var posts []realtime.ForumPost
	err := c.do(ctx, http.MethodGet, "/api/v2/forum/courses/"+url.PathEscape(courseID)+"/posts", nil, &posts)
	return posts, err
}

// CreatePost opens a thread.
func (c *APIClient) CreatePost(ctx context.Context, courseID string, draft realtime.PostDraft) (realtime.ForumPost, error) {
	var post realtime.ForumPost
	err := c.do(ctx, http.MethodPost, "/api/v2/forum/courses/"+url.PathEscape(courseID)+"/posts", draft, &post)
	return post, err
}

// CreateReply replies to a thread.
func (c *APIClient) CreateReply(ctx context.Context, postID string, draft realtime.ReplyDraft) (realtime.ForumReply, error) {
	var reply realtime.ForumReply
	err := c.do(ctx, http.MethodPost, "/api/v2/forum/posts/"+url.PathEscape(postID)+"/replies", draft, &reply)
	return reply, err
}

// Ask sends a question to the study assistant.
func (c *APIClient) Ask(ctx context.Context, query realtime.AssistantQuery) (realtime.AssistantReply, error) {
	query.ConversationHistory = realtime.TrimHistory(query.ConversationHistory)
	var reply realtime.AssistantReply
	err := c.do(ctx, http.MethodPost, "/api/v2/forum/assistant", query, &reply)
	return reply, err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *APIClient) do(ctx context.Context, method, path string, body, target interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if target == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// FetchResult carries fetched data, or placeholder data when the fetch failed.
type FetchResult[T any] struct {
	Data     T
	Fallback bool
	Err      error
}

// WithFallback substitutes placeholder when err is non-nil. Cancellation is not masked.
func WithFallback[T any](data T, err error, placeholder func() T) FetchResult[T] {
	if err == nil {
		return FetchResult[T]{Data: data}
	}
	if errors.Is(err, context.Canceled) {
		return FetchResult[T]{Data: data, Err: err}
	}
	return FetchResult[T]{Data: placeholder(), Fallback: true, Err: err}
}
