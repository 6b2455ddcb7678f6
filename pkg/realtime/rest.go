package realtime

import "time"

// Course is the course metadata shown above the forum.
type Course struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Instructor  string `json:"instructor,omitempty"`
}

// PostDraft is the payload used to open a new thread.
type PostDraft struct {
	Title   string   `json:"title" validate:"required,min=3,max=255"`
	Content string   `json:"content" validate:"required,min=1,max=10000"`
	Kind    PostKind `json:"kind" validate:"required,oneof=question discussion help announcement"`
	Tags    []string `json:"tags" validate:"omitempty,max=10,dive,min=1,max=32"`
}

// ReplyDraft is the payload used to reply to a thread.
type ReplyDraft struct {
	Content string `json:"content" validate:"required,min=1,max=5000"`
}

// AssistantTurn is one exchange in the study assistant conversation.
type AssistantTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=4000"`
}

// AssistantQuery asks the study assistant a question with a short history.
type AssistantQuery struct {
	Message             string          `json:"message" validate:"required,min=1,max=4000"`
	ConversationHistory []AssistantTurn `json:"conversationHistory" validate:"max=4,dive"`
}

// AssistantReply is the answer produced by the study assistant.
type AssistantReply struct {
	Message    string    `json:"message"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// AssistantHistoryLimit is the number of turns sent along with each question.
const AssistantHistoryLimit = 4

// Assistant conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TrimHistory keeps the most recent turns within AssistantHistoryLimit.
func TrimHistory(turns []AssistantTurn) []AssistantTurn {
	if len(turns) <= AssistantHistoryLimit {
		return append([]AssistantTurn(nil), turns...)
	}
	return append([]AssistantTurn(nil), turns[len(turns)-AssistantHistoryLimit:]...)
}
