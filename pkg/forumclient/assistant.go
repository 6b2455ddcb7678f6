package forumclient

import (
	"strings"
	"time"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// AssistantEntry is one line of the study assistant transcript.
type AssistantEntry struct {
	Role       string
	Content    string
	Confidence float64
	At         time.Time
}

// AssistantTranscript keeps the assistant conversation and derives the short history
// sent along with each question.
type AssistantTranscript struct {
	entries []AssistantEntry
	pending bool
}

// Begin records a question and returns the query to send. Blank questions are rejected.
func (t *AssistantTranscript) Begin(question string, at time.Time) (realtime.AssistantQuery, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return realtime.AssistantQuery{}, ErrEmptyMessage
	}

	query := realtime.AssistantQuery{
		Message:             question,
		ConversationHistory: t.history(),
	}
	t.entries = append(t.entries, AssistantEntry{Role: realtime.RoleUser, Content: question, At: at})
	t.pending = true
	return query, nil
}

// Complete records the answer to the last question.
func (t *AssistantTranscript) Complete(reply realtime.AssistantReply) {
	t.pending = false
	t.entries = append(t.entries, AssistantEntry{
		Role:       realtime.RoleAssistant,
		Content:    reply.Message,
		Confidence: reply.Confidence,
		At:         reply.Timestamp,
	})
}

// Fail clears the pending flag after a failed request; the question stays in the transcript.
func (t *AssistantTranscript) Fail() {
	t.pending = false
}

// Pending reports whether a question is awaiting its answer.
func (t *AssistantTranscript) Pending() bool {
	return t.pending
}

// Entries returns a copy of the transcript.
func (t *AssistantTranscript) Entries() []AssistantEntry {
	return append([]AssistantEntry(nil), t.entries...)
}

func (t *AssistantTranscript) history() []realtime.AssistantTurn {
	turns := make([]realtime.AssistantTurn, 0, len(t.entries))
	for _, entry := range t.entries {
		turns = append(turns, realtime.AssistantTurn{Role: entry.Role, Content: entry.Content})
	}
	return realtime.TrimHistory(turns)
}
