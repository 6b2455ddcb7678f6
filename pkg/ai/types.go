package ai

import "context"

// Turn is one earlier exchange in a study conversation.
type Turn struct {
	Role    string
	Content string
}

// Question is what the student asks, along with recent turns for context.
type Question struct {
	CourseTitle string
	Message     string
	History     []Turn
}

// Answer is the assistant's reply with its self-reported confidence in [0,1].
type Answer struct {
	Message    string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Assistant answers study questions.
type Assistant interface {
	Answer(ctx context.Context, question Question) (Answer, error)
}
