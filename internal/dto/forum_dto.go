package dto

import (
	"strconv"
	"time"

	"github.com/noah-isme/gema-forum/internal/models"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// ChatHistoryQuery filters the persisted messages of a course chat room.
type ChatHistoryQuery struct {
	CourseID string     `query:"-" validate:"required,max=64"`
	Before   *time.Time `query:"before"`
	Limit    int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// VoteRequest casts or changes a vote on a post.
type VoteRequest struct {
	Value int `json:"value" validate:"required,oneof=1 -1"`
}

// ModerationRequest toggles a moderation flag such as pinned or closed. A missing value enables it.
type ModerationRequest struct {
	Enabled *bool `json:"enabled"`
}

// NewCourse converts a course model into its wire form.
func NewCourse(model models.Course) realtime.Course {
	return realtime.Course{
		ID:          model.ID,
		Title:       model.Title,
		Description: model.Description,
		Instructor:  model.Instructor,
	}
}

// NewForumPost converts a post model, including preloaded replies, into its wire form.
func NewForumPost(model models.ForumPost) realtime.ForumPost {
	post := realtime.ForumPost{
		ID:       formatID(model.ID),
		CourseID: model.CourseID,
		Title:    model.Title,
		Content:  model.Content,
		Author: forumAuthor(model.AuthorID, model.AuthorName, model.AuthorAvatar,
			model.AuthorReputation, model.AuthorBadge),
		Kind:           realtime.PostKind(model.Kind),
		Tags:           append([]string{}, model.Tags...),
		CreatedAt:      model.CreatedAt,
		LastActivityAt: model.LastActivityAt,
		Upvotes:        model.Upvotes,
		Downvotes:      model.Downvotes,
		ViewCount:      model.ViewCount,
		Pinned:         model.Pinned,
		Closed:         model.Closed,
		Replies:        make([]realtime.ForumReply, 0, len(model.Replies)),
	}
	if post.LastActivityAt.IsZero() {
		post.LastActivityAt = model.CreatedAt
	}
	for _, reply := range model.Replies {
		post.Replies = append(post.Replies, NewForumReply(reply))
		if reply.IsAccepted {
			post.HasAcceptedAnswer = true
		}
	}
	return post
}

// NewForumPostSlice converts posts into their wire form.
func NewForumPostSlice(items []models.ForumPost) []realtime.ForumPost {
	out := make([]realtime.ForumPost, 0, len(items))
	for _, item := range items {
		out = append(out, NewForumPost(item))
	}
	return out
}

// NewForumReply converts a reply model into its wire form.
func NewForumReply(model models.ForumReply) realtime.ForumReply {
	return realtime.ForumReply{
		ID:      formatID(model.ID),
		Content: model.Content,
		Author: forumAuthor(model.AuthorID, model.AuthorName, model.AuthorAvatar,
			model.AuthorReputation, model.AuthorBadge),
		CreatedAt:  model.CreatedAt,
		Upvotes:    model.Upvotes,
		Downvotes:  model.Downvotes,
		IsAccepted: model.IsAccepted,
	}
}

// NewGroupMessage converts a persisted course chat message.
func NewGroupMessage(model models.ChatMessage) realtime.GroupMessage {
	sender := chatSender(model)
	return realtime.GroupMessage{
		ID:     formatID(model.ID),
		Kind:   realtime.MessageKindText,
		User:   &sender,
		Text:   model.Content,
		SentAt: model.CreatedAt,
	}
}

// NewGroupMessageSlice converts persisted course chat messages.
func NewGroupMessageSlice(items []models.ChatMessage) []realtime.GroupMessage {
	out := make([]realtime.GroupMessage, 0, len(items))
	for _, item := range items {
		out = append(out, NewGroupMessage(item))
	}
	return out
}

// NewP2PMessage converts a persisted private message.
func NewP2PMessage(model models.ChatMessage) realtime.P2PMessage {
	return realtime.P2PMessage{
		ID:     formatID(model.ID),
		RoomID: model.RoomID,
		User:   chatSender(model),
		Text:   model.Content,
		SentAt: model.CreatedAt,
	}
}

func chatSender(model models.ChatMessage) realtime.UserRef {
	return realtime.UserRef{ID: model.SenderID, Name: model.SenderName, AvatarURL: model.SenderAvatar}
}

func forumAuthor(id, name, avatar string, reputation int, badge string) realtime.ForumAuthor {
	return realtime.ForumAuthor{
		UserRef:    realtime.UserRef{ID: id, Name: name, AvatarURL: avatar},
		Reputation: reputation,
		Badge:      badge,
	}
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
