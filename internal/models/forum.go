package models

import (
	"time"

	"gorm.io/datatypes"
)

// Course holds the metadata displayed above a course forum.
type Course struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Instructor  string    `gorm:"size:128" json:"instructor"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ForumPost is a thread on a course discussion board.
type ForumPost struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	CourseID         string                      `gorm:"size:64;index;not null" json:"course_id"`
	Title            string                      `gorm:"size:255;not null" json:"title"`
	Content          string                      `gorm:"type:text" json:"content"`
	Kind             string                      `gorm:"size:32;index;not null" json:"kind"`
	Tags             datatypes.JSONSlice[string] `gorm:"type:json" json:"tags"`
	Metadata         datatypes.JSONMap           `gorm:"type:json" json:"metadata"`
	AuthorID         string                      `gorm:"size:64;index" json:"author_id"`
	AuthorName       string                      `gorm:"size:128" json:"author_name"`
	AuthorAvatar     string                      `gorm:"size:512" json:"author_avatar"`
	AuthorReputation int                         `json:"author_reputation"`
	AuthorBadge      string                      `gorm:"size:64" json:"author_badge"`
	Upvotes          int                         `gorm:"not null;default:0" json:"upvotes"`
	Downvotes        int                         `gorm:"not null;default:0" json:"downvotes"`
	ViewCount        int                         `gorm:"not null;default:0" json:"view_count"`
	Pinned           bool                        `gorm:"not null;default:false" json:"pinned"`
	Closed           bool                        `gorm:"not null;default:false" json:"closed"`
	LastActivityAt   time.Time                   `gorm:"index" json:"last_activity_at"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
	Replies          []ForumReply                `gorm:"foreignKey:PostID" json:"replies"`
}

// ForumReply is an answer or comment attached to a post.
type ForumReply struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PostID           uint      `gorm:"index;not null" json:"post_id"`
	Content          string    `gorm:"type:text" json:"content"`
	AuthorID         string    `gorm:"size:64;index" json:"author_id"`
	AuthorName       string    `gorm:"size:128" json:"author_name"`
	AuthorAvatar     string    `gorm:"size:512" json:"author_avatar"`
	AuthorReputation int       `json:"author_reputation"`
	AuthorBadge      string    `gorm:"size:64" json:"author_badge"`
	Upvotes          int       `gorm:"not null;default:0" json:"upvotes"`
	Downvotes        int       `gorm:"not null;default:0" json:"downvotes"`
	IsAccepted       bool      `gorm:"not null;default:false" json:"is_accepted"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ForumVote records a single user's vote on a post. Value is +1 or -1.
type ForumVote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"uniqueIndex:idx_forum_vote_user;not null" json:"post_id"`
	UserID    string    `gorm:"uniqueIndex:idx_forum_vote_user;size:64;not null" json:"user_id"`
	Value     int       `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAcceptedAnswer reports whether any loaded reply is accepted.
func (p ForumPost) HasAcceptedAnswer() bool {
	for _, reply := range p.Replies {
		if reply.IsAccepted {
			return true
		}
	}
	return false
}
