package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-forum/internal/models"
)

// ErrReplyMismatch is returned when a reply does not belong to the addressed post.
var ErrReplyMismatch = errors.New("reply does not belong to post")

// ForumRepository persists forum posts, replies and votes.
type ForumRepository interface {
	ListPosts(ctx context.Context, courseID string) ([]models.ForumPost, error)
	GetPost(ctx context.Context, id uint) (models.ForumPost, error)
	CreatePost(ctx context.Context, post *models.ForumPost) error
	CreateReply(ctx context.Context, reply *models.ForumReply) error
	AcceptReply(ctx context.Context, postID, replyID uint) error
	Vote(ctx context.Context, postID uint, userID string, value int) error
	SetPinned(ctx context.Context, postID uint, pinned bool, by string) error
	SetClosed(ctx context.Context, postID uint, closed bool, by string) error
	IncrementViews(ctx context.Context, postID uint) error
}

type forumRepository struct {
	db *gorm.DB
}

// NewForumRepository constructs a GORM-backed forum repository.
func NewForumRepository(db *gorm.DB) ForumRepository {
	return &forumRepository{db: db}
}

func orderedReplies(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

func (r *forumRepository) ListPosts(ctx context.Context, courseID string) ([]models.ForumPost, error) {
	var posts []models.ForumPost
	if err := r.db.WithContext(ctx).
		Preload("Replies", orderedReplies).
		Where("course_id = ?", courseID).
		Order("pinned DESC").
		Order("last_activity_at DESC").
		Order("id DESC").
		Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *forumRepository) GetPost(ctx context.Context, id uint) (models.ForumPost, error) {
	var post models.ForumPost
	if err := r.db.WithContext(ctx).Preload("Replies", orderedReplies).First(&post, id).Error; err != nil {
		return models.ForumPost{}, err
	}
	return post, nil
}

func (r *forumRepository) CreatePost(ctx context.Context, post *models.ForumPost) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.LastActivityAt.IsZero() {
		post.LastActivityAt = post.CreatedAt
	}
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *forumRepository) CreateReply(ctx context.Context, reply *models.ForumReply) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(reply).Error; err != nil {
			return err
		}

		activity := reply.CreatedAt
		if activity.IsZero() {
			activity = time.Now().UTC()
		}

		result := tx.Model(&models.ForumPost{}).
			Where("id = ?", reply.PostID).
			UpdateColumn("last_activity_at", activity)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// AcceptReply marks one reply as the accepted answer and clears the flag on its siblings.
func (r *forumRepository) AcceptReply(ctx context.Context, postID, replyID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reply models.ForumReply
		if err := tx.First(&reply, replyID).Error; err != nil {
			return err
		}
		if reply.PostID != postID {
			return ErrReplyMismatch
		}

		if err := tx.Model(&models.ForumReply{}).
			Where("post_id = ? AND id <> ?", postID, replyID).
			UpdateColumn("is_accepted", false).Error; err != nil {
			return err
		}

		return tx.Model(&models.ForumReply{}).
			Where("id = ?", replyID).
			UpdateColumn("is_accepted", true).Error
	})
}

// Vote stores the user's vote and recomputes the post tallies. Repeating the same vote withdraws it.
func (r *forumRepository) Vote(ctx context.Context, postID uint, userID string, value int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.ForumPost
		if err := tx.Select("id").First(&post, postID).Error; err != nil {
			return err
		}

		var existing models.ForumVote
		err := tx.Where("post_id = ? AND user_id = ?", postID, userID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			vote := models.ForumVote{PostID: postID, UserID: userID, Value: value}
			if err := tx.Create(&vote).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.Value == value:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		default:
			if err := tx.Model(&existing).UpdateColumn("value", value).Error; err != nil {
				return err
			}
		}

		var up, down int64
		if err := tx.Model(&models.ForumVote{}).Where("post_id = ? AND value > 0", postID).Count(&up).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ForumVote{}).Where("post_id = ? AND value < 0", postID).Count(&down).Error; err != nil {
			return err
		}

		return tx.Model(&models.ForumPost{}).Where("id = ?", postID).UpdateColumns(map[string]interface{}{
			"upvotes":   up,
			"downvotes": down,
		}).Error
	})
}

func (r *forumRepository) SetPinned(ctx context.Context, postID uint, pinned bool, by string) error {
	return r.setFlag(ctx, postID, "pinned", pinned, by)
}

func (r *forumRepository) SetClosed(ctx context.Context, postID uint, closed bool, by string) error {
	return r.setFlag(ctx, postID, "closed", closed, by)
}

func (r *forumRepository) setFlag(ctx context.Context, postID uint, column string, value bool, by string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.ForumPost
		if err := tx.Select("id", "metadata").First(&post, postID).Error; err != nil {
			return err
		}

		metadata := post.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata[column+"_by"] = by

		return tx.Model(&models.ForumPost{}).Where("id = ?", postID).UpdateColumns(map[string]interface{}{
			column:     value,
			"metadata": metadata,
		}).Error
	})
}

func (r *forumRepository) IncrementViews(ctx context.Context, postID uint) error {
	result := r.db.WithContext(ctx).Model(&models.ForumPost{}).
		Where("id = ?", postID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
