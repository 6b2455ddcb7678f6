package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-forum/internal/models"
)

func setupForumTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Course{}, &models.ForumPost{}, &models.ForumReply{}, &models.ForumVote{}, &models.ChatMessage{}))
	return db
}

func seedPost(t *testing.T, repo ForumRepository, courseID, title string, at time.Time) models.ForumPost {
	t.Helper()
	post := models.ForumPost{
		CourseID:  courseID,
		Title:     title,
		Content:   "body",
		Kind:      "question",
		Tags:      []string{"go"},
		AuthorID:  "ana",
		CreatedAt: at,
	}
	require.NoError(t, repo.CreatePost(context.Background(), &post))
	return post
}

func TestForumRepositoryListsPinnedThenActive(t *testing.T) {
	repo := NewForumRepository(setupForumTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	old := seedPost(t, repo, "c1", "old", base)
	fresh := seedPost(t, repo, "c1", "fresh", base.Add(time.Hour))
	seedPost(t, repo, "c2", "elsewhere", base)

	require.NoError(t, repo.CreateReply(ctx, &models.ForumReply{PostID: old.ID, Content: "bump", CreatedAt: base.Add(2 * time.Hour)}))

	posts, err := repo.ListPosts(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, "old", posts[0].Title, "reply should bump activity")
	require.Len(t, posts[0].Replies, 1)
	require.Equal(t, []string{"go"}, []string(posts[0].Tags))

	require.NoError(t, repo.SetPinned(ctx, fresh.ID, true, "teacher-1"))
	posts, err = repo.ListPosts(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "fresh", posts[0].Title)
	require.True(t, posts[0].Pinned)
	require.Equal(t, "teacher-1", posts[0].Metadata["pinned_by"])
}

func TestForumRepositoryCreateReplyRequiresPost(t *testing.T) {
	repo := NewForumRepository(setupForumTestDB(t))

	err := repo.CreateReply(context.Background(), &models.ForumReply{PostID: 999, Content: "orphan"})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestForumRepositoryAcceptsSingleReply(t *testing.T) {
	repo := NewForumRepository(setupForumTestDB(t))
	ctx := context.Background()
	post := seedPost(t, repo, "c1", "question", time.Now().UTC())

	first := models.ForumReply{PostID: post.ID, Content: "one"}
	second := models.ForumReply{PostID: post.ID, Content: "two"}
	require.NoError(t, repo.CreateReply(ctx, &first))
	require.NoError(t, repo.CreateReply(ctx, &second))

	require.NoError(t, repo.AcceptReply(ctx, post.ID, first.ID))
	require.NoError(t, repo.AcceptReply(ctx, post.ID, second.ID))

	stored, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	accepted := 0
	for _, reply := range stored.Replies {
		if reply.IsAccepted {
			accepted++
			require.Equal(t, second.ID, reply.ID)
		}
	}
	require.Equal(t, 1, accepted)

	other := seedPost(t, repo, "c1", "other", time.Now().UTC())
	require.ErrorIs(t, repo.AcceptReply(ctx, other.ID, first.ID), ErrReplyMismatch)
}

func TestForumRepositoryVoteTalliesAndToggles(t *testing.T) {
	repo := NewForumRepository(setupForumTestDB(t))
	ctx := context.Background()
	post := seedPost(t, repo, "c1", "question", time.Now().UTC())

	require.NoError(t, repo.Vote(ctx, post.ID, "ana", 1))
	require.NoError(t, repo.Vote(ctx, post.ID, "budi", 1))
	require.NoError(t, repo.Vote(ctx, post.ID, "citra", -1))

	stored, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Upvotes)
	require.Equal(t, 1, stored.Downvotes)

	require.NoError(t, repo.Vote(ctx, post.ID, "ana", -1))
	require.NoError(t, repo.Vote(ctx, post.ID, "budi", 1))

	stored, err = repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.Upvotes)
	require.Equal(t, 2, stored.Downvotes)

	require.ErrorIs(t, repo.Vote(ctx, 999, "ana", 1), gorm.ErrRecordNotFound)
}

func TestForumRepositoryIncrementViews(t *testing.T) {
	repo := NewForumRepository(setupForumTestDB(t))
	ctx := context.Background()
	post := seedPost(t, repo, "c1", "question", time.Now().UTC())

	require.NoError(t, repo.IncrementViews(ctx, post.ID))
	require.NoError(t, repo.IncrementViews(ctx, post.ID))

	stored, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.ViewCount)
	require.ErrorIs(t, repo.IncrementViews(ctx, 999), gorm.ErrRecordNotFound)
}

func TestChatRepositoryListByRoomIsChronological(t *testing.T) {
	repo := NewChatRepository(setupForumTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		message := models.ChatMessage{RoomID: "chat:c1", SenderID: "ana", Content: fmt.Sprintf("m%d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Save(ctx, &message))
	}
	require.NoError(t, repo.Save(ctx, &models.ChatMessage{RoomID: "chat:c2", Content: "other"}))

	messages, err := repo.ListByRoom(ctx, "chat:c1", time.Time{}, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "m2", messages[0].Content)
	require.Equal(t, "m4", messages[2].Content)

	earlier, err := repo.ListByRoom(ctx, "chat:c1", base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, earlier, 2)
}

func TestCourseRepositoryUpsert(t *testing.T) {
	repo := NewCourseRepository(setupForumTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.Course{ID: "c1", Title: "Go Basics"}))
	require.NoError(t, repo.Upsert(ctx, &models.Course{ID: "c1", Title: "Go Basics II", Instructor: "Rina"}))

	course, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Go Basics II", course.Title)
	require.Equal(t, "Rina", course.Instructor)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
