package forumclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

func boardFixture() []realtime.ForumPost {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []realtime.ForumPost{
		{
			ID: "p1", Title: "Understanding React hooks", Content: "useState basics",
			Kind: realtime.PostKindQuestion, Tags: []string{"hooks"},
			CreatedAt: base, LastActivityAt: base.Add(5 * time.Hour),
			Upvotes: 3, ViewCount: 40,
		},
		{
			ID: "p2", Title: "Weekly discussion", Content: "What did you build?",
			Kind: realtime.PostKindDiscussion, Tags: []string{"weekly"},
			CreatedAt: base.Add(time.Hour), LastActivityAt: base.Add(time.Hour),
			Upvotes: 10, Downvotes: 2, ViewCount: 10,
			Replies: []realtime.ForumReply{{ID: "r1"}, {ID: "r2"}},
		},
		{
			ID: "p3", Title: "Setup help", Content: "node version mismatch",
			Kind: realtime.PostKindHelp,
			CreatedAt: base.Add(2 * time.Hour), LastActivityAt: base.Add(3 * time.Hour),
			Upvotes: 1, ViewCount: 99,
			Replies:           []realtime.ForumReply{{ID: "r3", IsAccepted: true}},
			HasAcceptedAnswer: true,
		},
		{
			ID: "p4", Title: "Closures question", Content: "Do HOOKS capture stale state?",
			Kind:      realtime.PostKindQuestion,
			CreatedAt: base.Add(3 * time.Hour), LastActivityAt: base.Add(3 * time.Hour),
			ViewCount: 5,
		},
	}
}

func ids(posts []realtime.ForumPost) []string {
	out := make([]string, 0, len(posts))
	for _, post := range posts {
		out = append(out, post.ID)
	}
	return out
}

func TestBoardFilters(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)

	require.Equal(t, []string{"p1", "p2", "p3", "p4"}, ids(board.List(FilterAll, "", SortRecent)))
	require.Equal(t, []string{"p1", "p4"}, ids(board.List(FilterQuestions, "", SortRecent)))
	require.Equal(t, []string{"p2"}, ids(board.List(FilterDiscussions, "", SortRecent)))
	require.Equal(t, []string{"p3"}, ids(board.List(FilterHelp, "", SortRecent)))
	require.Equal(t, []string{"p1", "p4"}, ids(board.List(FilterUnanswered, "", SortRecent)))
}

func TestBoardUnansweredRequiresNoRepliesAndNoAcceptedAnswer(t *testing.T) {
	board := NewBoardStore()
	board.Load([]realtime.ForumPost{
		{ID: "none"},
		{ID: "replied", Replies: []realtime.ForumReply{{ID: "r"}}},
		{ID: "accepted-flag", HasAcceptedAnswer: true},
	}, false)

	require.Equal(t, []string{"none"}, ids(board.List(FilterUnanswered, "", SortRecent)))
}

func TestBoardSearchIsCaseInsensitiveAcrossFields(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)

	require.Equal(t, []string{"p1", "p4"}, ids(board.List(FilterAll, "HOOKS", SortRecent)))
	require.Equal(t, []string{"p3"}, ids(board.List(FilterAll, "Node", SortRecent)))
	require.Equal(t, []string{"p2"}, ids(board.List(FilterAll, "weekly", SortRecent)))
	require.Empty(t, board.List(FilterAll, "kubernetes", SortRecent))
}

func TestBoardFilterAndSearchAreConjunctive(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)

	require.Equal(t, []string{"p1", "p4"}, ids(board.List(FilterQuestions, "hook", SortRecent)))
	require.Empty(t, board.List(FilterDiscussions, "hook", SortRecent))
	require.Empty(t, board.List(FilterHelp, "weekly", SortRecent))
}

func TestBoardSortKeys(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)

	require.Equal(t, []string{"p4", "p3", "p2", "p1"}, ids(board.List(FilterAll, "", SortNewest)))
	require.Equal(t, []string{"p1", "p3", "p4", "p2"}, ids(board.List(FilterAll, "", SortActive)))
	require.Equal(t, []string{"p2", "p1", "p3", "p4"}, ids(board.List(FilterAll, "", SortVotes)))
	require.Equal(t, []string{"p2", "p3", "p1", "p4"}, ids(board.List(FilterAll, "", SortReplies)))
	require.Equal(t, []string{"p3", "p1", "p2", "p4"}, ids(board.List(FilterAll, "", SortViews)))
}

func TestBoardListDoesNotMutate(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)

	listed := board.List(FilterAll, "", SortViews)
	listed[0].Title = "changed"
	listed[0].Tags = append(listed[0].Tags, "x")

	require.Equal(t, []string{"p1", "p2", "p3", "p4"}, ids(board.List(FilterAll, "", SortRecent)))
	post, ok := board.Post("p3")
	require.True(t, ok)
	require.Equal(t, "Setup help", post.Title)
	require.Empty(t, post.Tags)
}

func TestBoardPrependAndAppendReply(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)
	later := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	require.True(t, board.Prepend(realtime.ForumPost{ID: "p5", Title: "Fresh"}))
	require.False(t, board.Prepend(realtime.ForumPost{ID: "p5", Title: "Duplicate"}))
	require.Equal(t, []string{"p5", "p1", "p2", "p3", "p4"}, ids(board.List(FilterAll, "", SortRecent)))

	require.True(t, board.AppendReply("p4", realtime.ForumReply{ID: "r9", CreatedAt: later}))
	require.False(t, board.AppendReply("p4", realtime.ForumReply{ID: "r9", CreatedAt: later}))
	require.False(t, board.AppendReply("missing", realtime.ForumReply{ID: "r10"}))

	post, _ := board.Post("p4")
	require.Len(t, post.Replies, 1)
	require.Equal(t, later, post.LastActivityAt)
	require.Equal(t, []string{"p5", "p1"}, ids(board.List(FilterUnanswered, "", SortRecent)))
}

func TestBoardAcceptedReplyMarksPost(t *testing.T) {
	board := NewBoardStore()
	board.Load(boardFixture(), false)

	board.AppendReply("p2", realtime.ForumReply{ID: "r4", IsAccepted: true})

	post, _ := board.Post("p2")
	require.True(t, post.HasAcceptedAnswer)
	accepted := 0
	for _, reply := range post.Replies {
		if reply.IsAccepted {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
}

func TestBoardFallbackFlag(t *testing.T) {
	board := NewBoardStore()
	board.Load(FallbackPosts("course-1"), true)

	require.True(t, board.Fallback())
	require.NotEmpty(t, board.List(FilterAll, "HOOKS", SortRecent))
}

func TestParseBoardQuery(t *testing.T) {
	require.Equal(t, FilterUnanswered, ParseFilter(" Unanswered "))
	require.Equal(t, FilterAll, ParseFilter("bogus"))
	require.Equal(t, SortVotes, ParseSortKey("VOTES"))
	require.Equal(t, SortRecent, ParseSortKey(""))
}
