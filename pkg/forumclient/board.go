package forumclient

import (
	"sort"
	"strings"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// Filter narrows the board by post kind or answer state.
type Filter string

// Supported filters.
const (
	FilterAll         Filter = "all"
	FilterQuestions   Filter = "questions"
	FilterDiscussions Filter = "discussions"
	FilterHelp        Filter = "help"
	FilterUnanswered  Filter = "unanswered"
)

// SortKey orders the board.
type SortKey string

// Supported sort keys. SortRecent keeps the order the board received posts in.
const (
	SortRecent  SortKey = "recent"
	SortNewest  SortKey = "newest"
	SortActive  SortKey = "active"
	SortVotes   SortKey = "votes"
	SortReplies SortKey = "replies"
	SortViews   SortKey = "views"
)

// ParseFilter maps user input to a filter, defaulting to FilterAll.
func ParseFilter(value string) Filter {
	switch Filter(strings.ToLower(strings.TrimSpace(value))) {
	case FilterQuestions:
		return FilterQuestions
	case FilterDiscussions:
		return FilterDiscussions
	case FilterHelp:
		return FilterHelp
	case FilterUnanswered:
		return FilterUnanswered
	default:
		return FilterAll
	}
}

// ParseSortKey maps user input to a sort key, defaulting to SortRecent.
func ParseSortKey(value string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(value))) {
	case SortNewest:
		return SortNewest
	case SortActive:
		return SortActive
	case SortVotes:
		return SortVotes
	case SortReplies:
		return SortReplies
	case SortViews:
		return SortViews
	default:
		return SortRecent
	}
}

// BoardStore is the client-side collection of forum posts for one course.
type BoardStore struct {
	posts    []realtime.ForumPost
	index    map[string]int
	fallback bool
}

// NewBoardStore creates an empty board.
func NewBoardStore() *BoardStore {
	return &BoardStore{index: make(map[string]int)}
}

// Load replaces the board content. fallback records that the posts are placeholders.
func (b *BoardStore) Load(posts []realtime.ForumPost, fallback bool) {
	b.posts = make([]realtime.ForumPost, 0, len(posts))
	b.index = make(map[string]int, len(posts))
	for _, post := range posts {
		if _, dup := b.index[post.ID]; dup {
			continue
		}
		b.index[post.ID] = len(b.posts)
		b.posts = append(b.posts, post.Clone())
	}
	b.fallback = fallback
}

// Fallback reports whether the board shows placeholder content.
func (b *BoardStore) Fallback() bool {
	return b.fallback
}

// Len is the number of posts on the board.
func (b *BoardStore) Len() int {
	return len(b.posts)
}

// Post returns a copy of a single post.
func (b *BoardStore) Post(id string) (realtime.ForumPost, bool) {
	i, ok := b.index[id]
	if !ok {
		return realtime.ForumPost{}, false
	}
	return b.posts[i].Clone(), true
}

// Prepend inserts a post pushed by the server at the head of the board. A post that is
// already present is ignored and false is returned.
func (b *BoardStore) Prepend(post realtime.ForumPost) bool {
	if _, ok := b.index[post.ID]; ok {
		return false
	}
	b.posts = append([]realtime.ForumPost{post.Clone()}, b.posts...)
	b.reindex()
	return true
}

// AppendReply attaches a reply to its post. It reports false when the post is unknown
// or the reply was already attached.
func (b *BoardStore) AppendReply(postID string, reply realtime.ForumReply) bool {
	i, ok := b.index[postID]
	if !ok {
		return false
	}
	post := &b.posts[i]
	for _, existing := range post.Replies {
		if existing.ID == reply.ID {
			return false
		}
	}

	post.Replies = append(post.Replies, reply)
	if reply.CreatedAt.After(post.LastActivityAt) {
		post.LastActivityAt = reply.CreatedAt
	}
	if reply.IsAccepted {
		for j := range post.Replies[:len(post.Replies)-1] {
			post.Replies[j].IsAccepted = false
		}
		post.HasAcceptedAnswer = true
	}
	return true
}

// List derives the visible posts. It never mutates the board; filter and search are
// conjunctive and the sort is stable.
func (b *BoardStore) List(filter Filter, search string, key SortKey) []realtime.ForumPost {
	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]realtime.ForumPost, 0, len(b.posts))
	for _, post := range b.posts {
		if !matchesFilter(post, filter) || !matchesSearch(post, needle) {
			continue
		}
		out = append(out, post.Clone())
	}

	if less := sortLess(out, key); less != nil {
		sort.SliceStable(out, less)
	}
	return out
}

func (b *BoardStore) reindex() {
	b.index = make(map[string]int, len(b.posts))
	for i, post := range b.posts {
		b.index[post.ID] = i
	}
}

func matchesFilter(post realtime.ForumPost, filter Filter) bool {
	switch filter {
	case FilterQuestions:
		return post.Kind == realtime.PostKindQuestion
	case FilterDiscussions:
		return post.Kind == realtime.PostKindDiscussion
	case FilterHelp:
		return post.Kind == realtime.PostKindHelp
	case FilterUnanswered:
		return !post.HasAcceptedAnswer && len(post.Replies) == 0
	default:
		return true
	}
}

func matchesSearch(post realtime.ForumPost, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(post.Title), needle) ||
		strings.Contains(strings.ToLower(post.Content), needle) {
		return true
	}
	for _, tag := range post.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func sortLess(posts []realtime.ForumPost, key SortKey) func(i, j int) bool {
	switch key {
	case SortNewest:
		return func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) }
	case SortActive:
		return func(i, j int) bool { return posts[i].LastActivityAt.After(posts[j].LastActivityAt) }
	case SortVotes:
		return func(i, j int) bool { return posts[i].Score() > posts[j].Score() }
	case SortReplies:
		return func(i, j int) bool { return len(posts[i].Replies) > len(posts[j].Replies) }
	case SortViews:
		return func(i, j int) bool { return posts[i].ViewCount > posts[j].ViewCount }
	default:
		return nil
	}
}
