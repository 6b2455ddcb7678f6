package forumclient

import (
	"time"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// FallbackNotice is shown when the board runs on placeholder content.
const FallbackNotice = "Forum server unreachable; showing sample discussions."

// FallbackCourse is the placeholder course used when metadata cannot be fetched.
func FallbackCourse(courseID string) realtime.Course {
	return realtime.Course{
		ID:          courseID,
		Title:       "Modern Web Development",
		Description: "Build interactive applications with components, state and hooks.",
		Instructor:  "GEMA Instructor",
	}
}

// FallbackPosts is the placeholder board used when posts cannot be fetched.
func FallbackPosts(courseID string) []realtime.ForumPost {
	base := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	instructor := realtime.ForumAuthor{
		UserRef:    realtime.UserRef{ID: "instructor", Name: "GEMA Instructor"},
		Reputation: 2500,
		Badge:      "instructor",
	}
	student := realtime.ForumAuthor{
		UserRef:    realtime.UserRef{ID: "student-1", Name: "Rina"},
		Reputation: 120,
	}
	helper := realtime.ForumAuthor{
		UserRef:    realtime.UserRef{ID: "student-2", Name: "Bayu"},
		Reputation: 640,
		Badge:      "helper",
	}

	return []realtime.ForumPost{
		{
			ID:             "fallback-1",
			CourseID:       courseID,
			Title:          "When should I reach for useEffect?",
			Content:        "I keep putting data fetching in render. Which hooks run after paint and how do I clean up?",
			Author:         student,
			Kind:           realtime.PostKindQuestion,
			Tags:           []string{"react", "hooks"},
			CreatedAt:      base,
			LastActivityAt: base.Add(2 * time.Hour),
			Upvotes:        12,
			ViewCount:      87,
			Replies: []realtime.ForumReply{{
				ID:         "fallback-1-r1",
				Content:    "Effects run after commit. Return a cleanup function to cancel subscriptions or timers.",
				Author:     helper,
				CreatedAt:  base.Add(2 * time.Hour),
				Upvotes:    9,
				IsAccepted: true,
			}},
			HasAcceptedAnswer: true,
		},
		{
			ID:             "fallback-2",
			CourseID:       courseID,
			Title:          "Share your capstone project ideas",
			Content:        "Post what you plan to build for the final project so others can team up.",
			Author:         instructor,
			Kind:           realtime.PostKindDiscussion,
			Tags:           []string{"capstone", "projects"},
			CreatedAt:      base.Add(24 * time.Hour),
			LastActivityAt: base.Add(24 * time.Hour),
			Upvotes:        21,
			Downvotes:      1,
			ViewCount:      154,
			Pinned:         true,
		},
		{
			ID:             "fallback-3",
			CourseID:       courseID,
			Title:          "npm install fails behind the campus proxy",
			Content:        "Getting ECONNRESET on every install. Anyone found a working proxy config?",
			Author:         student,
			Kind:           realtime.PostKindHelp,
			Tags:           []string{"tooling", "npm"},
			CreatedAt:      base.Add(48 * time.Hour),
			LastActivityAt: base.Add(48 * time.Hour),
			Upvotes:        3,
			ViewCount:      22,
		},
		{
			ID:             "fallback-4",
			CourseID:       courseID,
			Title:          "Week 3 live session moved to Thursday",
			Content:        "The live coding session on state management now starts Thursday at 19:00.",
			Author:         instructor,
			Kind:           realtime.PostKindAnnouncement,
			Tags:           []string{"schedule"},
			CreatedAt:      base.Add(72 * time.Hour),
			LastActivityAt: base.Add(72 * time.Hour),
			ViewCount:      203,
			Pinned:         true,
		},
	}
}
