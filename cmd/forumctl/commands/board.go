package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-forum/pkg/forumclient"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List the discussion board of a course",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := clientEnv(cmd)
		if err != nil {
			return err
		}
		filter, _ := cmd.Flags().GetString("filter")
		sort, _ := cmd.Flags().GetString("sort")
		search, _ := cmd.Flags().GetString("search")

		posts, err := apiClient(cfg).Posts(cmd.Context(), cfg.CourseID)
		result := forumclient.WithFallback(posts, err, func() []realtime.ForumPost {
			return forumclient.FallbackPosts(cfg.CourseID)
		})
		if result.Fallback {
			logger.Warn().Err(result.Err).Msg("showing placeholder posts")
		}

		board := forumclient.NewBoardStore()
		board.Load(result.Data, result.Fallback)

		out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(out, "ID\tKIND\tSCORE\tREPLIES\tTITLE")
		for _, post := range board.List(forumclient.ParseFilter(filter), search, forumclient.ParseSortKey(sort)) {
			title := post.Title
			if post.Pinned {
				title = "[pinned] " + title
			}
			if post.HasAcceptedAnswer {
				title += " (answered)"
			}
			fmt.Fprintf(out, "%s\t%s\t%d\t%d\t%s\n", post.ID, post.Kind, post.Score(), len(post.Replies), title)
		}
		return out.Flush()
	},
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Open a new thread on the course board",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := clientEnv(cmd)
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		kind, _ := cmd.Flags().GetString("kind")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		post, err := apiClient(cfg).CreatePost(cmd.Context(), cfg.CourseID, realtime.PostDraft{
			Title:   title,
			Content: content,
			Kind:    realtime.PostKind(strings.ToLower(kind)),
			Tags:    tags,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created post %s\n", post.ID)
		return nil
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply <post-id> <content>",
	Short: "Reply to a thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := clientEnv(cmd)
		if err != nil {
			return err
		}
		reply, err := apiClient(cfg).CreateReply(cmd.Context(), args[0], realtime.ReplyDraft{Content: args[1]})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created reply %s\n", reply.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(postsCmd, postCmd, replyCmd)

	postsCmd.Flags().String("filter", "all", "all, questions, discussions, help, unanswered")
	postsCmd.Flags().String("sort", "recent", "recent, newest, active, votes, replies, views")
	postsCmd.Flags().String("search", "", "case-insensitive text search")

	postCmd.Flags().String("title", "", "thread title")
	postCmd.Flags().String("content", "", "thread body")
	postCmd.Flags().String("kind", string(realtime.PostKindDiscussion), "question, discussion, help or announcement")
	postCmd.Flags().StringSlice("tag", nil, "tag to attach (repeatable)")
	_ = postCmd.MarkFlagRequired("title")
	_ = postCmd.MarkFlagRequired("content")
}
