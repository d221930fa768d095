package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"io"
	"openline/internal/models"
	"openline/internal/render"
	"openline/internal/service"
	"openline/internal/tree"
	"strings"
	"time"
)

var (
	sortFlag     string
	showReplies  bool
	agreeFlag    bool
	disagreeFlag bool
	userFlag     string
	textFlag     string
	parentFlag   string
	editTextFlag string
)

var threadCmd = &cobra.Command{
	Use:   "thread <opinion-id>",
	Short: "Print an opinion with its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opinionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid opinion id: %w", err)
		}
		mode, err := tree.ParseSortMode(sortFlag)
		if err != nil {
			return err
		}

		feed, err := newFeed()
		if err != nil {
			return err
		}
		defer feed.Close()

		th, err := feed.Thread(cmd.Context(), opinionID, mode)
		if err != nil {
			return err
		}
		printThread(cmd.Context(), cmd.OutOrStdout(), feed, th, showReplies)
		return nil
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <opinion|comment> <id>",
	Short: "Agree or disagree with an opinion or comment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseEntityKind(args[0])
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		if agreeFlag == disagreeFlag {
			return errors.New("exactly one of --agree or --disagree is required")
		}

		feed, err := newFeed()
		if err != nil {
			return err
		}
		defer feed.Close()

		out, err := feed.React(cmd.Context(), models.EntityKey{Kind: kind, ID: id}, models.ChoiceFromLike(agreeFlag))
		if err != nil {
			return err
		}
		stale := ""
		if out.Stale {
			stale = " (not refreshed)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d likes, %d dislikes%s\n",
			out.Choice, kind, out.Counts.Likes, out.Counts.Dislikes, stale)
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <opinion-id>",
	Short: "Post a comment or a reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opinionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid opinion id: %w", err)
		}
		userID, err := uuid.Parse(userFlag)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		nc := models.NewComment{OpinionID: opinionID, UserID: userID, Text: textFlag}
		if parentFlag != "" {
			parent, err := uuid.Parse(parentFlag)
			if err != nil {
				return fmt.Errorf("invalid --parent: %w", err)
			}
			nc.ParentCommentID = &parent
		}

		feed, err := newFeed()
		if err != nil {
			return err
		}
		defer feed.Close()

		created, err := feed.SubmitComment(cmd.Context(), nc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), created.ID)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <comment-id>",
	Short: "Replace the text of a comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid comment id: %w", err)
		}

		feed, err := newFeed()
		if err != nil {
			return err
		}
		defer feed.Close()

		updated, err := feed.UpdateComment(cmd.Context(), id, editTextFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", updated.ID, updated.Text)
		return nil
	},
}

func init() {
	threadCmd.Flags().StringVarP(&sortFlag, "sort", "s", "top", "sort tab: top or newest")
	threadCmd.Flags().BoolVarP(&showReplies, "replies", "r", false, "print replies under each comment")

	reactCmd.Flags().BoolVar(&agreeFlag, "agree", false, "agree (like)")
	reactCmd.Flags().BoolVar(&disagreeFlag, "disagree", false, "disagree (dislike)")

	commentCmd.Flags().StringVarP(&userFlag, "user", "u", "", "author user id")
	commentCmd.Flags().StringVarP(&textFlag, "text", "t", "", "comment text")
	commentCmd.Flags().StringVarP(&parentFlag, "parent", "p", "", "parent comment id for a reply")
	_ = commentCmd.MarkFlagRequired("user")
	_ = commentCmd.MarkFlagRequired("text")

	editCmd.Flags().StringVarP(&editTextFlag, "text", "t", "", "new comment text")
	_ = editCmd.MarkFlagRequired("text")
}

func printThread(ctx context.Context, w io.Writer, feed *service.Feed, th *service.Thread, replies bool) {
	now := render.WallClock(time.Now())
	op := th.Opinion
	fmt.Fprintf(w, "%s · %s\n%s\n▲ %d  ▼ %d  · %d comments\n\n",
		feed.DisplayName(ctx, op.UserID), render.TimeAgo(op.Timestamp, now), op.Text,
		op.Likes, op.Dislikes, len(th.Comments))

	// visited guards against parent cycles in malformed data.
	visited := make(map[uuid.UUID]bool)
	var walk func(c models.Comment, depth int)
	walk = func(c models.Comment, depth int) {
		if visited[c.ID] {
			return
		}
		visited[c.ID] = true

		indent := strings.Repeat("    ", depth)
		fmt.Fprintf(w, "%s%s · %s · ▲ %d ▼ %d\n%s%s\n",
			indent, feed.DisplayName(ctx, c.UserID), render.TimeAgo(c.Timestamp, now), c.Likes, c.Dislikes,
			indent, c.Text)
		if n := th.ReplyCount(c.ID); n > 0 && !replies {
			fmt.Fprintf(w, "%s(%d replies)\n", indent, n)
		}
		if replies {
			for _, r := range tree.Sort(th.Replies(c.ID), models.SortByRecency) {
				walk(r, depth+1)
			}
		}
	}
	for _, c := range th.TopLevel {
		walk(c, 0)
	}
}
