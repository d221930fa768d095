// Package tree groups the flat comment list of one opinion into top-level
// comments and a parent to replies index. All functions are pure: they never
// mutate their input and never fail.
package tree

import (
	"cmp"
	"fmt"
	"github.com/google/uuid"
	"openline/internal/models"
	"slices"
	"strings"
)

// PartitionTopLevel returns the comments without a parent, in input order.
func PartitionTopLevel(comments []models.Comment) []models.Comment {
	top := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		if c.IsTopLevel() {
			top = append(top, c)
		}
	}
	return top
}

// IndexReplies groups every comment by its immediate parent id. Top-level
// comments are stored under uuid.Nil. Each group keeps input order.
//
// Parent ids that do not belong to the batch still get a key; nothing reaches
// them from PartitionTopLevel.
func IndexReplies(comments []models.Comment) map[uuid.UUID][]models.Comment {
	index := make(map[uuid.UUID][]models.Comment)
	for _, c := range comments {
		key := c.ParentKey()
		index[key] = append(index[key], c)
	}
	return index
}

// Replies returns the direct replies of parentID. The uuid.Nil group is never
// returned as replies.
func Replies(index map[uuid.UUID][]models.Comment, parentID uuid.UUID) []models.Comment {
	if parentID == uuid.Nil {
		return nil
	}
	return index[parentID]
}

// Sort returns a sorted copy of comments.
//
// SortByScore orders by likes descending, then timestamp descending, then id
// ascending. SortByRecency orders by timestamp descending, then likes
// descending, then id ascending. Both are total orders.
func Sort(comments []models.Comment, mode models.SortMode) []models.Comment {
	sorted := slices.Clone(comments)
	if sorted == nil {
		sorted = []models.Comment{}
	}

	switch mode {
	case models.SortByRecency:
		slices.SortStableFunc(sorted, byRecency)
	default:
		slices.SortStableFunc(sorted, byScore)
	}
	return sorted
}

func byScore(a, b models.Comment) int {
	if c := cmp.Compare(b.Likes, a.Likes); c != 0 {
		return c
	}
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}

func byRecency(a, b models.Comment) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Likes, a.Likes); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}

// ParseSortMode maps a tab name to a sort mode. An empty string selects
// SortByScore.
func ParseSortMode(s string) (models.SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "top", "score", "by_score":
		return models.SortByScore, nil
	case "newest", "new", "recent", "by_recency":
		return models.SortByRecency, nil
	}
	return "", fmt.Errorf("unknown sort mode %q", s)
}

// Thread is the indexed view of one opinion's comments.
type Thread struct {
	TopLevel []models.Comment
	Index    map[uuid.UUID][]models.Comment
}

// Build partitions, sorts and indexes comments.
func Build(comments []models.Comment, mode models.SortMode) Thread {
	return Thread{
		TopLevel: Sort(PartitionTopLevel(comments), mode),
		Index:    IndexReplies(comments),
	}
}

func (t Thread) Replies(parentID uuid.UUID) []models.Comment {
	return Replies(t.Index, parentID)
}

func (t Thread) ReplyCount(parentID uuid.UUID) int {
	return len(t.Replies(parentID))
}
