package models

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

type Opinion struct {
	ID        uuid.UUID `json:"id"`
	ItemID    uuid.UUID `json:"item_id"`
	UserID    uuid.UUID `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`
}

func (o Opinion) Counts() Counts {
	return Counts{Likes: o.Likes, Dislikes: o.Dislikes}
}

type Comment struct {
	ID              uuid.UUID  `json:"id"`
	OpinionID       uuid.UUID  `json:"opinion_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Text            string     `json:"text"`
	Timestamp       time.Time  `json:"timestamp"`
	Likes           int        `json:"likes"`
	Dislikes        int        `json:"dislikes"`
	ParentCommentID *uuid.UUID `json:"parent_comment_id,omitempty"`
}

// IsTopLevel reports whether the comment replies directly to its opinion.
func (c Comment) IsTopLevel() bool {
	return c.ParentCommentID == nil
}

// ParentKey returns the parent id, or uuid.Nil for top-level comments.
func (c Comment) ParentKey() uuid.UUID {
	if c.ParentCommentID == nil {
		return uuid.Nil
	}
	return *c.ParentCommentID
}

func (c Comment) Counts() Counts {
	return Counts{Likes: c.Likes, Dislikes: c.Dislikes}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
	Role  Role      `json:"role,omitempty"`
}

// NewComment is the input of a comment submission.
type NewComment struct {
	OpinionID       uuid.UUID
	UserID          uuid.UUID
	Text            string
	ParentCommentID *uuid.UUID
	Timestamp       time.Time
}

type Counts struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

// Bump returns counts with one more vote for choice.
func (c Counts) Bump(choice Choice) Counts {
	switch choice {
	case Agree:
		c.Likes++
	case Disagree:
		c.Dislikes++
	}
	return c
}

type Choice int

const (
	NoChoice Choice = iota
	Agree
	Disagree
)

func ChoiceFromLike(like bool) Choice {
	if like {
		return Agree
	}
	return Disagree
}

func (c Choice) Like() bool {
	return c == Agree
}

func (c Choice) String() string {
	switch c {
	case Agree:
		return "agree"
	case Disagree:
		return "disagree"
	}
	return "none"
}

func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

type EntityKind string

const (
	KindOpinion EntityKind = "opinion"
	KindComment EntityKind = "comment"
)

func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case KindOpinion, KindComment:
		return EntityKind(s), nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// EntityKey identifies a reactable entity.
type EntityKey struct {
	Kind EntityKind
	ID   uuid.UUID
}

func OpinionKey(id uuid.UUID) EntityKey {
	return EntityKey{Kind: KindOpinion, ID: id}
}

func CommentKey(id uuid.UUID) EntityKey {
	return EntityKey{Kind: KindComment, ID: id}
}

func (k EntityKey) String() string {
	return string(k.Kind) + "/" + k.ID.String()
}

type SortMode string

const (
	SortByScore   SortMode = "top"
	SortByRecency SortMode = "newest"
)
