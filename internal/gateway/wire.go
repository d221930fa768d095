package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"openline/internal/models"
	"strings"
	"time"
)

type opinionDTO struct {
	ID        string `json:"id"`
	ItemID    string `json:"itemId"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Likes     int    `json:"likes"`
	Dislikes  int    `json:"dislikes"`
}

type commentDTO struct {
	ID              string  `json:"id,omitempty"`
	OpinionID       string  `json:"opinionId"`
	UserID          string  `json:"userId"`
	Text            string  `json:"text"`
	Timestamp       string  `json:"timestamp"`
	Likes           int     `json:"likes"`
	Dislikes        int     `json:"dislikes"`
	ParentCommentID *string `json:"parentCommentId,omitempty"`
}

type reactRequest struct {
	Like bool `json:"like"`
}

type textRequest struct {
	Text string `json:"text"`
}

type countResponse struct {
	Likes    *int `json:"likes"`
	Dislikes *int `json:"dislikes"`
}

type userNameResponse struct {
	Name *string `json:"name"`
}

// localLayout is used when the backend echoes a timestamp without offset.
const localLayout = "2006-01-02T15:04:05.999999999"

// parseTimestamp reads an ISO-8601 timestamp and keeps its wall clock,
// discarding the offset.
func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		var localErr error
		t, localErr = time.Parse(localLayout, raw)
		if localErr != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return id, nil
}

func checkCounts(likes, dislikes int) error {
	if likes < 0 || dislikes < 0 {
		return fmt.Errorf("negative counts likes=%d dislikes=%d", likes, dislikes)
	}
	return nil
}

func (d opinionDTO) toModel() (models.Opinion, error) {
	var (
		op  models.Opinion
		err error
	)
	if op.ID, err = parseID("id", d.ID); err != nil {
		return op, err
	}
	if op.ItemID, err = parseID("itemId", d.ItemID); err != nil {
		return op, err
	}
	if op.UserID, err = parseID("userId", d.UserID); err != nil {
		return op, err
	}
	if op.Timestamp, err = parseTimestamp(d.Timestamp); err != nil {
		return op, err
	}
	if err = checkCounts(d.Likes, d.Dislikes); err != nil {
		return op, err
	}
	op.Text = d.Text
	op.Likes = d.Likes
	op.Dislikes = d.Dislikes
	return op, nil
}

func (d commentDTO) toModel() (models.Comment, error) {
	var (
		c   models.Comment
		err error
	)
	if c.ID, err = parseID("id", d.ID); err != nil {
		return c, err
	}
	if c.OpinionID, err = parseID("opinionId", d.OpinionID); err != nil {
		return c, err
	}
	if c.UserID, err = parseID("userId", d.UserID); err != nil {
		return c, err
	}
	if c.Timestamp, err = parseTimestamp(d.Timestamp); err != nil {
		return c, err
	}
	if err = checkCounts(d.Likes, d.Dislikes); err != nil {
		return c, err
	}
	if d.ParentCommentID != nil {
		raw := strings.TrimSpace(*d.ParentCommentID)
		if raw != "" && raw != "null" {
			parent, err := parseID("parentCommentId", raw)
			if err != nil {
				return c, err
			}
			c.ParentCommentID = &parent
		}
	}
	c.Text = d.Text
	c.Likes = d.Likes
	c.Dislikes = d.Dislikes
	return c, nil
}

func newCommentDTO(nc models.NewComment) commentDTO {
	d := commentDTO{
		OpinionID: nc.OpinionID.String(),
		UserID:    nc.UserID.String(),
		Text:      nc.Text,
		Timestamp: formatTimestamp(nc.Timestamp),
	}
	if nc.ParentCommentID != nil {
		parent := nc.ParentCommentID.String()
		d.ParentCommentID = &parent
	}
	return d
}

func decodeOpinion(body []byte) (models.Opinion, error) {
	var d opinionDTO
	if err := json.Unmarshal(body, &d); err != nil {
		return models.Opinion{}, err
	}
	return d.toModel()
}

func decodeComment(body []byte) (models.Comment, error) {
	var d commentDTO
	if err := json.Unmarshal(body, &d); err != nil {
		return models.Comment{}, err
	}
	return d.toModel()
}

func decodeComments(body []byte) ([]models.Comment, error) {
	var dtos []commentDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, err
	}
	comments := make([]models.Comment, 0, len(dtos))
	for i, d := range dtos {
		c, err := d.toModel()
		if err != nil {
			return nil, fmt.Errorf("comment %d: %w", i, err)
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// decodeCreated accepts either a single comment object or an array of
// inserted rows, in which case the first row is the created comment.
func decodeCreated(body []byte) (models.Comment, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		rows, err := decodeComments(trimmed)
		if err != nil {
			return models.Comment{}, err
		}
		if len(rows) == 0 {
			return models.Comment{}, errors.New("empty insert result")
		}
		return rows[0], nil
	}
	return decodeComment(trimmed)
}

// decodeCount reads {"likes": n} or {"dislikes": n}.
func decodeCount(body []byte, field string) (int, error) {
	var res countResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	v := res.Likes
	if field == "dislikes" {
		v = res.Dislikes
	}
	if v == nil {
		return 0, fmt.Errorf("missing %s", field)
	}
	if *v < 0 {
		return 0, fmt.Errorf("negative %s %d", field, *v)
	}
	return *v, nil
}
