// Package gateway is the REST client for the OpenLine backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"io"
	"net/http"
	"openline/internal/models"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 5 * time.Second
	maxBodySize    = 4 << 20
)

var DefaultRetry = retry.Strategy{
	Attempts: 3,
	Delay:    100 * time.Millisecond,
	Backoff:  2,
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	// Retry applies to GET requests only.
	Retry retry.Strategy
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Strategy
	log     *zap.Logger
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = 1
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		retry:   opts.Retry,
		log:     log.Named("gateway"),
	}
}

func (c *Client) FetchOpinion(ctx context.Context, id uuid.UUID) (models.Opinion, error) {
	const op = "fetch opinion"
	body, err := c.get(ctx, op, "/opinions/"+id.String(), true)
	if err != nil {
		return models.Opinion{}, err
	}
	opinion, err := decodeOpinion(body)
	if err != nil {
		c.log.Error("Failed to decode opinion", zap.Stringer("opinion_id", id), zap.Error(err))
		return models.Opinion{}, malformed(op, err)
	}
	return opinion, nil
}

// FetchCommentsForOpinion returns every comment of the opinion. Rows that
// belong to another opinion are dropped.
func (c *Client) FetchCommentsForOpinion(ctx context.Context, opinionID uuid.UUID) ([]models.Comment, error) {
	const op = "fetch comments"
	body, err := c.get(ctx, op, "/comments/opinion/"+opinionID.String(), false)
	if err != nil {
		return nil, err
	}
	comments, err := decodeComments(body)
	if err != nil {
		c.log.Error("Failed to decode comments", zap.Stringer("opinion_id", opinionID), zap.Error(err))
		return nil, malformed(op, err)
	}

	kept := comments[:0]
	for _, cm := range comments {
		if cm.OpinionID != opinionID {
			c.log.Warn("Dropping comment of another opinion",
				zap.Stringer("comment_id", cm.ID),
				zap.Stringer("opinion_id", cm.OpinionID),
				zap.Stringer("expected", opinionID))
			continue
		}
		kept = append(kept, cm)
	}
	c.log.Debug("Fetched comments", zap.Stringer("opinion_id", opinionID), zap.Int("count", len(kept)))
	return kept, nil
}

func (c *Client) FetchComment(ctx context.Context, id uuid.UUID) (models.Comment, error) {
	const op = "fetch comment"
	body, err := c.get(ctx, op, "/comments/"+id.String(), true)
	if err != nil {
		return models.Comment{}, err
	}
	comment, err := decodeComment(body)
	if err != nil {
		c.log.Error("Failed to decode comment", zap.Stringer("comment_id", id), zap.Error(err))
		return models.Comment{}, malformed(op, err)
	}
	return comment, nil
}

func (c *Client) FetchReplies(ctx context.Context, parentID uuid.UUID) ([]models.Comment, error) {
	const op = "fetch replies"
	body, err := c.get(ctx, op, "/comments/"+parentID.String()+"/replies", false)
	if err != nil {
		return nil, err
	}
	replies, err := decodeComments(body)
	if err != nil {
		c.log.Error("Failed to decode replies", zap.Stringer("parent_id", parentID), zap.Error(err))
		return nil, malformed(op, err)
	}
	return replies, nil
}

func (c *Client) CreateComment(ctx context.Context, nc models.NewComment) (models.Comment, error) {
	const op = "create comment"
	if nc.Timestamp.IsZero() {
		nc.Timestamp = time.Now().UTC()
	}
	status, body, err := c.do(ctx, http.MethodPost, "/comments/", newCommentDTO(nc))
	if err != nil {
		c.log.Error("Failed to create comment", zap.Stringer("opinion_id", nc.OpinionID), zap.Error(err))
		return models.Comment{}, networkError(op, err)
	}
	if !success(status) {
		c.log.Error("Create comment rejected", zap.Int("status", status), zap.ByteString("body", body))
		return models.Comment{}, statusError(op, status, false)
	}
	created, err := decodeCreated(body)
	if err != nil {
		c.log.Error("Failed to decode created comment", zap.Error(err))
		return models.Comment{}, malformed(op, err)
	}
	c.log.Debug("Created comment", zap.Stringer("comment_id", created.ID), zap.Stringer("opinion_id", created.OpinionID))
	return created, nil
}

func (c *Client) FetchCommentCounts(ctx context.Context, id uuid.UUID) (models.Counts, error) {
	var counts models.Counts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := c.fetchCount(gctx, id, "likes")
		counts.Likes = n
		return err
	})
	g.Go(func() error {
		n, err := c.fetchCount(gctx, id, "dislikes")
		counts.Dislikes = n
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Counts{}, err
	}
	return counts, nil
}

func (c *Client) fetchCount(ctx context.Context, id uuid.UUID, field string) (int, error) {
	op := "fetch comment " + field
	body, err := c.get(ctx, op, "/comments/"+id.String()+"/"+field, true)
	if err != nil {
		return 0, err
	}
	n, err := decodeCount(body, field)
	if err != nil {
		c.log.Error("Failed to decode count", zap.Stringer("comment_id", id), zap.String("field", field), zap.Error(err))
		return 0, malformed(op, err)
	}
	return n, nil
}

func (c *Client) UpdateComment(ctx context.Context, id uuid.UUID, text string) (models.Comment, error) {
	const op = "update comment"
	status, body, err := c.do(ctx, http.MethodPut, "/comments/"+id.String(), textRequest{Text: text})
	if err != nil {
		c.log.Error("Failed to update comment", zap.Stringer("comment_id", id), zap.Error(err))
		return models.Comment{}, networkError(op, err)
	}
	if !success(status) {
		c.log.Error("Update comment rejected", zap.Int("status", status), zap.ByteString("body", body))
		return models.Comment{}, statusError(op, status, true)
	}
	updated, err := decodeCreated(body)
	if err != nil {
		c.log.Error("Failed to decode updated comment", zap.Error(err))
		return models.Comment{}, malformed(op, err)
	}
	return updated, nil
}

func (c *Client) DeleteComment(ctx context.Context, id uuid.UUID) error {
	const op = "delete comment"
	status, _, err := c.do(ctx, http.MethodDelete, "/comments/"+id.String(), nil)
	if err != nil {
		c.log.Error("Failed to delete comment", zap.Stringer("comment_id", id), zap.Error(err))
		return networkError(op, err)
	}
	if !success(status) {
		return statusError(op, status, true)
	}
	return nil
}

func (c *Client) ReactToOpinion(ctx context.Context, id uuid.UUID, like bool) error {
	return c.react(ctx, "react to opinion", "/opinions/"+id.String()+"/react", like)
}

func (c *Client) ReactToComment(ctx context.Context, id uuid.UUID, like bool) error {
	return c.react(ctx, "react to comment", "/comments/"+id.String()+"/react", like)
}

func (c *Client) react(ctx context.Context, op, path string, like bool) error {
	status, _, err := c.do(ctx, http.MethodPost, path, reactRequest{Like: like})
	if err != nil {
		c.log.Error("Reaction request failed", zap.String("path", path), zap.Error(err))
		return networkError(op, err)
	}
	c.log.Debug("Reaction sent", zap.String("path", path), zap.Bool("like", like), zap.Int("status", status))
	if !success(status) {
		return statusError(op, status, true)
	}
	return nil
}

func (c *Client) ReplyToOpinion(ctx context.Context, opinionID uuid.UUID, text string) error {
	const op = "reply to opinion"
	status, body, err := c.do(ctx, http.MethodPost, "/opinions/"+opinionID.String()+"/reply", textRequest{Text: text})
	if err != nil {
		c.log.Error("Failed to reply to opinion", zap.Stringer("opinion_id", opinionID), zap.Error(err))
		return networkError(op, err)
	}
	if !success(status) {
		c.log.Error("Reply rejected", zap.Int("status", status), zap.ByteString("body", body))
		return statusError(op, status, true)
	}
	return nil
}

// FetchUserName returns ErrNotFound when the user is unknown or has no name.
func (c *Client) FetchUserName(ctx context.Context, id uuid.UUID) (string, error) {
	const op = "fetch user name"
	body, err := c.get(ctx, op, "/users/"+id.String()+"/name", true)
	if err != nil {
		return "", err
	}
	var res userNameResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", malformed(op, err)
	}
	if res.Name == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return *res.Name, nil
}

// get performs an idempotent read, retrying network and 5xx failures. The
// backoff stops when ctx is done and no delay follows the last attempt.
func (c *Client) get(ctx context.Context, op, path string, notFoundOK bool) ([]byte, error) {
	var (
		body      []byte
		lastErr   error
		permanent error
		attempt   int
	)
	err := retry.DoContext(ctx, c.retry, func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			permanent = fmt.Errorf("%s: %w", op, err)
			return nil
		}
		status, b, err := c.do(ctx, http.MethodGet, path, nil)
		switch {
		case err != nil:
			lastErr = networkError(op, err)
		case !success(status):
			lastErr = statusError(op, status, notFoundOK)
		default:
			body, lastErr = b, nil
			return nil
		}
		if !transient(lastErr) || attempt >= c.retry.Attempts {
			permanent = lastErr
			return nil
		}
		c.log.Debug("Retrying request", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
		return lastErr
	})

	switch {
	case permanent != nil:
		if attempt > 1 {
			c.log.Error("Request failed after retries", zap.String("path", path), zap.Int("attempts", attempt), zap.Error(permanent))
		} else {
			c.log.Debug("Request failed", zap.String("path", path), zap.Error(permanent))
		}
		return nil, permanent
	case err != nil:
		c.log.Debug("Request abandoned", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
