package handlers

import (
	"encoding/json"
	"errors"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"go.uber.org/zap"
	"net/http"
	"openline/internal/gateway"
	"openline/internal/models"
	"openline/internal/reaction"
	"openline/internal/render"
	"openline/internal/service"
	"openline/internal/tree"
	"time"
)

type FeedHandler struct {
	feed *service.Feed
	now  func() time.Time
}

func NewFeedHandler(feed *service.Feed) *FeedHandler {
	return &FeedHandler{feed: feed, now: time.Now}
}

type commentRequest struct {
	UserID          string  `json:"user_id"`
	Text            string  `json:"text"`
	ParentCommentID *string `json:"parent_comment_id,omitempty"`
}

type textRequest struct {
	Text string `json:"text"`
}

type reactRequest struct {
	Like *bool `json:"like"`
}

type opinionView struct {
	models.Opinion
	TimeAgo  string         `json:"time_ago"`
	HTML     string         `json:"html,omitempty"`
	Reaction reaction.State `json:"reaction"`
}

type commentView struct {
	models.Comment
	TimeAgo    string         `json:"time_ago"`
	HTML       string         `json:"html,omitempty"`
	ReplyCount int            `json:"reply_count"`
	Reaction   reaction.State `json:"reaction"`
}

type threadView struct {
	Opinion  opinionView              `json:"opinion"`
	Sort     models.SortMode          `json:"sort"`
	Comments []commentView            `json:"comments"`
	Replies  map[string][]commentView `json:"replies"`
}

func (h *FeedHandler) GetThread(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)

	opinionID, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	mode, err := tree.ParseSortMode(c.DefaultQuery("sort", "top"))
	if err != nil {
		log.Warn("Invalid sort mode", zap.Error(err))
		c.JSON(http.StatusBadRequest, ginext.H{"error": err.Error()})
		return
	}
	html := c.Query("format") == "html"

	log.Debug("Getting thread", zap.Stringer("opinion_id", opinionID), zap.String("sort", string(mode)))
	th, err := h.feed.Thread(c.Request.Context(), opinionID, mode)
	if err != nil {
		log.Error("Failed to get thread", zap.Error(err))
		writeError(c, err)
		return
	}

	now := render.WallClock(h.now())
	view := threadView{
		Opinion: opinionView{
			Opinion:  th.Opinion,
			TimeAgo:  render.TimeAgo(th.Opinion.Timestamp, now),
			Reaction: h.feed.Reaction(models.OpinionKey(th.Opinion.ID)),
		},
		Sort:     th.Mode,
		Comments: make([]commentView, 0, len(th.TopLevel)),
		Replies:  make(map[string][]commentView),
	}
	if html {
		view.Opinion.HTML = render.Markdown(th.Opinion.Text)
	}
	for _, cm := range th.TopLevel {
		view.Comments = append(view.Comments, h.commentView(cm, th.ReplyCount(cm.ID), now, html))
	}
	for parentID, replies := range th.Index {
		if parentID == uuid.Nil {
			continue
		}
		views := make([]commentView, 0, len(replies))
		for _, cm := range replies {
			views = append(views, h.commentView(cm, th.ReplyCount(cm.ID), now, html))
		}
		view.Replies[parentID.String()] = views
	}
	c.JSON(http.StatusOK, view)
}

func (h *FeedHandler) GetReplies(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)

	opinionID, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	parentID, ok := parseID(c, log, "comment_id")
	if !ok {
		return
	}

	parent, replies, err := h.feed.Replies(c.Request.Context(), opinionID, parentID)
	if err != nil {
		log.Error("Failed to get replies", zap.Error(err))
		writeError(c, err)
		return
	}

	now := render.WallClock(h.now())
	views := make([]commentView, 0, len(replies))
	for _, cm := range replies {
		views = append(views, h.commentView(cm, 0, now, false))
	}
	c.JSON(http.StatusOK, ginext.H{
		"parent":  h.commentView(parent, len(replies), now, false),
		"replies": views,
	})
}

func (h *FeedHandler) CreateComment(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)
	log.Debug("Creating comment")

	opinionID, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	req := &commentRequest{}
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		log.Error("Failed to decode request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ginext.H{"error": "Invalid request body"})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		log.Warn("Invalid user id", zap.String("user_id", req.UserID))
		c.JSON(http.StatusBadRequest, ginext.H{"error": "Invalid user_id"})
		return
	}
	nc := models.NewComment{OpinionID: opinionID, UserID: userID, Text: req.Text}
	if req.ParentCommentID != nil && *req.ParentCommentID != "" {
		parent, err := uuid.Parse(*req.ParentCommentID)
		if err != nil {
			log.Warn("Invalid parent comment id", zap.String("parent_comment_id", *req.ParentCommentID))
			c.JSON(http.StatusBadRequest, ginext.H{"error": "Invalid parent_comment_id"})
			return
		}
		nc.ParentCommentID = &parent
	}

	created, err := h.feed.SubmitComment(c.Request.Context(), nc)
	if err != nil {
		log.Error("Failed to create comment", zap.Error(err))
		writeError(c, err)
		return
	}
	log.Debug("Created comment", zap.Stringer("comment_id", created.ID))
	c.JSON(http.StatusCreated, ginext.H{"comment": created})
}

func (h *FeedHandler) UpdateComment(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)
	log.Debug("Updating comment")

	id, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	req := &textRequest{}
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		log.Error("Failed to decode request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ginext.H{"error": "Invalid request body"})
		return
	}

	updated, err := h.feed.UpdateComment(c.Request.Context(), id, req.Text)
	if err != nil {
		log.Error("Failed to update comment", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ginext.H{"comment": updated})
}

func (h *FeedHandler) ReplyToOpinion(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)
	log.Debug("Replying to opinion")

	opinionID, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	req := &textRequest{}
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		log.Error("Failed to decode request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ginext.H{"error": "Invalid request body"})
		return
	}

	if err := h.feed.ReplyToOpinion(c.Request.Context(), opinionID, req.Text); err != nil {
		log.Error("Failed to reply to opinion", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ginext.H{"opinion_id": opinionID})
}

func (h *FeedHandler) DeleteComment(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)
	log.Debug("Deleting comment")

	id, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	if err := h.feed.DeleteComment(c.Request.Context(), id); err != nil {
		log.Error("Failed to delete comment", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ginext.H{"id": id})
}

func (h *FeedHandler) ReactToOpinion(c *ginext.Context) {
	h.react(c, models.KindOpinion)
}

func (h *FeedHandler) ReactToComment(c *ginext.Context) {
	h.react(c, models.KindComment)
}

func (h *FeedHandler) react(c *ginext.Context, kind models.EntityKind) {
	log := c.MustGet("logger").(*zap.Logger)

	id, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	req := &reactRequest{}
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil || req.Like == nil {
		log.Warn("Invalid reaction body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ginext.H{"error": `Body must be {"like": true|false}`})
		return
	}

	key := models.EntityKey{Kind: kind, ID: id}
	out, err := h.feed.React(c.Request.Context(), key, models.ChoiceFromLike(*req.Like))
	if err != nil {
		log.Warn("Reaction failed", zap.Stringer("entity", key), zap.Error(err))
		writeErrorWith(c, err, ginext.H{"outcome": out})
		return
	}
	c.JSON(http.StatusOK, ginext.H{"outcome": out, "reaction": h.feed.Reaction(key)})
}

func (h *FeedHandler) GetReaction(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)

	kind, err := models.ParseEntityKind(c.Param("kind"))
	if err != nil {
		log.Warn("Invalid entity kind", zap.String("kind", c.Param("kind")))
		c.JSON(http.StatusBadRequest, ginext.H{"error": err.Error()})
		return
	}
	id, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	st := h.feed.Reaction(models.EntityKey{Kind: kind, ID: id})
	c.JSON(http.StatusOK, ginext.H{
		"reaction":     st,
		"can_agree":    st.CanReact(models.Agree),
		"can_disagree": st.CanReact(models.Disagree),
	})
}

func (h *FeedHandler) GetUserName(c *ginext.Context) {
	log := c.MustGet("logger").(*zap.Logger)

	id, ok := parseID(c, log, "id")
	if !ok {
		return
	}
	name, found := h.feed.UserName(c.Request.Context(), id)
	if !found {
		name = service.UnknownUser
	}
	c.JSON(http.StatusOK, ginext.H{"id": id, "name": name, "known": found})
}

func (h *FeedHandler) commentView(cm models.Comment, replies int, now time.Time, html bool) commentView {
	v := commentView{
		Comment:    cm,
		TimeAgo:    render.TimeAgo(cm.Timestamp, now),
		ReplyCount: replies,
		Reaction:   h.feed.Reaction(models.CommentKey(cm.ID)),
	}
	if html {
		v.HTML = render.Markdown(cm.Text)
	}
	return v
}

func parseID(c *ginext.Context, log *zap.Logger, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Warn("Invalid id", zap.String("param", param), zap.String("value", raw))
		c.JSON(http.StatusBadRequest, ginext.H{"error": "Invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyComment):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reaction.ErrReactionPending), errors.Is(err, service.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeError(c *ginext.Context, err error) {
	writeErrorWith(c, err, ginext.H{})
}

func writeErrorWith(c *ginext.Context, err error, body ginext.H) {
	body["error"] = err.Error()
	if kind := gateway.Kind(err); kind != "" {
		body["kind"] = kind
	}
	c.JSON(statusFor(err), body)
}
