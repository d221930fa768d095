package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"openline/internal/gateway"
	"openline/internal/models"
	"openline/internal/reaction"
	"openline/internal/render"
	"openline/internal/tree"
	"sync"
	"time"
)

var (
	ErrSuperseded   = errors.New("superseded by a newer request")
	ErrEmptyComment = errors.New("comment text is required")
	ErrClosed       = errors.New("feed closed")
)

const UnknownUser = "Unknown"

type Gateway interface {
	FetchOpinion(ctx context.Context, id uuid.UUID) (models.Opinion, error)
	FetchCommentsForOpinion(ctx context.Context, opinionID uuid.UUID) ([]models.Comment, error)
	FetchComment(ctx context.Context, id uuid.UUID) (models.Comment, error)
	FetchReplies(ctx context.Context, parentID uuid.UUID) ([]models.Comment, error)
	FetchCommentCounts(ctx context.Context, id uuid.UUID) (models.Counts, error)
	CreateComment(ctx context.Context, nc models.NewComment) (models.Comment, error)
	UpdateComment(ctx context.Context, id uuid.UUID, text string) (models.Comment, error)
	ReplyToOpinion(ctx context.Context, opinionID uuid.UUID, text string) error
	DeleteComment(ctx context.Context, id uuid.UUID) error
	ReactToOpinion(ctx context.Context, id uuid.UUID, like bool) error
	ReactToComment(ctx context.Context, id uuid.UUID, like bool) error
	FetchUserName(ctx context.Context, id uuid.UUID) (string, error)
}

var _ Gateway = (*gateway.Client)(nil)

type Options struct {
	UserCacheSize int
	UserCacheTTL  time.Duration
	Now           func() time.Time
}

// Thread is one loaded opinion with its indexed comments.
type Thread struct {
	tree.Thread
	Opinion  models.Opinion
	Comments []models.Comment
	Mode     models.SortMode
	Seq      uint64
}

type cachedName struct {
	name    string
	expires time.Time
}

type load struct {
	seq    uint64
	cancel context.CancelFunc
}

// Feed serves one client session: thread loading, reactions, comment
// submission and user names. Construct it with NewFeed and release it with
// Close.
type Feed struct {
	gw        Gateway
	reactions *reaction.Manager
	log       *zap.Logger
	now       func() time.Time

	names    *lru.Cache[uuid.UUID, cachedName]
	namesTTL time.Duration
	lookups  singleflight.Group

	mu     sync.Mutex
	seq    uint64
	loads  map[uuid.UUID]*load
	closed bool
}

func NewFeed(gw Gateway, opts Options, log *zap.Logger) (*Feed, error) {
	if opts.UserCacheSize <= 0 {
		opts.UserCacheSize = 512
	}
	if opts.UserCacheTTL <= 0 {
		opts.UserCacheTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	names, err := lru.New[uuid.UUID, cachedName](opts.UserCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create user name cache: %w", err)
	}

	log = log.Named("service")
	return &Feed{
		gw:        gw,
		reactions: reaction.NewManager(reactor{gw}, refresher{gw}, log),
		log:       log,
		now:       opts.Now,
		names:     names,
		namesTTL:  opts.UserCacheTTL,
		loads:     make(map[uuid.UUID]*load),
	}, nil
}

// Thread loads an opinion and its comments. A newer Thread call for the same
// opinion cancels this one, and a response that is no longer current is
// discarded with ErrSuperseded.
func (f *Feed) Thread(ctx context.Context, opinionID uuid.UUID, mode models.SortMode) (*Thread, error) {
	ctx, seq, err := f.begin(ctx, opinionID)
	if err != nil {
		return nil, err
	}
	f.log.Debug("Loading thread", zap.Stringer("opinion_id", opinionID), zap.Uint64("seq", seq))

	var (
		opinion  models.Opinion
		comments []models.Comment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		opinion, err = f.gw.FetchOpinion(gctx, opinionID)
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = f.gw.FetchCommentsForOpinion(gctx, opinionID)
		return err
	})
	err = g.Wait()

	if !f.finish(opinionID, seq) {
		f.log.Debug("Discarding stale thread", zap.Stringer("opinion_id", opinionID), zap.Uint64("seq", seq))
		return nil, ErrSuperseded
	}
	if err != nil {
		f.log.Error("Failed to load thread", zap.Stringer("opinion_id", opinionID), zap.Error(err))
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	f.reactions.Observe(models.OpinionKey(opinion.ID), opinion.Counts())
	for _, c := range comments {
		f.reactions.Observe(models.CommentKey(c.ID), c.Counts())
	}

	f.log.Debug("Loaded thread", zap.Stringer("opinion_id", opinionID), zap.Int("comments", len(comments)))
	return &Thread{
		Thread:   tree.Build(comments, mode),
		Opinion:  opinion,
		Comments: comments,
		Mode:     mode,
		Seq:      seq,
	}, nil
}

func (f *Feed) begin(ctx context.Context, opinionID uuid.UUID) (context.Context, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, 0, ErrClosed
	}
	if prev, ok := f.loads[opinionID]; ok {
		prev.cancel()
	}
	f.seq++
	ctx, cancel := context.WithCancel(ctx)
	f.loads[opinionID] = &load{seq: f.seq, cancel: cancel}
	return ctx, f.seq, nil
}

// finish reports whether seq is still the current load of opinionID.
func (f *Feed) finish(opinionID uuid.UUID, seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.loads[opinionID]
	if !ok || l.seq != seq {
		return false
	}
	l.cancel()
	delete(f.loads, opinionID)
	return true
}

// Replies returns a comment of the opinion and its direct replies in fetch
// order.
func (f *Feed) Replies(ctx context.Context, opinionID, parentID uuid.UUID) (models.Comment, []models.Comment, error) {
	var (
		parent  models.Comment
		fetched []models.Comment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		parent, err = f.gw.FetchComment(gctx, parentID)
		return err
	})
	g.Go(func() error {
		var err error
		fetched, err = f.gw.FetchReplies(gctx, parentID)
		return err
	})
	if err := g.Wait(); err != nil {
		f.log.Error("Failed to fetch replies", zap.Stringer("comment_id", parentID), zap.Error(err))
		return models.Comment{}, nil, fmt.Errorf("failed to fetch replies: %w", err)
	}
	if parent.OpinionID != opinionID {
		return models.Comment{}, nil, fmt.Errorf("comment %s of opinion %s: %w", parentID, opinionID, gateway.ErrNotFound)
	}

	f.reactions.Observe(models.CommentKey(parent.ID), parent.Counts())
	replies := make([]models.Comment, 0, len(fetched))
	for _, c := range fetched {
		if c.ParentKey() != parentID {
			f.log.Warn("Dropping reply of another parent",
				zap.Stringer("comment_id", c.ID), zap.Stringer("parent_id", parentID))
			continue
		}
		f.reactions.Observe(models.CommentKey(c.ID), c.Counts())
		replies = append(replies, c)
	}
	return parent, replies, nil
}

func (f *Feed) React(ctx context.Context, key models.EntityKey, choice models.Choice) (reaction.Outcome, error) {
	return f.reactions.React(ctx, key, choice)
}

func (f *Feed) Reaction(key models.EntityKey) reaction.State {
	return f.reactions.Snapshot(key)
}

func (f *Feed) SubmitComment(ctx context.Context, nc models.NewComment) (models.Comment, error) {
	nc.Text = render.PlainText(nc.Text)
	if nc.Text == "" {
		return models.Comment{}, ErrEmptyComment
	}
	if nc.Timestamp.IsZero() {
		nc.Timestamp = f.now().UTC()
	}

	created, err := f.gw.CreateComment(ctx, nc)
	if err != nil {
		f.log.Error("Failed to create comment", zap.Stringer("opinion_id", nc.OpinionID), zap.Error(err))
		return models.Comment{}, fmt.Errorf("failed to create comment: %w", err)
	}
	f.reactions.Observe(models.CommentKey(created.ID), created.Counts())
	return created, nil
}

func (f *Feed) UpdateComment(ctx context.Context, id uuid.UUID, text string) (models.Comment, error) {
	text = render.PlainText(text)
	if text == "" {
		return models.Comment{}, ErrEmptyComment
	}
	updated, err := f.gw.UpdateComment(ctx, id, text)
	if err != nil {
		f.log.Error("Failed to update comment", zap.Stringer("comment_id", id), zap.Error(err))
		return models.Comment{}, fmt.Errorf("failed to update comment: %w", err)
	}
	f.reactions.Observe(models.CommentKey(updated.ID), updated.Counts())
	return updated, nil
}

// ReplyToOpinion posts a quick reply that is not part of the comment tree.
func (f *Feed) ReplyToOpinion(ctx context.Context, opinionID uuid.UUID, text string) error {
	text = render.PlainText(text)
	if text == "" {
		return ErrEmptyComment
	}
	if err := f.gw.ReplyToOpinion(ctx, opinionID, text); err != nil {
		f.log.Error("Failed to reply to opinion", zap.Stringer("opinion_id", opinionID), zap.Error(err))
		return fmt.Errorf("failed to reply to opinion: %w", err)
	}
	return nil
}

func (f *Feed) DeleteComment(ctx context.Context, id uuid.UUID) error {
	if err := f.gw.DeleteComment(ctx, id); err != nil {
		f.log.Error("Failed to delete comment", zap.Stringer("comment_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	f.reactions.Forget(models.CommentKey(id))
	return nil
}

// UserName resolves a display name. Concurrent lookups of one id share a
// single request; names are cached for the configured TTL. ok is false when
// the name could not be resolved.
func (f *Feed) UserName(ctx context.Context, id uuid.UUID) (string, bool) {
	if cached, ok := f.names.Get(id); ok && f.now().Before(cached.expires) {
		return cached.name, true
	}

	// The shared lookup must outlive the caller that happened to start it.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := f.lookups.Do(id.String(), func() (any, error) {
		name, err := f.gw.FetchUserName(lookupCtx, id)
		if err != nil {
			return "", err
		}
		f.names.Add(id, cachedName{name: name, expires: f.now().Add(f.namesTTL)})
		return name, nil
	})
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			f.log.Warn("Failed to fetch user name", zap.Stringer("user_id", id), zap.Error(err))
		}
		return "", false
	}
	return v.(string), true
}

func (f *Feed) DisplayName(ctx context.Context, id uuid.UUID) string {
	if name, ok := f.UserName(ctx, id); ok {
		return name
	}
	return UnknownUser
}

// Close cancels in-flight thread loads and drops cached names.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, l := range f.loads {
		l.cancel()
		delete(f.loads, id)
	}
	f.closed = true
	f.names.Purge()
}

type reactor struct {
	gw Gateway
}

func (r reactor) React(ctx context.Context, key models.EntityKey, like bool) error {
	switch key.Kind {
	case models.KindOpinion:
		return r.gw.ReactToOpinion(ctx, key.ID, like)
	case models.KindComment:
		return r.gw.ReactToComment(ctx, key.ID, like)
	}
	return fmt.Errorf("unknown entity kind %q", key.Kind)
}

type refresher struct {
	gw Gateway
}

func (r refresher) Counts(ctx context.Context, key models.EntityKey) (models.Counts, error) {
	switch key.Kind {
	case models.KindOpinion:
		op, err := r.gw.FetchOpinion(ctx, key.ID)
		if err != nil {
			return models.Counts{}, err
		}
		return op.Counts(), nil
	case models.KindComment:
		return r.gw.FetchCommentCounts(ctx, key.ID)
	}
	return models.Counts{}, fmt.Errorf("unknown entity kind %q", key.Kind)
}
