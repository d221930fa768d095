// Package reaction tracks optimistic agree/disagree state per opinion or
// comment and reconciles it with the backend.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"openline/internal/models"
	"sync"
)

var ErrReactionPending = errors.New("reaction already pending")

type Reactor interface {
	React(ctx context.Context, key models.EntityKey, like bool) error
}

// Refresher fetches the authoritative counts of an entity.
type Refresher interface {
	Counts(ctx context.Context, key models.EntityKey) (models.Counts, error)
}

type state struct {
	// gen identifies the reaction that moved the entity into Pending.
	gen       uint64
	confirmed models.Counts
	// choice is the last confirmed reaction of this user.
	choice  models.Choice
	pending models.Choice
}

// State is a read-only snapshot of one entity.
type State struct {
	Key       models.EntityKey `json:"-"`
	Counts    models.Counts    `json:"counts"`
	Pending   bool             `json:"pending"`
	Choice    models.Choice    `json:"choice"`
	Confirmed models.Counts    `json:"confirmed"`

	gen uint64
}

// CanReact reports whether choice may be submitted now. While a reaction is
// pending the opposite choice is disabled and the same choice is a duplicate.
func (s State) CanReact(choice models.Choice) bool {
	if choice != models.Agree && choice != models.Disagree {
		return false
	}
	return !s.Pending
}

// Outcome is the result of a reaction round-trip. On failure Counts holds the
// prior counts.
type Outcome struct {
	Key    models.EntityKey `json:"-"`
	Choice models.Choice    `json:"choice"`
	Counts models.Counts    `json:"counts"`
	// Stale is set when the reaction succeeded but the refresh did not, so
	// Counts are the optimistic ones.
	Stale bool `json:"stale,omitempty"`
}

type Manager struct {
	reactor   Reactor
	refresher Refresher
	log       *zap.Logger

	mu     sync.Mutex
	gen    uint64
	states map[models.EntityKey]*state
}

func NewManager(reactor Reactor, refresher Refresher, log *zap.Logger) *Manager {
	return &Manager{
		reactor:   reactor,
		refresher: refresher,
		log:       log.Named("reaction"),
		states:    make(map[models.EntityKey]*state),
	}
}

// Observe records server-confirmed counts. It is a no-op while the entity is
// pending; the round-trip will settle the counts.
func (m *Manager) Observe(key models.EntityKey, counts models.Counts) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok {
		m.states[key] = &state{confirmed: counts}
		return
	}
	if st.pending != models.NoChoice {
		return
	}
	st.confirmed = counts
}

func (m *Manager) Snapshot(key models.EntityKey) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok {
		return State{Key: key}
	}
	return st.snapshot(key)
}

func (st *state) snapshot(key models.EntityKey) State {
	s := State{
		Key:       key,
		Counts:    st.confirmed,
		Choice:    st.choice,
		Confirmed: st.confirmed,
	}
	if st.pending != models.NoChoice {
		s.gen = st.gen
		s.Pending = true
		s.Choice = st.pending
		s.Counts = st.confirmed.Bump(st.pending)
	}
	return s
}

// Forget drops the state of key. A pending round-trip for key still
// completes, but its Settle no longer touches key.
func (m *Manager) Forget(key models.EntityKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
}

// Begin moves key into Pending(choice) and returns the optimistic snapshot.
func (m *Manager) Begin(key models.EntityKey, choice models.Choice) (State, error) {
	if choice != models.Agree && choice != models.Disagree {
		return State{}, fmt.Errorf("invalid choice %s", choice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok {
		st = &state{}
		m.states[key] = st
	}
	if st.pending != models.NoChoice {
		return st.snapshot(key), ErrReactionPending
	}
	m.gen++
	st.gen = m.gen
	st.pending = choice
	return st.snapshot(key), nil
}

func (m *Manager) tracked(key models.EntityKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[key]
	return ok
}

// Settle ends the Pending state returned by Begin. On success the counts
// become the confirmed ones and the choice is kept; on failure the prior
// counts are restored and the choice is cleared. If the entity was forgotten
// or began another reaction since, nothing changes.
func (m *Manager) Settle(pending State, counts models.Counts, ok bool) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pending.Key
	st, tracked := m.states[key]
	if !tracked || st.pending == models.NoChoice || st.gen != pending.gen {
		m.log.Debug("Settling a superseded reaction", zap.Stringer("entity", key))
		return State{Key: key, Counts: counts, Confirmed: counts}
	}
	if ok {
		st.choice = st.pending
		st.confirmed = counts
	} else {
		st.choice = models.NoChoice
	}
	st.pending = models.NoChoice
	return st.snapshot(key)
}

// React runs the full round-trip for one user action. The gateway is called at
// most once; failures roll back and are returned to the caller. Counts of an
// entity that was never observed are fetched first, so a rollback restores
// real counts.
func (m *Manager) React(ctx context.Context, key models.EntityKey, choice models.Choice) (Outcome, error) {
	if choice != models.Agree && choice != models.Disagree {
		return Outcome{Key: key}, fmt.Errorf("invalid choice %s", choice)
	}
	if !m.tracked(key) {
		counts, err := m.refresher.Counts(ctx, key)
		if err != nil {
			m.log.Warn("Failed to load counts before reacting", zap.Stringer("entity", key), zap.Error(err))
			return Outcome{Key: key}, fmt.Errorf("failed to load counts of %s: %w", key, err)
		}
		m.Observe(key, counts)
	}

	pending, err := m.Begin(key, choice)
	if err != nil {
		m.log.Debug("Reaction rejected", zap.Stringer("entity", key), zap.Stringer("choice", choice), zap.Error(err))
		return Outcome{Key: key, Choice: pending.Choice, Counts: pending.Counts}, err
	}
	prior := pending.Confirmed
	optimistic := pending.Counts
	m.log.Debug("Reaction pending",
		zap.Stringer("entity", key),
		zap.Stringer("choice", choice),
		zap.Int("likes", optimistic.Likes),
		zap.Int("dislikes", optimistic.Dislikes))

	if err := m.reactor.React(ctx, key, choice.Like()); err != nil {
		m.Settle(pending, prior, false)
		m.log.Warn("Reaction failed, rolled back", zap.Stringer("entity", key), zap.Error(err))
		return Outcome{Key: key, Choice: models.NoChoice, Counts: prior}, fmt.Errorf("failed to react to %s: %w", key, err)
	}

	counts, err := m.refresher.Counts(ctx, key)
	if err != nil {
		m.log.Warn("Reaction accepted but refresh failed", zap.Stringer("entity", key), zap.Error(err))
		st := m.Settle(pending, optimistic, true)
		return Outcome{Key: key, Choice: choice, Counts: st.Counts, Stale: true}, nil
	}

	st := m.Settle(pending, counts, true)
	m.log.Debug("Reaction confirmed", zap.Stringer("entity", key), zap.Int("likes", counts.Likes), zap.Int("dislikes", counts.Dislikes))
	return Outcome{Key: key, Choice: choice, Counts: st.Counts}, nil
}
