// Package memory is an in-process Store used by tests and by the API when
// no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"stockticker/internal/model"
	"stockticker/internal/store"
)

type session struct {
	state  *model.State
	rolls  []model.DiceRoll
	trades []model.Trade
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	codes    map[string]string
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[string]*session),
		codes:    make(map[string]string),
	}
}

func (s *Store) CreateSession(_ context.Context, st *model.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[st.Session.InviteCode]; taken {
		return store.ErrInviteCodeTaken
	}
	saved := st.Clone()
	saved.TurnRolls = nil
	if saved.NextSeq < 1 {
		saved.NextSeq = 1
	}
	saved.Snapshot()
	s.sessions[st.Session.ID] = &session{state: saved}
	s.codes[st.Session.InviteCode] = st.Session.ID
	return nil
}

func (s *Store) LoadSession(_ context.Context, sessionID string) (*model.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	st := sess.state.Clone()
	st.TurnRolls = nil
	for _, r := range sess.rolls {
		if r.TurnNumber == st.Session.CurrentTurn {
			st.TurnRolls = append(st.TurnRolls, r)
		}
	}
	st.Snapshot()
	return st, nil
}

func (s *Store) FindSessionID(_ context.Context, inviteCode string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[inviteCode]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (s *Store) Commit(_ context.Context, cs model.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[cs.Session.ID]
	if !ok {
		return store.ErrNotFound
	}
	st := sess.state
	if st.Session.Version != cs.ExpectedVersion {
		return store.ErrVersionConflict
	}

	st.Session = cs.Session
	for _, p := range cs.Players {
		if cur := st.Player(p.ID); cur != nil {
			*cur = p
		} else {
			st.Players = append(st.Players, p)
		}
	}
	for _, inst := range cs.Instruments {
		if cur := st.Instrument(inst.ID); cur != nil {
			*cur = inst
		} else {
			st.Instruments = append(st.Instruments, inst)
		}
	}
	for _, h := range cs.Holdings {
		if cur := st.Holding(h.PlayerID, h.InstrumentID); cur != nil {
			*cur = h
		} else {
			st.Holdings = append(st.Holdings, h)
		}
	}
	sess.rolls = append(sess.rolls, cs.DiceRolls...)
	for _, t := range cs.Trades {
		sess.trades = append(sess.trades, t)
		if t.Seq >= st.NextSeq {
			st.NextSeq = t.Seq + 1
		}
	}
	st.Snapshot()
	return nil
}

func (s *Store) ListSessions(_ context.Context, statuses []model.SessionStatus) ([]model.Session, error) {
	want := make(map[model.SessionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	var out []model.Session
	for _, sess := range s.sessions {
		if len(want) == 0 || want[sess.state.Session.Status] {
			out = append(out, sess.state.Clone().Session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListTrades(_ context.Context, sessionID string, limit, offset int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]model.Trade, 0, limit)
	for i := len(sess.trades) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, sess.trades[i])
	}
	return out, nil
}
