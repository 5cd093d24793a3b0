package game

import (
	"context"
	"errors"

	"stockticker/internal/model"
	"stockticker/internal/store"
)

const (
	defaultTradePage = 50
	maxTradePage     = 100
)

// DefaultListStatuses are the sessions a lobby shows.
var DefaultListStatuses = []model.SessionStatus{model.StatusWaiting, model.StatusInProgress}

func (s *Service) load(ctx context.Context, sessionID string) (*model.State, error) {
	st, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, internal("load session", err)
	}
	return st, nil
}

// GetSession returns the session with players, prices and derived turn and
// clock state. Completed sessions include final rankings.
func (s *Service) GetSession(ctx context.Context, sessionID string) (SessionView, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(st), nil
}

func (s *Service) view(st *model.State) SessionView {
	out := SessionView{
		Session:          st.Session,
		Instruments:      st.Instruments,
		RemainingSeconds: model.Remaining(st.Session, s.clock.Now()),
	}
	if active, ok := st.ActivePlayer(); ok {
		out.ActivePlayerID = active.ID
		out.RollsRemaining = model.RollsPerTurn - st.RollsCompleted(active.ID)
		if out.RollsRemaining < 0 {
			out.RollsRemaining = 0
		}
	}
	for _, p := range st.Players {
		out.Players = append(out.Players, playerView(st, p))
	}
	if st.Session.Status == model.StatusCompleted {
		out.Rankings = st.Rankings()
	}
	return out
}

func playerView(st *model.State, p model.Player) PlayerView {
	v := PlayerView{Player: p, NetWorth: st.NetWorth(p.ID)}
	for _, inst := range st.Instruments {
		h := st.Holding(p.ID, inst.ID)
		if h == nil || h.Quantity == 0 {
			continue
		}
		v.Positions = append(v.Positions, PositionView{
			InstrumentID: inst.ID,
			Symbol:       inst.Symbol,
			Quantity:     h.Quantity,
			Value:        model.Notional(h.Quantity, inst.Price),
		})
	}
	return v
}

// ListSessions lists sessions in the given statuses, defaulting to the
// joinable and running ones.
func (s *Service) ListSessions(ctx context.Context, statuses []model.SessionStatus) ([]model.Session, error) {
	if len(statuses) == 0 {
		statuses = DefaultListStatuses
	}
	out, err := s.store.ListSessions(ctx, statuses)
	if err != nil {
		return nil, internal("list sessions", err)
	}
	return out, nil
}

// GetPlayer returns the caller's seat in the session.
func (s *Service) GetPlayer(ctx context.Context, sessionID, userID string) (PlayerView, error) {
	if userID == "" {
		return PlayerView{}, ErrNotLoggedIn
	}
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return PlayerView{}, err
	}
	p := st.PlayerByUser(userID)
	if p == nil {
		return PlayerView{}, ErrNotInGame
	}
	return playerView(st, *p), nil
}

// ListTrades pages through the session ledger, newest first. limit is
// clamped to [1, 100] with 0 meaning 50.
func (s *Service) ListTrades(ctx context.Context, sessionID string, limit, offset int) ([]model.Trade, error) {
	switch {
	case limit <= 0:
		limit = defaultTradePage
	case limit > maxTradePage:
		limit = maxTradePage
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	out, err := s.store.ListTrades(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, internal("list trades", err)
	}
	return out, nil
}
