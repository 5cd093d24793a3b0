package game

import (
	"context"

	"stockticker/internal/model"
)

// turnHolder enforces the checks shared by every in-turn action: the
// session is running, the caller is seated, and it is the caller's turn.
func turnHolder(st *model.State, userID string) (*model.Player, error) {
	if st.Session.Status != model.StatusInProgress {
		return nil, ErrNotInProgress
	}
	p := st.PlayerByUser(userID)
	if p == nil {
		return nil, ErrNotInGame
	}
	active, ok := st.ActivePlayer()
	if !ok || active.ID != p.ID {
		return nil, ErrNotYourTurn
	}
	return p, nil
}

// RollDice resolves one market roll for the active player.
func (s *Service) RollDice(ctx context.Context, sessionID, userID string) (RollResult, error) {
	if userID == "" {
		return RollResult{}, ErrNotLoggedIn
	}
	var out RollResult
	st, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		p, err := turnHolder(tx.st, userID)
		if err != nil {
			return err
		}
		done := tx.st.RollsCompleted(p.ID)
		if done >= model.RollsPerTurn {
			return ErrRollsExhausted
		}

		outcome, err := s.market.Resolve(tx.st, p.ID, tx.now)
		if err != nil {
			return internal("resolve roll", err)
		}
		out.Roll = outcome.Roll
		out.Events = outcome.Events
		out.RollsRemaining = model.RollsPerTurn - done - 1

		tx.publish(EventDiceRolled, DiceRolledPayload{Roll: outcome.Roll, Events: outcome.Events})
		for _, ev := range outcome.Events {
			tx.publish(EventPriceUpdated, PriceUpdatedPayload{
				Instrument: outcome.Instrument,
				EventType:  ev.Type,
				Message:    ev.Message,
			})
		}
		return nil
	})
	if err != nil {
		return RollResult{}, err
	}
	out.Session = st.Session
	return out, nil
}

// BuyShares buys in.Lots lots for the active player once both rolls are
// done.
func (s *Service) BuyShares(ctx context.Context, in TradeInput) (TradeResult, error) {
	return s.trade(ctx, in, model.TradeBuy)
}

// SellShares sells in.Lots lots for the active player once both rolls are
// done.
func (s *Service) SellShares(ctx context.Context, in TradeInput) (TradeResult, error) {
	return s.trade(ctx, in, model.TradeSell)
}

func (s *Service) trade(ctx context.Context, in TradeInput, side model.TradeType) (TradeResult, error) {
	if in.UserID == "" {
		return TradeResult{}, ErrNotLoggedIn
	}
	var out TradeResult
	st, err := s.mutate(ctx, in.SessionID, func(tx *txn) error {
		p, err := turnHolder(tx.st, in.UserID)
		if err != nil {
			return err
		}
		if tx.st.RollsCompleted(p.ID) < model.RollsPerTurn {
			return ErrRollsIncomplete
		}
		if tx.st.Instrument(in.InstrumentID) == nil {
			return ErrInstrumentNotFound
		}

		if side == model.TradeBuy {
			out.Trade, err = s.ledger.Buy(tx.st, p.ID, in.InstrumentID, in.Lots, tx.now)
		} else {
			out.Trade, err = s.ledger.Sell(tx.st, p.ID, in.InstrumentID, in.Lots, tx.now)
		}
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}
	out.Player = *st.Player(out.Trade.PlayerID)
	return out, nil
}

// EndTurn passes the turn once the active player has rolled twice.
func (s *Service) EndTurn(ctx context.Context, sessionID, userID string) (model.Session, error) {
	if userID == "" {
		return model.Session{}, ErrNotLoggedIn
	}
	st, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		p, err := turnHolder(tx.st, userID)
		if err != nil {
			return err
		}
		if tx.st.RollsCompleted(p.ID) < model.RollsPerTurn {
			return ErrEndTurnEarly
		}
		tx.st.AdvanceTurn()
		tx.publish(EventTurnChanged, turnChanged(tx.st))
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return st.Session, nil
}
