// Package ledger executes lot trades against a player's cash and holdings
// and appends the matching ledger entries.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stockticker/internal/apperr"
	"stockticker/internal/ids"
	"stockticker/internal/model"
)

var (
	ErrZeroLots           = errors.New("lots must be > 0")
	ErrTooManyLots        = errors.New("lots out of range")
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUnknownPlayer      = errors.New("player not in session")
	ErrUnknownInstrument  = errors.New("instrument not in session")
)

// MaxLots bounds one order so that share counts and notional values stay
// inside int64 for any price below twice the ceiling.
const MaxLots = math.MaxInt64 / model.LotSize / (2 * model.PriceCeiling)

type Ledger struct {
	ids ids.Generator
}

func New(gen ids.Generator) *Ledger {
	return &Ledger{ids: gen}
}

// Buy debits cash for lots×500 shares at the current price. On rejection
// st is left untouched.
func (l *Ledger) Buy(st *model.State, playerID, instrumentID string, lots int64, now time.Time) (model.Trade, error) {
	if lots <= 0 {
		return model.Trade{}, apperr.Wrap(apperr.KindValidation, "Cannot buy 0 lots", ErrZeroLots)
	}
	if err := checkRange(lots); err != nil {
		return model.Trade{}, err
	}
	p, inst, err := lookup(st, playerID, instrumentID)
	if err != nil {
		return model.Trade{}, err
	}

	shares := lots * model.LotSize
	cost := model.Notional(shares, inst.Price)
	if cost > p.Cash {
		return model.Trade{}, apperr.Wrap(apperr.KindValidation,
			fmt.Sprintf("Insufficient cash (need $%d, have $%d)", cost, p.Cash), ErrInsufficientCash)
	}

	p.Cash -= cost
	h := st.EnsureHolding(playerID, instrumentID, now)
	h.Quantity += shares
	return l.record(st, playerID, inst, model.TradeBuy, shares, cost, now), nil
}

// Sell credits cash for lots×500 shares at the current price.
func (l *Ledger) Sell(st *model.State, playerID, instrumentID string, lots int64, now time.Time) (model.Trade, error) {
	if lots <= 0 {
		return model.Trade{}, apperr.Wrap(apperr.KindValidation, "Cannot sell 0 lots", ErrZeroLots)
	}
	if err := checkRange(lots); err != nil {
		return model.Trade{}, err
	}
	p, inst, err := lookup(st, playerID, instrumentID)
	if err != nil {
		return model.Trade{}, err
	}

	shares := lots * model.LotSize
	h := st.Holding(playerID, instrumentID)
	var owned int64
	if h != nil {
		owned = h.Quantity
	}
	if h == nil || shares > owned {
		return model.Trade{}, apperr.Wrap(apperr.KindValidation,
			fmt.Sprintf("Insufficient shares (need %d, have %d)", shares, owned), ErrInsufficientShares)
	}

	proceeds := model.Notional(shares, inst.Price)
	p.Cash += proceeds
	h.Quantity -= shares
	return l.record(st, playerID, inst, model.TradeSell, shares, proceeds, now), nil
}

func (l *Ledger) record(st *model.State, playerID string, inst *model.Instrument, kind model.TradeType, shares, total int64, now time.Time) model.Trade {
	return st.AppendTrade(model.Trade{
		ID:           l.ids.NewID(),
		SessionID:    st.Session.ID,
		PlayerID:     playerID,
		InstrumentID: inst.ID,
		Type:         kind,
		Quantity:     shares,
		PriceAtTime:  inst.Price,
		TotalAmount:  total,
		TurnNumber:   st.Session.CurrentTurn,
		CreatedAt:    now,
	})
}

func checkRange(lots int64) error {
	if lots > MaxLots {
		return apperr.Wrap(apperr.KindValidation,
			fmt.Sprintf("Cannot trade more than %d lots at once", MaxLots), ErrTooManyLots)
	}
	return nil
}

func lookup(st *model.State, playerID, instrumentID string) (*model.Player, *model.Instrument, error) {
	p := st.Player(playerID)
	if p == nil {
		return nil, nil, apperr.Wrap(apperr.KindAuthorization, "You are not in this game", ErrUnknownPlayer)
	}
	inst := st.Instrument(instrumentID)
	if inst == nil {
		return nil, nil, apperr.Wrap(apperr.KindNotFound, "Stock not found in this game", ErrUnknownInstrument)
	}
	return p, inst, nil
}
