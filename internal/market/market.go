// Package market resolves dice rolls into instrument price movements and
// their split, crash and dividend side effects.
package market

import (
	"errors"
	"fmt"
	"time"

	"stockticker/internal/dice"
	"stockticker/internal/ids"
	"stockticker/internal/model"
)

var ErrNoInstruments = errors.New("session has no instruments")

// Outcome is the result of one roll.
type Outcome struct {
	Roll       model.DiceRoll
	Instrument model.Instrument
	Events     []model.MarketEvent
	Trades     []model.Trade
}

type Simulator struct {
	roller dice.Roller
	ids    ids.Generator
}

func New(roller dice.Roller, gen ids.Generator) *Simulator {
	return &Simulator{roller: roller, ids: gen}
}

// Resolve draws an instrument, direction and amount uniformly and applies
// the result to st on behalf of playerID. Turn preconditions are the
// caller's responsibility.
func (s *Simulator) Resolve(st *model.State, playerID string, now time.Time) (Outcome, error) {
	if len(st.Instruments) == 0 {
		return Outcome{}, ErrNoInstruments
	}
	idx := s.roller.Intn(len(st.Instruments))
	direction := model.Directions[s.roller.Intn(len(model.Directions))]
	amount := model.Amounts[s.roller.Intn(len(model.Amounts))]
	return s.Apply(st, playerID, st.Instruments[idx].ID, direction, amount, now)
}

// Apply records a roll with a known outcome and mutates st accordingly.
func (s *Simulator) Apply(st *model.State, playerID, instrumentID string, direction model.Direction, amount int64, now time.Time) (Outcome, error) {
	inst := st.Instrument(instrumentID)
	if inst == nil {
		return Outcome{}, fmt.Errorf("instrument %s not in session %s", instrumentID, st.Session.ID)
	}

	roll := model.DiceRoll{
		ID:           s.ids.NewID(),
		SessionID:    st.Session.ID,
		PlayerID:     playerID,
		InstrumentID: inst.ID,
		TurnNumber:   st.Session.CurrentTurn,
		Direction:    direction,
		Amount:       amount,
		CreatedAt:    now,
	}
	st.AppendRoll(roll)

	r := resolution{sim: s, st: st, inst: inst, now: now}
	switch direction {
	case model.DirectionUp:
		r.up(amount)
	case model.DirectionDown:
		r.down(amount)
	case model.DirectionDividend:
		r.dividend(amount)
	default:
		return Outcome{}, fmt.Errorf("unknown direction %q", direction)
	}

	return Outcome{
		Roll:       roll,
		Instrument: *inst,
		Events:     r.events,
		Trades:     r.trades,
	}, nil
}

type resolution struct {
	sim    *Simulator
	st     *model.State
	inst   *model.Instrument
	now    time.Time
	events []model.MarketEvent
	trades []model.Trade
}

func (r *resolution) up(amount int64) {
	next := r.inst.Price + amount
	if next < model.PriceCeiling {
		r.inst.Price = next
		r.emit(model.EventUp, fmt.Sprintf("%s rises %s to %s", r.inst.Name, model.FormatCents(amount), model.FormatCents(next)))
		return
	}

	for _, i := range r.st.HolderIndexes(r.inst.ID) {
		h := &r.st.Holdings[i]
		before := h.Quantity
		h.Quantity = before * 2
		r.record(h.PlayerID, model.TradeSplit, before, model.PriceCeiling, 0)
	}
	r.inst.Price = model.StartingPrice
	r.emit(model.EventSplit, fmt.Sprintf("%s hits %s — STOCK SPLIT! Shares doubled, price reset to %s",
		r.inst.Name, model.FormatCents(model.PriceCeiling), model.FormatCents(model.StartingPrice)))
}

func (r *resolution) down(amount int64) {
	next := r.inst.Price - amount
	if next > 0 {
		r.inst.Price = next
		r.emit(model.EventDown, fmt.Sprintf("%s falls %s to %s", r.inst.Name, model.FormatCents(amount), model.FormatCents(next)))
		return
	}

	for _, i := range r.st.HolderIndexes(r.inst.ID) {
		h := &r.st.Holdings[i]
		r.record(h.PlayerID, model.TradeWorthlessReset, h.Quantity, 0, 0)
		h.Quantity = 0
	}
	r.inst.Price = model.StartingPrice
	r.emit(model.EventCrash, fmt.Sprintf("CRASH! %s drops to $0 — shares wiped, price reset to %s",
		r.inst.Name, model.FormatCents(model.StartingPrice)))
}

func (r *resolution) dividend(amount int64) {
	price := r.inst.Price
	if price < model.DividendThreshold {
		r.emit(model.EventDividend, fmt.Sprintf("%s dividend rolled but stock is below %s — no effect",
			r.inst.Name, model.FormatCents(model.DividendThreshold)))
		return
	}

	paid := 0
	for _, i := range r.st.HolderIndexes(r.inst.ID) {
		h := r.st.Holdings[i]
		payout := model.DividendPayout(h.Quantity, price, amount)
		if payout <= 0 {
			continue
		}
		p := r.st.Player(h.PlayerID)
		if p == nil {
			continue
		}
		p.Cash += payout
		r.record(h.PlayerID, model.TradeDividend, h.Quantity, price, payout)
		r.emit(model.EventDividend, fmt.Sprintf("%s receives $%d dividend from %s", p.UserID, payout, r.inst.Name))
		paid++
	}
	if paid == 0 {
		r.emit(model.EventDividend, fmt.Sprintf("%s pays %d%% dividend — no holders", r.inst.Name, amount))
	}
}

func (r *resolution) record(playerID string, kind model.TradeType, qty, price, total int64) {
	t := r.st.AppendTrade(model.Trade{
		ID:           r.sim.ids.NewID(),
		SessionID:    r.st.Session.ID,
		PlayerID:     playerID,
		InstrumentID: r.inst.ID,
		Type:         kind,
		Quantity:     qty,
		PriceAtTime:  price,
		TotalAmount:  total,
		TurnNumber:   r.st.Session.CurrentTurn,
		CreatedAt:    r.now,
	})
	r.trades = append(r.trades, t)
}

func (r *resolution) emit(kind model.EventType, message string) {
	r.events = append(r.events, model.MarketEvent{
		Type:         kind,
		InstrumentID: r.inst.ID,
		Symbol:       r.inst.Symbol,
		Message:      message,
	})
}
