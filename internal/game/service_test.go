package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stockticker/internal/apperr"
	"stockticker/internal/clock"
	"stockticker/internal/dice"
	"stockticker/internal/game/mocks"
	"stockticker/internal/ids"
	"stockticker/internal/model"
	"stockticker/internal/store/memory"
)

type published struct {
	sessionID string
	event     string
	payload   any
}

type ServiceTestSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	pub   *mocks.MockPublisher
	store *memory.Store
	clock *clock.Fake
	dice  *dice.Scripted
	svc   *Service
	ctx   context.Context

	mu        sync.Mutex
	published []published
	codes     []string
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.pub = mocks.NewMockPublisher(s.ctrl)
	s.pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes().
		Do(func(sessionID, event string, payload any) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.published = append(s.published, published{sessionID: sessionID, event: event, payload: payload})
		})
	s.published = nil
	s.codes = nil

	s.store = memory.New()
	s.clock = clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.dice = dice.NewScripted()
	s.ctx = context.Background()

	svc, err := New(&Config{
		Store:       s.store,
		Publisher:   s.pub,
		Clock:       s.clock,
		Roller:      s.dice,
		IDs:         ids.NewSequence("id"),
		InviteCodes: s.nextCode,
	})
	s.Require().NoError(err)
	s.svc = svc
}

func (s *ServiceTestSuite) TearDownTest() {
	s.svc.Close()
}

func (s *ServiceTestSuite) nextCode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) > 0 {
		code := s.codes[0]
		s.codes = s.codes[1:]
		return code, nil
	}
	return ids.NewInviteCode()
}

func (s *ServiceTestSuite) events(name string) []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []published
	for _, p := range s.published {
		if p.event == name {
			out = append(out, p)
		}
	}
	return out
}

func (s *ServiceTestSuite) create(host string, minutes int) model.Session {
	sess, err := s.svc.CreateSession(s.ctx, CreateSessionInput{Name: "Friday Pit", DurationMinutes: minutes, HostUserID: host})
	s.Require().NoError(err)
	return sess
}

// started creates a session hosted by users[0], seats the rest and starts it.
func (s *ServiceTestSuite) started(users ...string) model.Session {
	sess := s.create(users[0], 30)
	for _, u := range users[1:] {
		_, err := s.svc.JoinSession(s.ctx, sess.InviteCode, u)
		s.Require().NoError(err)
	}
	sess, err := s.svc.StartSession(s.ctx, sess.ID, users[0])
	s.Require().NoError(err)
	return sess
}

func (s *ServiceTestSuite) state(sessionID string) *model.State {
	st, err := s.store.LoadSession(s.ctx, sessionID)
	s.Require().NoError(err)
	return st
}

// edit applies fn directly to stored state, bypassing the engine.
func (s *ServiceTestSuite) edit(sessionID string, fn func(st *model.State)) {
	st := s.state(sessionID)
	fn(st)
	s.Require().NoError(s.store.Commit(s.ctx, st.ChangeSet(s.clock.Now())))
}

func (s *ServiceTestSuite) instrument(sessionID, symbol string) model.Instrument {
	for _, inst := range s.state(sessionID).Instruments {
		if inst.Symbol == symbol {
			return inst
		}
	}
	s.FailNow("no instrument " + symbol)
	return model.Instrument{}
}

func (s *ServiceTestSuite) player(sessionID, userID string) model.Player {
	p := s.state(sessionID).PlayerByUser(userID)
	s.Require().NotNil(p, userID)
	return *p
}

// mustRoll scripts the next dice draw and rolls for userID.
func (s *ServiceTestSuite) mustRoll(sessionID, userID, symbol string, dir model.Direction, amount int64) RollResult {
	inst := s.instrument(sessionID, symbol)
	s.dice.Push(inst.Position, indexOf(model.Directions, dir), indexOf(model.Amounts, amount))
	out, err := s.svc.RollDice(s.ctx, sessionID, userID)
	s.Require().NoError(err)
	return out
}

// quietRolls uses both of userID's rolls on dividends for a stock nobody
// holds below the threshold, leaving prices and cash alone.
func (s *ServiceTestSuite) quietRolls(sessionID, userID string) {
	s.edit(sessionID, func(st *model.State) {
		for i := range st.Instruments {
			if st.Instruments[i].Symbol == "OIL" {
				st.Instruments[i].Price = 50
			}
		}
	})
	s.mustRoll(sessionID, userID, "OIL", model.DirectionDividend, 5)
	s.mustRoll(sessionID, userID, "OIL", model.DirectionDividend, 5)
}

func indexOf[T comparable](values []T, v T) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	panic(fmt.Sprintf("%v not found", v))
}

func (s *ServiceTestSuite) TestNewValidatesConfig() {
	_, err := New(nil)
	s.Error(err)
	_, err = New(&Config{})
	s.Error(err)
}

func (s *ServiceTestSuite) TestCreateSessionSeedsInstrumentsAndHost() {
	s.codes = []string{"ABC123"}
	sess := s.create("alice", 30)

	s.Equal(model.StatusWaiting, sess.Status)
	s.Equal("ABC123", sess.InviteCode)
	s.Equal("alice", sess.HostUserID)
	s.Equal(int64(0), sess.CurrentTurn)

	st := s.state(sess.ID)
	s.Require().Len(st.Instruments, 6)
	symbols := make([]string, 0, 6)
	for _, inst := range st.Instruments {
		s.Equal(model.StartingPrice, inst.Price)
		symbols = append(symbols, inst.Symbol)
	}
	s.Equal([]string{"GOLD", "SLVR", "BNDS", "GRN", "IND", "OIL"}, symbols)

	s.Require().Len(st.Players, 1)
	s.Equal("alice", st.Players[0].UserID)
	s.Equal(model.StartingCash, st.Players[0].Cash)
	s.Equal(0, st.Players[0].TurnPosition)
	s.Equal(model.PlayerActive, st.Players[0].Status)
}

func (s *ServiceTestSuite) TestCreateSessionValidation() {
	tests := []struct {
		name string
		in   CreateSessionInput
		want error
		kind apperr.Kind
	}{
		{name: "anonymous", in: CreateSessionInput{Name: "x", DurationMinutes: 5}, want: ErrNotLoggedIn, kind: apperr.KindAuthorization},
		{name: "blank name", in: CreateSessionInput{Name: "  ", DurationMinutes: 5, HostUserID: "alice"}, want: ErrNameRequired, kind: apperr.KindValidation},
		{name: "zero duration", in: CreateSessionInput{Name: "x", HostUserID: "alice"}, want: ErrInvalidDuration, kind: apperr.KindValidation},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			_, err := s.svc.CreateSession(s.ctx, tc.in)
			s.ErrorIs(err, tc.want)
			s.Equal(tc.kind, apperr.KindOf(err))
		})
	}
}

func (s *ServiceTestSuite) TestCreateSessionRetriesInviteCollision() {
	s.codes = []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	first := s.create("alice", 30)
	second := s.create("bob", 30)
	s.Equal("AAAAAA", first.InviteCode)
	s.Equal("BBBBBB", second.InviteCode)
}

func (s *ServiceTestSuite) TestStartSession() {
	sess := s.create("alice", 30)
	_, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "bob")
	s.Require().NoError(err)

	_, err = s.svc.StartSession(s.ctx, sess.ID, "bob")
	s.ErrorIs(err, ErrNotHostStart)

	started, err := s.svc.StartSession(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)
	s.Equal(model.StatusInProgress, started.Status)
	s.Require().NotNil(started.StartsAt)
	s.Require().NotNil(started.EndsAt)
	s.Equal(s.clock.Now(), *started.StartsAt)
	s.Equal(s.clock.Now().Add(30*time.Minute), *started.EndsAt)

	deadline, ok := s.svc.expiryDeadline(sess.ID)
	s.True(ok)
	s.Equal(*started.EndsAt, deadline)
	s.Len(s.events(EventGameStarted), 1)

	_, err = s.svc.StartSession(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrNotWaiting)

	_, err = s.svc.StartSession(s.ctx, "missing", "alice")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(apperr.KindNotFound, apperr.KindOf(err))
}

func (s *ServiceTestSuite) TestScenarioRollThenBuy() {
	sess := s.started("alice")
	gold := s.instrument(sess.ID, "GOLD")

	_, err := s.svc.BuyShares(s.ctx, TradeInput{SessionID: sess.ID, UserID: "alice", InstrumentID: gold.ID, Lots: 1})
	s.ErrorIs(err, ErrRollsIncomplete)
	_, err = s.svc.EndTurn(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrEndTurnEarly)

	first := s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionUp, 20)
	s.Equal(1, first.RollsRemaining)
	s.Require().Len(first.Events, 1)
	s.Equal("Gold rises $0.20 to $1.20", first.Events[0].Message)
	s.Equal(int64(120), s.instrument(sess.ID, "GOLD").Price)

	second := s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionDown, 20)
	s.Equal(0, second.RollsRemaining)
	s.Equal(int64(100), s.instrument(sess.ID, "GOLD").Price)

	_, err = s.svc.RollDice(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrRollsExhausted)

	res, err := s.svc.BuyShares(s.ctx, TradeInput{SessionID: sess.ID, UserID: "alice", InstrumentID: gold.ID, Lots: 1})
	s.Require().NoError(err)
	s.Equal(int64(4500), res.Player.Cash)
	s.Equal(int64(500), res.Trade.TotalAmount)
	s.Equal(int64(500), s.state(sess.ID).Holding(res.Player.ID, gold.ID).Quantity)

	s.Len(s.events(EventDiceRolled), 2)
	s.Len(s.events(EventPriceUpdated), 2)
}

func (s *ServiceTestSuite) TestTradeRejections() {
	sess := s.started("alice")
	s.quietRolls(sess.ID, "alice")
	gold := s.instrument(sess.ID, "GOLD")

	tests := []struct {
		name    string
		in      TradeInput
		sell    bool
		message string
	}{
		{name: "unknown stock", in: TradeInput{InstrumentID: "nope", Lots: 1}, message: "Stock not found in this game"},
		{name: "zero buy", in: TradeInput{InstrumentID: gold.ID, Lots: 0}, message: "Cannot buy 0 lots"},
		{name: "zero sell", in: TradeInput{InstrumentID: gold.ID, Lots: 0}, sell: true, message: "Cannot sell 0 lots"},
		{name: "too expensive", in: TradeInput{InstrumentID: gold.ID, Lots: 11}, message: "Insufficient cash (need $5500, have $5000)"},
		{name: "nothing to sell", in: TradeInput{InstrumentID: gold.ID, Lots: 1}, sell: true, message: "Insufficient shares (need 500, have 0)"},
		{name: "oversized buy", in: TradeInput{InstrumentID: gold.ID, Lots: math.MaxInt64/model.LotSize + 1}, message: "Cannot trade more than 46116860184273 lots at once"},
		{name: "oversized sell", in: TradeInput{InstrumentID: gold.ID, Lots: math.MaxInt64/model.LotSize + 2}, sell: true, message: "Cannot trade more than 46116860184273 lots at once"},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			tc.in.SessionID = sess.ID
			tc.in.UserID = "alice"
			var err error
			if tc.sell {
				_, err = s.svc.SellShares(s.ctx, tc.in)
			} else {
				_, err = s.svc.BuyShares(s.ctx, tc.in)
			}
			s.Require().Error(err)
			s.Equal([]string{tc.message}, apperr.Messages(err))
		})
	}
	s.Equal(model.StartingCash, s.player(sess.ID, "alice").Cash)
	s.Empty(mustTrades(s, sess.ID))

	_, err := s.svc.EndTurn(s.ctx, sess.ID, "alice")
	s.NoError(err)
}

func mustTrades(s *ServiceTestSuite, sessionID string) []model.Trade {
	trades, err := s.svc.ListTrades(s.ctx, sessionID, 100, 0)
	s.Require().NoError(err)
	return trades
}

func (s *ServiceTestSuite) TestTurnPreconditions() {
	waiting := s.create("carol", 10)
	_, err := s.svc.RollDice(s.ctx, waiting.ID, "carol")
	s.ErrorIs(err, ErrNotInProgress)

	sess := s.started("alice", "bob")

	_, err = s.svc.RollDice(s.ctx, sess.ID, "bob")
	s.ErrorIs(err, ErrNotYourTurn)
	_, err = s.svc.RollDice(s.ctx, sess.ID, "mallory")
	s.ErrorIs(err, ErrNotInGame)
	s.Equal(apperr.KindAuthorization, apperr.KindOf(err))
	_, err = s.svc.RollDice(s.ctx, sess.ID, "")
	s.ErrorIs(err, ErrNotLoggedIn)
	_, err = s.svc.RollDice(s.ctx, "missing", "alice")
	s.ErrorIs(err, ErrSessionNotFound)
	_, err = s.svc.EndTurn(s.ctx, sess.ID, "bob")
	s.ErrorIs(err, ErrNotYourTurn)
}

func (s *ServiceTestSuite) TestEndTurnRotates() {
	sess := s.started("alice", "bob")
	s.quietRolls(sess.ID, "alice")

	after, err := s.svc.EndTurn(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)
	s.Equal(int64(1), after.CurrentTurn)

	view, err := s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(s.player(sess.ID, "bob").ID, view.ActivePlayerID)
	s.Equal(2, view.RollsRemaining)

	changed := s.events(EventTurnChanged)
	s.Require().Len(changed, 1)
	payload := changed[0].payload.(TurnChangedPayload)
	s.Require().NotNil(payload.ActivePlayer)
	s.Equal("bob", payload.ActivePlayer.UserID)

	_, err = s.svc.RollDice(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrNotYourTurn)
	s.quietRolls(sess.ID, "bob")
	_, err = s.svc.EndTurn(s.ctx, sess.ID, "bob")
	s.Require().NoError(err)

	view, err = s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(s.player(sess.ID, "alice").ID, view.ActivePlayerID)
	s.Equal(int64(2), view.Session.CurrentTurn)
}

func (s *ServiceTestSuite) TestScenarioSplit() {
	sess := s.started("alice", "bob")
	gold := s.instrument(sess.ID, "GOLD")
	bob := s.player(sess.ID, "bob")
	s.edit(sess.ID, func(st *model.State) {
		st.Instrument(gold.ID).Price = 190
		st.EnsureHolding(bob.ID, gold.ID, s.clock.Now()).Quantity = 1000
	})

	out := s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionUp, 20)
	s.Equal(model.EventSplit, out.Events[0].Type)

	st := s.state(sess.ID)
	s.Equal(int64(100), st.Instrument(gold.ID).Price)
	s.Equal(int64(2000), st.Holding(bob.ID, gold.ID).Quantity)

	trades := mustTrades(s, sess.ID)
	s.Require().Len(trades, 1)
	s.Equal(model.TradeSplit, trades[0].Type)
	s.Equal(int64(1000), trades[0].Quantity)
	s.Equal(int64(0), trades[0].TotalAmount)
	s.Equal(bob.ID, trades[0].PlayerID)
}

func (s *ServiceTestSuite) TestScenarioCrash() {
	sess := s.started("alice")
	gold := s.instrument(sess.ID, "GOLD")
	alice := s.player(sess.ID, "alice")
	s.edit(sess.ID, func(st *model.State) {
		st.Instrument(gold.ID).Price = 10
		st.EnsureHolding(alice.ID, gold.ID, s.clock.Now()).Quantity = 500
	})

	out := s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionDown, 20)
	s.Equal(model.EventCrash, out.Events[0].Type)

	st := s.state(sess.ID)
	s.Equal(int64(100), st.Instrument(gold.ID).Price)
	s.Equal(int64(0), st.Holding(alice.ID, gold.ID).Quantity)

	trades := mustTrades(s, sess.ID)
	s.Require().Len(trades, 1)
	s.Equal(model.TradeWorthlessReset, trades[0].Type)
	s.Equal(int64(500), trades[0].Quantity)
	s.Equal(int64(0), trades[0].TotalAmount)
}

func (s *ServiceTestSuite) TestScenarioDividend() {
	sess := s.started("alice", "bob")
	gold := s.instrument(sess.ID, "GOLD")
	bob := s.player(sess.ID, "bob")
	s.edit(sess.ID, func(st *model.State) {
		st.Instrument(gold.ID).Price = 150
		st.EnsureHolding(bob.ID, gold.ID, s.clock.Now()).Quantity = 1000
	})

	out := s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionDividend, 10)
	s.Equal("bob receives $150 dividend from Gold", out.Events[0].Message)
	s.Equal(int64(5150), s.player(sess.ID, "bob").Cash)

	trades := mustTrades(s, sess.ID)
	s.Require().Len(trades, 1)
	s.Equal(model.TradeDividend, trades[0].Type)
	s.Equal(int64(150), trades[0].TotalAmount)
}

func (s *ServiceTestSuite) TestBuyThenSellRestoresCash() {
	sess := s.started("alice")
	s.quietRolls(sess.ID, "alice")
	gold := s.instrument(sess.ID, "GOLD")
	in := TradeInput{SessionID: sess.ID, UserID: "alice", InstrumentID: gold.ID, Lots: 3}

	_, err := s.svc.BuyShares(s.ctx, in)
	s.Require().NoError(err)
	res, err := s.svc.SellShares(s.ctx, in)
	s.Require().NoError(err)

	s.Equal(model.StartingCash, res.Player.Cash)
	s.Equal(int64(0), s.state(sess.ID).Holding(res.Player.ID, gold.ID).Quantity)

	trades := mustTrades(s, sess.ID)
	s.Require().Len(trades, 2)
	s.Equal(model.TradeSell, trades[0].Type)
	s.Equal(model.TradeBuy, trades[1].Type)
}

func (s *ServiceTestSuite) TestPauseAndResume() {
	sess := s.started("alice")

	_, err := s.svc.PauseSession(s.ctx, sess.ID, "bob")
	s.ErrorIs(err, ErrNotHostPause)

	s.clock.Advance(10 * time.Minute)
	paused, err := s.svc.PauseSession(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)
	s.Equal(model.StatusPaused, paused.Status)
	s.Nil(paused.EndsAt)
	s.Require().NotNil(paused.RemainingSeconds)
	s.Equal(int64(20*60), *paused.RemainingSeconds)
	_, armed := s.svc.expiryDeadline(sess.ID)
	s.False(armed)

	_, err = s.svc.PauseSession(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrPauseNotInProgress)
	_, err = s.svc.RollDice(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrNotInProgress)

	// The original deadline passes while paused.
	s.clock.Advance(time.Hour)
	view, err := s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusPaused, view.Session.Status)
	s.Equal(int64(20*60), view.RemainingSeconds)

	joined, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "alice")
	s.Require().NoError(err)
	s.Equal(model.StatusInProgress, joined.Session.Status)
	s.Nil(joined.Session.RemainingSeconds)
	s.Require().NotNil(joined.Session.EndsAt)
	s.Equal(s.clock.Now().Add(20*time.Minute), *joined.Session.EndsAt)
	s.Len(s.events(EventGameResumed), 1)

	s.clock.Advance(20*time.Minute - time.Second)
	s.Equal(model.StatusInProgress, s.state(sess.ID).Session.Status)
	s.clock.Advance(time.Second)
	s.Equal(model.StatusCompleted, s.state(sess.ID).Session.Status)
	s.Len(s.events(EventGameEnded), 1)
}

func (s *ServiceTestSuite) TestPauseRequiresSoloGame() {
	sess := s.started("alice", "bob")
	_, err := s.svc.PauseSession(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrPauseNotSolo)

	_, err = s.svc.LeaveSession(s.ctx, sess.ID, "bob")
	s.Require().NoError(err)
	_, err = s.svc.PauseSession(s.ctx, sess.ID, "alice")
	s.NoError(err)

	waiting := s.create("carol", 10)
	_, err = s.svc.PauseSession(s.ctx, waiting.ID, "carol")
	s.ErrorIs(err, ErrPauseNotInProgress)
}

func (s *ServiceTestSuite) TestNonHostJoinDoesNotResume() {
	sess := s.create("alice", 30)
	_, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "bob")
	s.Require().NoError(err)
	_, err = s.svc.StartSession(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)
	_, err = s.svc.LeaveSession(s.ctx, sess.ID, "bob")
	s.Require().NoError(err)
	_, err = s.svc.PauseSession(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)

	joined, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "bob")
	s.Require().NoError(err)
	s.Equal(model.StatusPaused, joined.Session.Status)
	s.Equal(model.PlayerActive, joined.Player.Status)
}

func (s *ServiceTestSuite) TestJoinSession() {
	sess := s.started("alice")

	_, err := s.svc.JoinSession(s.ctx, "ZZZZZZ", "bob")
	s.ErrorIs(err, ErrSessionNotFound)

	late, err := s.svc.JoinSession(s.ctx, " "+lower(sess.InviteCode)+" ", "bob")
	s.Require().NoError(err)
	s.Equal(1, late.Player.TurnPosition)
	s.Equal(model.StartingCash, late.Player.Cash)

	_, err = s.svc.LeaveSession(s.ctx, sess.ID, "bob")
	s.Require().NoError(err)
	s.Equal(model.PlayerDropped, s.player(sess.ID, "bob").Status)

	again, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "bob")
	s.Require().NoError(err)
	s.Equal(late.Player.ID, again.Player.ID)
	s.Equal(model.PlayerActive, again.Player.Status)
	s.Equal(1, again.Player.TurnPosition)
	s.Len(s.state(sess.ID).Players, 2)

	_, err = s.svc.JoinSession(s.ctx, sess.InviteCode, "carol")
	s.Require().NoError(err)
	s.Equal(2, s.player(sess.ID, "carol").TurnPosition)
}

func lower(code string) string {
	out := []byte(code)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + 'a' - 'A'
		}
	}
	return string(out)
}

func (s *ServiceTestSuite) TestJoinCompletedSession() {
	sess := s.started("alice")
	s.clock.Advance(30 * time.Minute)
	_, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "bob")
	s.ErrorIs(err, ErrCompleted)
}

func (s *ServiceTestSuite) TestLeaveByActivePlayerPassesTurn() {
	sess := s.started("alice", "bob", "carol")

	_, err := s.svc.LeaveSession(s.ctx, sess.ID, "mallory")
	s.ErrorIs(err, ErrNotInGame)

	_, err = s.svc.LeaveSession(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)

	view, err := s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(s.player(sess.ID, "bob").ID, view.ActivePlayerID)

	changed := s.events(EventTurnChanged)
	s.Require().Len(changed, 1)
	s.Equal("bob", changed[0].payload.(TurnChangedPayload).ActivePlayer.UserID)

	// Dropped players are still seated but never hold the turn.
	_, err = s.svc.RollDice(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrNotYourTurn)
}

func (s *ServiceTestSuite) TestLeaveKeepsTurnWhenUnaffected() {
	sess := s.started("alice", "bob", "carol")
	_, err := s.svc.LeaveSession(s.ctx, sess.ID, "carol")
	s.Require().NoError(err)
	s.Empty(s.events(EventTurnChanged))
}

func (s *ServiceTestSuite) TestExpiry() {
	sess := s.create("alice", 1)
	_, err := s.svc.JoinSession(s.ctx, sess.InviteCode, "bob")
	s.Require().NoError(err)
	bob := s.player(sess.ID, "bob")
	s.edit(sess.ID, func(st *model.State) {
		st.Player(bob.ID).Cash = 6000
	})
	_, err = s.svc.StartSession(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)

	done, err := s.svc.Expire(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.False(done, "deadline has not passed")

	s.clock.Advance(59 * time.Second)
	s.Equal(model.StatusInProgress, s.state(sess.ID).Session.Status)

	s.clock.Advance(time.Second)
	s.Equal(model.StatusCompleted, s.state(sess.ID).Session.Status)

	ended := s.events(EventGameEnded)
	s.Require().Len(ended, 1)
	payload := ended[0].payload.(GameEndedPayload)
	s.Require().Len(payload.Rankings, 2)
	s.Equal("bob", payload.Rankings[0].UserID)
	s.Equal(int64(6000), payload.Rankings[0].NetWorth)
	s.Equal(1, payload.Rankings[0].Rank)
	s.Equal("alice", payload.Rankings[1].UserID)

	done, err = s.svc.Expire(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.False(done)
	s.Len(s.events(EventGameEnded), 1)

	_, err = s.svc.RollDice(s.ctx, sess.ID, "alice")
	s.ErrorIs(err, ErrNotInProgress)

	view, err := s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(int64(0), view.RemainingSeconds)
	s.Len(view.Rankings, 2)
}

func (s *ServiceTestSuite) TestSweepAndRearm() {
	overdue := s.started("alice")
	running := s.started("bob")
	s.svc.Close()

	s.edit(overdue.ID, func(st *model.State) {
		past := s.clock.Now().Add(-time.Second)
		st.Session.EndsAt = &past
	})

	n, err := s.svc.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(model.StatusCompleted, s.state(overdue.ID).Session.Status)
	s.Equal(model.StatusInProgress, s.state(running.ID).Session.Status)

	armed, err := s.svc.RearmTimers(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, armed)
	deadline, ok := s.svc.expiryDeadline(running.ID)
	s.True(ok)
	s.Equal(*running.EndsAt, deadline)

	s.clock.Advance(30 * time.Minute)
	s.Equal(model.StatusCompleted, s.state(running.ID).Session.Status)
}

func (s *ServiceTestSuite) TestGetSessionView() {
	sess := s.started("alice", "bob")
	gold := s.instrument(sess.ID, "GOLD")
	s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionUp, 20)

	view, err := s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(1, view.RollsRemaining)
	s.Equal(int64(30*60), view.RemainingSeconds)
	s.Len(view.Players, 2)
	s.Len(view.Instruments, 6)
	s.Empty(view.Rankings)

	s.mustRoll(sess.ID, "alice", "GOLD", model.DirectionUp, 5)
	_, err = s.svc.BuyShares(s.ctx, TradeInput{SessionID: sess.ID, UserID: "alice", InstrumentID: gold.ID, Lots: 2})
	s.Require().NoError(err)

	me, err := s.svc.GetPlayer(s.ctx, sess.ID, "alice")
	s.Require().NoError(err)
	// 1000 shares at 125 cost 1250; value is unchanged at the same price.
	s.Equal(int64(3750), me.Cash)
	s.Equal(int64(5000), me.NetWorth)
	s.Require().Len(me.Positions, 1)
	s.Equal("GOLD", me.Positions[0].Symbol)
	s.Equal(int64(1250), me.Positions[0].Value)

	_, err = s.svc.GetPlayer(s.ctx, sess.ID, "mallory")
	s.ErrorIs(err, ErrNotInGame)
}

func (s *ServiceTestSuite) TestListSessionsDefaultsToOpenSessions() {
	waiting := s.create("alice", 10)
	running := s.started("bob")
	done := s.started("carol")
	s.edit(done.ID, func(st *model.State) { st.Session.Status = model.StatusCompleted })

	got, err := s.svc.ListSessions(s.ctx, nil)
	s.Require().NoError(err)
	seen := map[string]bool{}
	for _, sess := range got {
		seen[sess.ID] = true
	}
	s.True(seen[waiting.ID])
	s.True(seen[running.ID])
	s.False(seen[done.ID])

	completed, err := s.svc.ListSessions(s.ctx, []model.SessionStatus{model.StatusCompleted})
	s.Require().NoError(err)
	s.Require().Len(completed, 1)
	s.Equal(done.ID, completed[0].ID)
}

func (s *ServiceTestSuite) TestListTradesPaging() {
	sess := s.started("alice")
	s.quietRolls(sess.ID, "alice")
	gold := s.instrument(sess.ID, "GOLD")
	for i := 0; i < 3; i++ {
		_, err := s.svc.BuyShares(s.ctx, TradeInput{SessionID: sess.ID, UserID: "alice", InstrumentID: gold.ID, Lots: 1})
		s.Require().NoError(err)
	}

	page, err := s.svc.ListTrades(s.ctx, sess.ID, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Greater(page[0].Seq, page[1].Seq)

	rest, err := s.svc.ListTrades(s.ctx, sess.ID, 0, 2)
	s.Require().NoError(err)
	s.Len(rest, 1)

	_, err = s.svc.ListTrades(s.ctx, "missing", 10, 0)
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *ServiceTestSuite) TestConcurrentRollsAreSerialized() {
	sess := s.started("alice")
	for i := 0; i < 40; i++ {
		s.dice.Push(0, 2, 0)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.RollDice(s.ctx, sess.ID, "alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrRollsExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	s.Equal(2, succeeded)
	s.Equal(18, exhausted)
	s.Len(s.state(sess.ID).TurnRolls, 2)
}

func (s *ServiceTestSuite) TestConcurrentBuysNeverOverspend() {
	sess := s.started("alice")
	s.quietRolls(sess.ID, "alice")
	gold := s.instrument(sess.ID, "GOLD")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.svc.BuyShares(s.ctx, TradeInput{SessionID: sess.ID, UserID: "alice", InstrumentID: gold.ID, Lots: 2})
		}()
	}
	wg.Wait()

	st := s.state(sess.ID)
	alice := st.PlayerByUser("alice")
	s.Equal(int64(0), alice.Cash)
	s.Equal(int64(5000), st.Holding(alice.ID, gold.ID).Quantity)
	s.Len(mustTrades(s, sess.ID), 5)
}

func (s *ServiceTestSuite) TestNetWorthReconciles() {
	sess := s.started("alice", "bob")
	svc, err := New(&Config{
		Store:     s.store,
		Publisher: s.pub,
		Clock:     s.clock,
		Roller:    dice.New(&dice.Config{Seed: 42}),
		IDs:       ids.NewSequence("rw"),
	})
	s.Require().NoError(err)
	defer svc.Close()

	for turn := 0; turn < 30; turn++ {
		view, err := svc.GetSession(s.ctx, sess.ID)
		s.Require().NoError(err)
		var user string
		for _, p := range view.Players {
			if p.ID == view.ActivePlayerID {
				user = p.UserID
			}
		}
		for r := 0; r < 2; r++ {
			_, err := svc.RollDice(s.ctx, sess.ID, user)
			s.Require().NoError(err)
		}
		inst := view.Instruments[turn%len(view.Instruments)]
		_, _ = svc.BuyShares(s.ctx, TradeInput{SessionID: sess.ID, UserID: user, InstrumentID: inst.ID, Lots: 1})
		_, err = svc.EndTurn(s.ctx, sess.ID, user)
		s.Require().NoError(err)
	}

	st := s.state(sess.ID)
	view, err := svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	for _, pv := range view.Players {
		want := pv.Cash
		for _, h := range st.Holdings {
			if h.PlayerID == pv.ID {
				s.Zero(h.Quantity % model.LotSize)
				want += h.Quantity * st.Instrument(h.InstrumentID).Price / 100
			}
		}
		s.Equal(want, pv.NetWorth)
		s.GreaterOrEqual(pv.Cash, int64(0))
	}
	for _, inst := range st.Instruments {
		s.GreaterOrEqual(inst.Price, int64(0))
		s.LessOrEqual(inst.Price, model.PriceCeiling)
	}
	s.Equal(int64(30), st.Session.CurrentTurn)
}
