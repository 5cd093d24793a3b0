package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockticker/internal/model"
	"stockticker/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(id, code string) *model.State {
	return &model.State{
		Session: model.Session{ID: id, InviteCode: code, Status: model.StatusWaiting, Version: 1, CreatedAt: now},
		Players: []model.Player{{ID: id + "-p1", SessionID: id, UserID: "host", Cash: 5000, Status: model.PlayerActive}},
		Instruments: []model.Instrument{
			{ID: id + "-gold", SessionID: id, Symbol: "GOLD", Price: 100},
		},
		NextSeq: 1,
	}
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "ABC123")))

	id, err := s.FindSessionID(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	st, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, st.Dirty())
	assert.Len(t, st.Players, 1)

	_, err = s.LoadSession(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindSessionID(ctx, "ZZZ999")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateRejectsDuplicateInviteCode(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "ABC123")))
	assert.ErrorIs(t, s.CreateSession(ctx, newSession("s2", "ABC123")), store.ErrInviteCodeTaken)
}

func TestCommitAppliesChangesAndChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "ABC123")))

	first, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	stale, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)

	first.Player("s1-p1").Cash = 4500
	first.EnsureHolding("s1-p1", "s1-gold", now).Quantity = 500
	first.AppendRoll(model.DiceRoll{ID: "r1", PlayerID: "s1-p1", TurnNumber: 0})
	first.AppendTrade(model.Trade{ID: "t1", SessionID: "s1", Type: model.TradeBuy})
	require.NoError(t, s.Commit(ctx, first.ChangeSet(now)))

	stale.Player("s1-p1").Cash = 1
	assert.ErrorIs(t, s.Commit(ctx, stale.ChangeSet(now)), store.ErrVersionConflict)

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Session.Version)
	assert.Equal(t, int64(4500), got.Player("s1-p1").Cash)
	assert.Equal(t, int64(500), got.Holding("s1-p1", "s1-gold").Quantity)
	assert.Equal(t, 1, got.RollsCompleted("s1-p1"))
	assert.Equal(t, int64(2), got.NextSeq)
}

func TestLoadOnlyCurrentTurnRolls(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "ABC123")))

	st, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	st.AppendRoll(model.DiceRoll{ID: "r1", PlayerID: "s1-p1", TurnNumber: 0})
	st.AdvanceTurn()
	require.NoError(t, s.Commit(ctx, st.ChangeSet(now)))

	got, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.TurnRolls)
}

func TestListSessionsAndTrades(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newSession("s1", "AAA111")
	b := newSession("s2", "BBB222")
	b.Session.CreatedAt = now.Add(time.Minute)
	b.Session.Status = model.StatusCompleted
	require.NoError(t, s.CreateSession(ctx, a))
	require.NoError(t, s.CreateSession(ctx, b))

	all, err := s.ListSessions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s2", all[0].ID)

	waiting, err := s.ListSessions(ctx, []model.SessionStatus{model.StatusWaiting})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "s1", waiting[0].ID)

	st, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		st.AppendTrade(model.Trade{SessionID: "s1", Type: model.TradeBuy})
	}
	require.NoError(t, s.Commit(ctx, st.ChangeSet(now)))

	trades, err := s.ListTrades(ctx, "s1", 2, 1)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(4), trades[0].Seq)
	assert.Equal(t, int64(3), trades[1].Seq)
}
