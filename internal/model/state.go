package model

import (
	"sort"
	"time"
)

// State is a working copy of one session. Operations mutate it freely and
// the store persists the difference from the loaded snapshot as a single
// ChangeSet, so a rejected operation simply discards its State.
type State struct {
	Session     Session
	Players     []Player
	Instruments []Instrument
	Holdings    []Holding
	// TurnRolls holds the dice rolled during Session.CurrentTurn.
	TurnRolls []DiceRoll
	// NextSeq is assigned to the next appended trade.
	NextSeq int64

	base   *State
	rolls  []DiceRoll
	trades []Trade
}

// ChangeSet is everything an operation changed. Players, Instruments and
// Holdings are upserts; DiceRolls and Trades are appends.
type ChangeSet struct {
	Session         Session
	ExpectedVersion int64
	Players         []Player
	Instruments     []Instrument
	Holdings        []Holding
	DiceRolls       []DiceRoll
	Trades          []Trade
}

// Snapshot marks the current contents as the persisted baseline.
func (s *State) Snapshot() {
	s.base = s.copyData()
	s.rolls = nil
	s.trades = nil
}

// Clone returns a deep copy, baseline and pending appends included.
func (s *State) Clone() *State {
	out := s.copyData()
	if s.base != nil {
		out.base = s.base.copyData()
	}
	out.rolls = append([]DiceRoll(nil), s.rolls...)
	out.trades = append([]Trade(nil), s.trades...)
	return out
}

func (s *State) copyData() *State {
	return &State{
		Session:     copySession(s.Session),
		Players:     append([]Player(nil), s.Players...),
		Instruments: append([]Instrument(nil), s.Instruments...),
		Holdings:    append([]Holding(nil), s.Holdings...),
		TurnRolls:   append([]DiceRoll(nil), s.TurnRolls...),
		NextSeq:     s.NextSeq,
	}
}

func (s *State) Player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *State) PlayerByUser(userID string) *Player {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *State) Instrument(id string) *Instrument {
	for i := range s.Instruments {
		if s.Instruments[i].ID == id {
			return &s.Instruments[i]
		}
	}
	return nil
}

func (s *State) Holding(playerID, instrumentID string) *Holding {
	for i := range s.Holdings {
		if s.Holdings[i].PlayerID == playerID && s.Holdings[i].InstrumentID == instrumentID {
			return &s.Holdings[i]
		}
	}
	return nil
}

// EnsureHolding returns the holding for the pair, creating it at zero.
// Pointers previously returned by Holding may be invalidated.
func (s *State) EnsureHolding(playerID, instrumentID string, now time.Time) *Holding {
	if h := s.Holding(playerID, instrumentID); h != nil {
		return h
	}
	s.Holdings = append(s.Holdings, Holding{
		PlayerID:     playerID,
		InstrumentID: instrumentID,
		UpdatedAt:    now,
	})
	return &s.Holdings[len(s.Holdings)-1]
}

// HolderIndexes lists indexes into Holdings with a positive quantity of
// the instrument.
func (s *State) HolderIndexes(instrumentID string) []int {
	var out []int
	for i, h := range s.Holdings {
		if h.InstrumentID == instrumentID && h.Quantity > 0 {
			out = append(out, i)
		}
	}
	return out
}

// AddPlayer appends p at the back of the turn order.
func (s *State) AddPlayer(p Player) *Player {
	p.TurnPosition = s.nextTurnPosition()
	s.Players = append(s.Players, p)
	return &s.Players[len(s.Players)-1]
}

func (s *State) nextTurnPosition() int {
	if len(s.Players) == 0 {
		return 0
	}
	max := s.Players[0].TurnPosition
	for _, p := range s.Players[1:] {
		if p.TurnPosition > max {
			max = p.TurnPosition
		}
	}
	return max + 1
}

func (s *State) ActivePlayer() (Player, bool) {
	return ActivePlayer(s.Players, s.Session.CurrentTurn)
}

// ActiveCount is the number of players with status active.
func (s *State) ActiveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Status == PlayerActive {
			n++
		}
	}
	return n
}

func (s *State) AppendRoll(r DiceRoll) {
	s.TurnRolls = append(s.TurnRolls, r)
	s.rolls = append(s.rolls, r)
}

// AppendTrade assigns the next sequence number and records the entry.
func (s *State) AppendTrade(t Trade) Trade {
	t.Seq = s.NextSeq
	s.NextSeq++
	s.trades = append(s.trades, t)
	return t
}

// RollsCompleted counts the player's rolls in the current turn.
func (s *State) RollsCompleted(playerID string) int {
	n := 0
	for _, r := range s.TurnRolls {
		if r.PlayerID == playerID && r.TurnNumber == s.Session.CurrentTurn {
			n++
		}
	}
	return n
}

// AdvanceTurn moves to the next turn.
func (s *State) AdvanceTurn() {
	s.Session.CurrentTurn++
	s.TurnRolls = nil
}

func (s *State) NetWorth(playerID string) int64 {
	p := s.Player(playerID)
	if p == nil {
		return 0
	}
	var positions []Position
	for _, h := range s.Holdings {
		if h.PlayerID != playerID {
			continue
		}
		if inst := s.Instrument(h.InstrumentID); inst != nil {
			positions = append(positions, Position{Quantity: h.Quantity, PriceCents: inst.Price})
		}
	}
	return NetWorth(p.Cash, positions)
}

// Rankings orders every player by net worth, highest first. Ties keep turn
// order.
func (s *State) Rankings() []Ranking {
	players := append([]Player(nil), s.Players...)
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].TurnPosition < players[j].TurnPosition
	})
	out := make([]Ranking, 0, len(players))
	for _, p := range players {
		out = append(out, Ranking{PlayerID: p.ID, UserID: p.UserID, NetWorth: s.NetWorth(p.ID)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NetWorth > out[j].NetWorth
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Dirty reports whether anything changed since the last Snapshot.
func (s *State) Dirty() bool {
	if s.base == nil {
		return true
	}
	cs := s.diff()
	return !sessionEqual(s.base.Session, s.Session) ||
		len(cs.Players) > 0 || len(cs.Instruments) > 0 || len(cs.Holdings) > 0 ||
		len(s.rolls) > 0 || len(s.trades) > 0
}

// ChangeSet builds the write for this operation. The session version is
// bumped and the baseline version is carried for the optimistic check.
func (s *State) ChangeSet(now time.Time) ChangeSet {
	cs := s.diff()
	cs.Session = copySession(s.Session)
	if s.base != nil {
		cs.ExpectedVersion = s.base.Session.Version
	}
	cs.Session.Version = cs.ExpectedVersion + 1
	cs.Session.UpdatedAt = now
	for i := range cs.Players {
		cs.Players[i].UpdatedAt = now
	}
	for i := range cs.Instruments {
		cs.Instruments[i].UpdatedAt = now
	}
	for i := range cs.Holdings {
		cs.Holdings[i].UpdatedAt = now
	}
	cs.DiceRolls = append([]DiceRoll(nil), s.rolls...)
	cs.Trades = append([]Trade(nil), s.trades...)
	return cs
}

func (s *State) diff() ChangeSet {
	var cs ChangeSet
	var base State
	if s.base != nil {
		base = *s.base
	}

	for _, p := range s.Players {
		if old := base.Player(p.ID); old == nil || *old != p {
			cs.Players = append(cs.Players, p)
		}
	}
	for _, inst := range s.Instruments {
		if old := base.Instrument(inst.ID); old == nil || *old != inst {
			cs.Instruments = append(cs.Instruments, inst)
		}
	}
	for _, h := range s.Holdings {
		if old := base.Holding(h.PlayerID, h.InstrumentID); old == nil || *old != h {
			cs.Holdings = append(cs.Holdings, h)
		}
	}
	return cs
}

func copySession(s Session) Session {
	out := s
	if s.StartsAt != nil {
		t := *s.StartsAt
		out.StartsAt = &t
	}
	if s.EndsAt != nil {
		t := *s.EndsAt
		out.EndsAt = &t
	}
	if s.RemainingSeconds != nil {
		v := *s.RemainingSeconds
		out.RemainingSeconds = &v
	}
	return out
}

func sessionEqual(a, b Session) bool {
	if !timePtrEqual(a.StartsAt, b.StartsAt) || !timePtrEqual(a.EndsAt, b.EndsAt) {
		return false
	}
	if (a.RemainingSeconds == nil) != (b.RemainingSeconds == nil) {
		return false
	}
	if a.RemainingSeconds != nil && *a.RemainingSeconds != *b.RemainingSeconds {
		return false
	}
	a.StartsAt, a.EndsAt, a.RemainingSeconds = nil, nil, nil
	b.StartsAt, b.EndsAt, b.RemainingSeconds = nil, nil, nil
	return a == b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
