package model

import (
	"fmt"
	"sort"
	"time"
)

const (
	StartingPrice     = int64(100) // cents
	PriceCeiling      = int64(200)
	DividendThreshold = int64(100)

	StartingCash = int64(5_000)
	LotSize      = int64(500)
	RollsPerTurn = 2
)

var (
	Directions = []Direction{DirectionUp, DirectionDown, DirectionDividend}
	Amounts    = []int64{5, 10, 20}
)

// Notional is the cash value of shares at a price in cents, truncated to
// whole currency units.
func Notional(shares, priceCents int64) int64 {
	return shares * priceCents / 100
}

// DividendPayout is quantity × price × amount% in whole currency units,
// rounded half away from zero.
func DividendPayout(quantity, priceCents, amount int64) int64 {
	v := quantity * priceCents * amount
	if v < 0 {
		return -((-v + 5_000) / 10_000)
	}
	return (v + 5_000) / 10_000
}

// Position is one holding valued at its instrument's current price.
type Position struct {
	Quantity   int64
	PriceCents int64
}

// NetWorth truncates each position's value before summing.
func NetWorth(cash int64, positions []Position) int64 {
	total := cash
	for _, p := range positions {
		total += Notional(p.Quantity, p.PriceCents)
	}
	return total
}

// ActivePlayer derives the player whose turn it is: the active players
// ordered by turn position, indexed by turn modulo their count. The result
// can shift when the roster changes mid-turn.
func ActivePlayer(players []Player, turn int64) (Player, bool) {
	active := make([]Player, 0, len(players))
	for _, p := range players {
		if p.Status == PlayerActive {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return Player{}, false
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].TurnPosition < active[j].TurnPosition
	})
	idx := turn % int64(len(active))
	if idx < 0 {
		idx += int64(len(active))
	}
	return active[idx], true
}

// Remaining returns the seconds left on the session clock.
func Remaining(s Session, now time.Time) int64 {
	switch {
	case s.Status == StatusPaused:
		if s.RemainingSeconds == nil {
			return 0
		}
		return *s.RemainingSeconds
	case s.Status == StatusCompleted, s.EndsAt == nil:
		return 0
	}
	left := int64(s.EndsAt.Sub(now) / time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether an in-progress session's deadline has passed.
func Expired(s Session, now time.Time) bool {
	return s.Status == StatusInProgress && s.EndsAt != nil && !s.EndsAt.After(now)
}

// FormatCents renders a cent amount as dollars, e.g. 120 -> "$1.20".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
