// Package model holds the session engine's data types, the pure rules over
// them, and State, the in-memory snapshot every operation mutates.
package model

import "time"

type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
)

type PlayerStatus string

const (
	PlayerActive  PlayerStatus = "active"
	PlayerDropped PlayerStatus = "dropped"
)

type Direction string

const (
	DirectionUp       Direction = "up"
	DirectionDown     Direction = "down"
	DirectionDividend Direction = "dividend"
)

type TradeType string

const (
	TradeBuy            TradeType = "buy"
	TradeSell           TradeType = "sell"
	TradeDividend       TradeType = "dividend"
	TradeSplit          TradeType = "split"
	TradeWorthlessReset TradeType = "worthless_reset"
)

type EventType string

const (
	EventUp       EventType = "up"
	EventDown     EventType = "down"
	EventSplit    EventType = "split"
	EventCrash    EventType = "crash"
	EventDividend EventType = "dividend"
)

type Session struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	InviteCode      string        `json:"invite_code"`
	Status          SessionStatus `json:"status"`
	DurationMinutes int           `json:"duration_minutes"`
	StartsAt        *time.Time    `json:"starts_at,omitempty"`
	EndsAt          *time.Time    `json:"ends_at,omitempty"`
	// Set only while paused.
	RemainingSeconds *int64    `json:"remaining_seconds,omitempty"`
	CurrentTurn      int64     `json:"current_turn"`
	HostUserID       string    `json:"host_user_id"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Player struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	UserID       string       `json:"user_id"`
	Cash         int64        `json:"cash"`
	Status       PlayerStatus `json:"status"`
	TurnPosition int          `json:"turn_position"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Instrument is a session's copy of a catalog stock. Price is in cents.
type Instrument struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Position  int       `json:"position"`
	Price     int64     `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Holding struct {
	PlayerID     string    `json:"player_id"`
	InstrumentID string    `json:"instrument_id"`
	Quantity     int64     `json:"quantity"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type DiceRoll struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	PlayerID     string    `json:"player_id"`
	InstrumentID string    `json:"instrument_id"`
	TurnNumber   int64     `json:"turn_number"`
	Direction    Direction `json:"direction"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// Trade is an immutable ledger entry. Seq orders entries within a session.
type Trade struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	PlayerID     string    `json:"player_id"`
	InstrumentID string    `json:"instrument_id"`
	Seq          int64     `json:"seq"`
	Type         TradeType `json:"type"`
	Quantity     int64     `json:"quantity"`
	PriceAtTime  int64     `json:"price_at_time"`
	TotalAmount  int64     `json:"total_amount"`
	TurnNumber   int64     `json:"turn_number"`
	CreatedAt    time.Time `json:"created_at"`
}

// MarketEvent describes one visible effect of a roll.
type MarketEvent struct {
	Type         EventType `json:"event_type"`
	InstrumentID string    `json:"instrument_id"`
	Symbol       string    `json:"stock_symbol"`
	Message      string    `json:"message"`
}

type Ranking struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	UserID   string `json:"user_id"`
	NetWorth int64  `json:"net_worth"`
}
