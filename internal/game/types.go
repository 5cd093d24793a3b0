package game

import "stockticker/internal/model"

// Event names handed to the Publisher.
const (
	EventGameStarted  = "game_started"
	EventGamePaused   = "game_paused"
	EventGameResumed  = "game_resumed"
	EventTurnChanged  = "turn_changed"
	EventDiceRolled   = "dice_rolled"
	EventPriceUpdated = "game_stock_price_updated"
	EventGameEnded    = "game_ended"
)

type SessionPayload struct {
	Session model.Session `json:"session"`
}

type TurnChangedPayload struct {
	Session      model.Session `json:"session"`
	ActivePlayer *model.Player `json:"active_player"`
}

type DiceRolledPayload struct {
	Roll   model.DiceRoll      `json:"dice_roll"`
	Events []model.MarketEvent `json:"events"`
}

type PriceUpdatedPayload struct {
	Instrument model.Instrument `json:"game_stock"`
	EventType  model.EventType  `json:"event_type"`
	Message    string           `json:"message"`
}

type GameEndedPayload struct {
	Session  model.Session   `json:"session"`
	Rankings []model.Ranking `json:"rankings"`
}

type CreateSessionInput struct {
	Name            string
	DurationMinutes int
	HostUserID      string
}

type TradeInput struct {
	SessionID    string
	UserID       string
	InstrumentID string
	Lots         int64
}

type JoinResult struct {
	Session model.Session `json:"session"`
	Player  model.Player  `json:"player"`
}

type RollResult struct {
	Roll           model.DiceRoll      `json:"dice_roll"`
	Events         []model.MarketEvent `json:"events"`
	RollsRemaining int                 `json:"rolls_remaining"`
	Session        model.Session       `json:"session"`
}

type TradeResult struct {
	Player model.Player `json:"player"`
	Trade  model.Trade  `json:"trade"`
}

type PositionView struct {
	InstrumentID string `json:"instrument_id"`
	Symbol       string `json:"symbol"`
	Quantity     int64  `json:"quantity"`
	Value        int64  `json:"value"`
}

type PlayerView struct {
	model.Player
	NetWorth  int64          `json:"net_worth"`
	Positions []PositionView `json:"positions"`
}

// SessionView is a read-only snapshot with derived fields filled in.
type SessionView struct {
	Session          model.Session      `json:"session"`
	Players          []PlayerView       `json:"players"`
	Instruments      []model.Instrument `json:"instruments"`
	ActivePlayerID   string             `json:"active_player_id,omitempty"`
	RollsRemaining   int                `json:"rolls_remaining"`
	RemainingSeconds int64              `json:"remaining_seconds"`
	Rankings         []model.Ranking    `json:"rankings,omitempty"`
}
