package game

import "stockticker/internal/apperr"

// Rejections returned by the session engine. Each carries the message shown
// to players; compare with errors.Is.
var (
	ErrNotLoggedIn        = apperr.New(apperr.KindAuthorization, "You must be logged in")
	ErrSessionNotFound    = apperr.New(apperr.KindNotFound, "Game not found")
	ErrInstrumentNotFound = apperr.New(apperr.KindNotFound, "Stock not found in this game")

	ErrNameRequired    = apperr.New(apperr.KindValidation, "Name can't be blank")
	ErrInvalidDuration = apperr.New(apperr.KindValidation, "Duration must be greater than 0")

	ErrNotHostStart = apperr.New(apperr.KindAuthorization, "Only the host can start the game")
	ErrNotWaiting   = apperr.New(apperr.KindValidation, "Game is not in waiting status")

	ErrNotHostPause       = apperr.New(apperr.KindAuthorization, "Only the host can pause the game")
	ErrPauseNotInProgress = apperr.New(apperr.KindValidation, "Game must be in progress to pause")
	ErrPauseNotSolo       = apperr.New(apperr.KindValidation, "Only solo games can be paused")

	ErrCompleted     = apperr.New(apperr.KindValidation, "Game is already completed")
	ErrNotInProgress = apperr.New(apperr.KindValidation, "Game is not in progress")
	ErrNotInGame     = apperr.New(apperr.KindAuthorization, "You are not in this game")
	ErrNotYourTurn   = apperr.New(apperr.KindValidation, "It is not your turn")

	ErrRollsExhausted  = apperr.New(apperr.KindValidation, "You have already rolled 2 times this turn. Trade or end your turn.")
	ErrRollsIncomplete = apperr.New(apperr.KindValidation, "You must complete both rolls before trading")
	ErrEndTurnEarly    = apperr.New(apperr.KindValidation, "You must roll 2 times before ending your turn")

	ErrBusy     = apperr.New(apperr.KindConflict, "Game is busy, please try again")
	ErrConflict = apperr.New(apperr.KindConflict, "Game changed while you were acting, please try again")
)

func internal(msg string, err error) error {
	return apperr.Wrap(apperr.KindInternal, msg, err)
}
