// Package apperr defines the error taxonomy shared by the engine and its
// transports. Every rejection carries a Kind and a user-facing message.
package apperr

import "errors"

// Kind classifies an error for callers that need to map it to a transport
// status.
type Kind int

const (
	// KindInternal is a persistence or infrastructure failure.
	KindInternal Kind = iota
	// KindValidation is a failed precondition such as trading out of turn.
	KindValidation
	// KindNotFound is an unknown session, invite code or instrument.
	KindNotFound
	// KindAuthorization is a caller who is not the host or not a participant.
	KindAuthorization
	// KindConflict is lost contention for a session; the caller may retry.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error with a message safe to show to players.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around an underlying cause. The cause is
// kept for logging and never shown in Message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf reports the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Messages returns the user-facing messages for err. Internal failures are
// reduced to a generic message so storage details never leak.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return []string{"Something went wrong, please try again"}
	}
	return []string{err.Error()}
}
