// Package store defines session persistence. A session is loaded as a
// model.State and written back as one atomic model.ChangeSet.
package store

import (
	"context"
	"errors"

	"stockticker/internal/model"
)

//go:generate mockgen -package=mocks -destination=mocks/mock_store.go stockticker/internal/store Store

var (
	ErrNotFound        = errors.New("session not found")
	ErrInviteCodeTaken = errors.New("invite code already in use")
	// ErrVersionConflict means the session changed since it was loaded.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store persists sessions. Implementations must apply CreateSession and
// Commit atomically: either every row in the write lands or none do.
type Store interface {
	// CreateSession inserts the session with its players and instruments.
	CreateSession(ctx context.Context, st *model.State) error
	// LoadSession returns a snapshotted State holding the dice rolled in
	// the current turn.
	LoadSession(ctx context.Context, sessionID string) (*model.State, error)
	FindSessionID(ctx context.Context, inviteCode string) (string, error)
	// Commit applies cs if the stored version still equals
	// cs.ExpectedVersion, else returns ErrVersionConflict.
	Commit(ctx context.Context, cs model.ChangeSet) error
	// ListSessions returns sessions in any of statuses, newest first.
	ListSessions(ctx context.Context, statuses []model.SessionStatus) ([]model.Session, error)
	// ListTrades returns a session's ledger newest first.
	ListTrades(ctx context.Context, sessionID string, limit, offset int) ([]model.Trade, error)
}
