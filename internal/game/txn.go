package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockticker/internal/model"
	"stockticker/internal/store"
)

type pendingEvent struct {
	name    string
	payload any
}

// txn is the working context of one mutation. Events and timer changes are
// collected here and only take effect once the change is committed.
type txn struct {
	st     *model.State
	now    time.Time
	events []pendingEvent
	arm    *time.Time
	disarm bool
}

func (tx *txn) publish(name string, payload any) {
	tx.events = append(tx.events, pendingEvent{name: name, payload: payload})
}

func (tx *txn) armAt(at time.Time) {
	tx.arm = &at
	tx.disarm = false
}

// turnChangedSince publishes turn_changed when a roster change moved the
// turn to someone else in a running session.
func (tx *txn) turnChangedSince(before model.Player, hadActive bool) {
	if tx.st.Session.Status != model.StatusInProgress {
		return
	}
	after, hasActive := tx.st.ActivePlayer()
	if hadActive == hasActive && before.ID == after.ID {
		return
	}
	tx.publish(EventTurnChanged, turnChanged(tx.st))
}

func turnChanged(st *model.State) TurnChangedPayload {
	out := TurnChangedPayload{Session: st.Session}
	if p, ok := st.ActivePlayer(); ok {
		out.ActivePlayer = &p
	}
	return out
}

// mutate runs fn against a fresh copy of the session while holding the
// session's lock, commits whatever fn changed, and then publishes the
// collected events. A rejected fn leaves storage untouched.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(tx *txn) error) (*model.State, error) {
	st, due, err := s.locked(ctx, sessionID, fn)
	if err != nil {
		return nil, err
	}
	if due {
		if _, err := s.Expire(ctx, sessionID); err != nil {
			s.log.Error("expire session", "session_id", sessionID, "err", err)
		}
	}
	return st, nil
}

// locked is the part of mutate that runs under the session lock. due
// reports a deadline that had already passed, to be expired once the lock
// is released.
func (s *Service) locked(ctx context.Context, sessionID string, fn func(tx *txn) error) (*model.State, bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.guard.Lock(lockCtx, sessionID)
	if err != nil {
		s.log.Warn("session busy", "session_id", sessionID, "err", err)
		return nil, false, ErrBusy
	}
	defer unlock()

	tx, err := s.run(ctx, sessionID, fn)
	if err != nil {
		return nil, false, err
	}
	for _, ev := range tx.events {
		s.publish(sessionID, ev)
	}

	// Timer changes happen under the lock so they apply in commit order.
	due := false
	switch {
	case tx.arm != nil && tx.arm.After(tx.now):
		s.armExpiry(sessionID, *tx.arm)
	case tx.arm != nil:
		s.timers.disarm(sessionID)
		due = true
	case tx.disarm:
		s.timers.disarm(sessionID)
	}
	return tx.st, due, nil
}

// publish hands one committed event to the publisher. The change is already
// stored, so a failing publisher is logged rather than reported.
func (s *Service) publish(sessionID string, ev pendingEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("publish event", "session_id", sessionID, "event", ev.name, "panic", r)
		}
	}()
	s.pub.Publish(sessionID, ev.name, ev.payload)
}

func (s *Service) run(ctx context.Context, sessionID string, fn func(tx *txn) error) (out *txn, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session command panicked", "session_id", sessionID, "panic", r)
			out, err = nil, internal("session command", fmt.Errorf("panic: %v", r))
		}
	}()

	st, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, internal("load session", err)
	}

	tx := &txn{st: st, now: s.clock.Now().UTC()}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if !st.Dirty() {
		return tx, nil
	}

	cs := st.ChangeSet(tx.now)
	if err := s.store.Commit(ctx, cs); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			s.log.Warn("session changed concurrently", "session_id", sessionID, "err", err)
			return nil, ErrConflict
		}
		s.log.Error("commit session", "session_id", sessionID, "err", err)
		return nil, internal("commit session", err)
	}
	st.Session.Version = cs.Session.Version
	st.Session.UpdatedAt = cs.Session.UpdatedAt
	st.Snapshot()
	return tx, nil
}
