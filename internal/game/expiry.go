package game

import (
	"context"
	"sync"
	"time"

	"stockticker/internal/clock"
	"stockticker/internal/model"
)

const expireTimeout = 10 * time.Second

type armed struct {
	timer clock.Timer
	at    time.Time
	gen   uint64
}

// timers holds at most one expiry timer per session.
type timers struct {
	clock clock.Clock
	mu    sync.Mutex
	gen   uint64
	byID  map[string]armed
}

func newTimers(c clock.Clock) *timers {
	return &timers{clock: c, byID: make(map[string]armed)}
}

func (t *timers) arm(sessionID string, at time.Time, fire func()) {
	t.mu.Lock()
	if prev, ok := t.byID[sessionID]; ok {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	// Register before scheduling so a timer that fires immediately finds
	// its own entry.
	entry := armed{at: at, gen: gen}
	t.byID[sessionID] = entry
	t.mu.Unlock()

	timer := t.clock.AfterFunc(at.Sub(t.clock.Now()), func() {
		t.fired(sessionID, gen)
		fire()
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byID[sessionID]; ok && cur.gen == gen {
		cur.timer = timer
		t.byID[sessionID] = cur
	}
}

func (t *timers) fired(sessionID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byID[sessionID]; ok && cur.gen == gen {
		delete(t.byID, sessionID)
	}
}

func (t *timers) disarm(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byID[sessionID]; ok {
		if cur.timer != nil {
			cur.timer.Stop()
		}
		delete(t.byID, sessionID)
	}
}

func (t *timers) deadline(sessionID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.byID[sessionID]
	return cur.at, ok
}

func (t *timers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cur := range t.byID {
		if cur.timer != nil {
			cur.timer.Stop()
		}
		delete(t.byID, id)
	}
}

func (s *Service) armExpiry(sessionID string, at time.Time) {
	s.timers.arm(sessionID, at, func() {
		ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
		defer cancel()
		if _, err := s.Expire(ctx, sessionID); err != nil {
			s.log.Error("expire session", "session_id", sessionID, "err", err)
		}
	})
}

// expiryDeadline reports when the session's armed timer will fire.
func (s *Service) expiryDeadline(sessionID string) (time.Time, bool) {
	return s.timers.deadline(sessionID)
}

// Expire completes an in-progress session whose deadline has passed and
// publishes the final rankings. It reports whether the session completed;
// stale or duplicate calls are no-ops.
func (s *Service) Expire(ctx context.Context, sessionID string) (bool, error) {
	completed := false
	_, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		if !model.Expired(tx.st.Session, tx.now) {
			return nil
		}
		tx.st.Session.Status = model.StatusCompleted
		tx.disarm = true
		completed = true
		tx.publish(EventGameEnded, GameEndedPayload{Session: tx.st.Session, Rankings: tx.st.Rankings()})
		return nil
	})
	if err != nil {
		return false, err
	}
	if completed {
		s.log.Info("session completed", "session_id", sessionID)
	}
	return completed, nil
}

// RearmTimers schedules expiry for every in-progress session, completing
// overdue ones immediately. It returns how many timers were armed.
func (s *Service) RearmTimers(ctx context.Context) (int, error) {
	sessions, err := s.store.ListSessions(ctx, []model.SessionStatus{model.StatusInProgress})
	if err != nil {
		return 0, internal("list sessions", err)
	}
	now := s.clock.Now()
	armedCount := 0
	for _, sess := range sessions {
		if sess.EndsAt == nil {
			continue
		}
		if model.Expired(sess, now) {
			if _, err := s.Expire(ctx, sess.ID); err != nil {
				s.log.Error("expire overdue session", "session_id", sess.ID, "err", err)
			}
			continue
		}
		s.armExpiry(sess.ID, *sess.EndsAt)
		armedCount++
	}
	return armedCount, nil
}

// Sweep completes every in-progress session whose deadline has passed. It
// backs up the in-process timers, which are lost when a process exits.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	sessions, err := s.store.ListSessions(ctx, []model.SessionStatus{model.StatusInProgress})
	if err != nil {
		return 0, internal("list sessions", err)
	}
	now := s.clock.Now()
	completed := 0
	for _, sess := range sessions {
		if !model.Expired(sess, now) {
			continue
		}
		ok, err := s.Expire(ctx, sess.ID)
		if err != nil {
			s.log.Error("sweep session", "session_id", sess.ID, "err", err)
			continue
		}
		if ok {
			completed++
		}
	}
	return completed, nil
}
