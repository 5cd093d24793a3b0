// Package game is the session engine. It owns the session lifecycle, turn
// order and roll gating, and drives the market and ledger under a
// per-session lock.
package game

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"stockticker/internal/catalog"
	"stockticker/internal/clock"
	"stockticker/internal/dice"
	"stockticker/internal/guard"
	"stockticker/internal/ids"
	"stockticker/internal/ledger"
	"stockticker/internal/market"
	"stockticker/internal/model"
	"stockticker/internal/store"
)

const inviteCodeAttempts = 5

// Config wires the engine's collaborators. Only Store is required.
type Config struct {
	Store     store.Store
	Publisher Publisher
	Clock     clock.Clock
	Roller    dice.Roller
	IDs       ids.Generator
	// InviteCodes generates candidate invite codes; the store rejects
	// duplicates and creation retries.
	InviteCodes func() (string, error)
	Logger      *slog.Logger
	// LockTimeout bounds the wait for a busy session. Zero means 5s.
	LockTimeout time.Duration
}

type Service struct {
	store       store.Store
	pub         Publisher
	clock       clock.Clock
	ids         ids.Generator
	inviteCodes func() (string, error)
	log         *slog.Logger
	lockTimeout time.Duration

	guard  *guard.Keyed
	market *market.Simulator
	ledger *ledger.Ledger
	timers *timers
}

func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	s := &Service{
		store:       cfg.Store,
		pub:         cfg.Publisher,
		clock:       cfg.Clock,
		ids:         cfg.IDs,
		inviteCodes: cfg.InviteCodes,
		log:         cfg.Logger,
		lockTimeout: cfg.LockTimeout,
		guard:       guard.NewKeyed(),
	}
	if s.pub == nil {
		s.pub = nopPublisher{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.ids == nil {
		s.ids = ids.UUID{}
	}
	if s.inviteCodes == nil {
		s.inviteCodes = ids.NewInviteCode
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = 5 * time.Second
	}
	roller := cfg.Roller
	if roller == nil {
		roller = dice.New(nil)
	}
	s.market = market.New(roller, s.ids)
	s.ledger = ledger.New(s.ids)
	s.timers = newTimers(s.clock)
	return s, nil
}

// Close cancels every armed expiry timer.
func (s *Service) Close() {
	s.timers.stopAll()
}

// CreateSession creates a waiting session with one instrument per catalog
// stock and the host seated at turn position 0.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (model.Session, error) {
	if in.HostUserID == "" {
		return model.Session{}, ErrNotLoggedIn
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Session{}, ErrNameRequired
	}
	if in.DurationMinutes <= 0 {
		return model.Session{}, ErrInvalidDuration
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := s.inviteCodes()
		if err != nil {
			return model.Session{}, internal("generate invite code", err)
		}
		st := s.newSessionState(name, in.DurationMinutes, in.HostUserID, code)
		err = s.store.CreateSession(ctx, st)
		if err == nil {
			s.log.Info("session created", "session_id", st.Session.ID, "host_user_id", in.HostUserID)
			return st.Session, nil
		}
		if !errors.Is(err, store.ErrInviteCodeTaken) {
			return model.Session{}, internal("create session", err)
		}
		s.log.Warn("invite code collision, retrying", "attempt", attempt+1)
	}
	return model.Session{}, internal("create session", store.ErrInviteCodeTaken)
}

func (s *Service) newSessionState(name string, duration int, hostUserID, code string) *model.State {
	now := s.clock.Now().UTC()
	sessionID := s.ids.NewID()
	st := &model.State{
		Session: model.Session{
			ID:              sessionID,
			Name:            name,
			InviteCode:      code,
			Status:          model.StatusWaiting,
			DurationMinutes: duration,
			HostUserID:      hostUserID,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		NextSeq: 1,
	}
	for i, stock := range catalog.Stocks() {
		st.Instruments = append(st.Instruments, model.Instrument{
			ID:        s.ids.NewID(),
			SessionID: sessionID,
			Symbol:    stock.Symbol,
			Name:      stock.Name,
			Color:     stock.Color,
			Position:  i,
			Price:     model.StartingPrice,
			UpdatedAt: now,
		})
	}
	st.AddPlayer(s.newPlayer(sessionID, hostUserID, now))
	return st
}

func (s *Service) newPlayer(sessionID, userID string, now time.Time) model.Player {
	return model.Player{
		ID:        s.ids.NewID(),
		SessionID: sessionID,
		UserID:    userID,
		Cash:      model.StartingCash,
		Status:    model.PlayerActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StartSession moves a waiting session into play and arms its clock.
func (s *Service) StartSession(ctx context.Context, sessionID, userID string) (model.Session, error) {
	if userID == "" {
		return model.Session{}, ErrNotLoggedIn
	}
	st, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		sess := &tx.st.Session
		if sess.HostUserID != userID {
			return ErrNotHostStart
		}
		if sess.Status != model.StatusWaiting {
			return ErrNotWaiting
		}
		starts := tx.now
		ends := starts.Add(time.Duration(sess.DurationMinutes) * time.Minute)
		sess.StartsAt = &starts
		sess.EndsAt = &ends
		sess.Status = model.StatusInProgress
		tx.armAt(ends)
		tx.publish(EventGameStarted, SessionPayload{Session: *sess})
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return st.Session, nil
}

// JoinSession seats userID in the session behind inviteCode. A returning
// player is reactivated, and a returning host resumes a paused session.
func (s *Service) JoinSession(ctx context.Context, inviteCode, userID string) (JoinResult, error) {
	if userID == "" {
		return JoinResult{}, ErrNotLoggedIn
	}
	code := ids.NormalizeInviteCode(inviteCode)
	if !ids.ValidInviteCode(code) {
		return JoinResult{}, ErrSessionNotFound
	}
	sessionID, err := s.store.FindSessionID(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return JoinResult{}, ErrSessionNotFound
		}
		return JoinResult{}, internal("find session", err)
	}

	var playerID string
	st, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		sess := &tx.st.Session
		if sess.Status == model.StatusCompleted {
			return ErrCompleted
		}
		before, hadActive := tx.st.ActivePlayer()

		p := tx.st.PlayerByUser(userID)
		if p == nil {
			p = tx.st.AddPlayer(s.newPlayer(sessionID, userID, tx.now))
		} else {
			if p.Status == model.PlayerDropped {
				p.Status = model.PlayerActive
			}
			if sess.Status == model.StatusPaused && sess.HostUserID == userID {
				s.resume(tx)
			}
		}
		playerID = p.ID
		tx.turnChangedSince(before, hadActive)
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	return JoinResult{Session: st.Session, Player: *st.Player(playerID)}, nil
}

func (s *Service) resume(tx *txn) {
	sess := &tx.st.Session
	var remaining int64
	if sess.RemainingSeconds != nil {
		remaining = *sess.RemainingSeconds
	}
	ends := tx.now.Add(time.Duration(remaining) * time.Second)
	sess.EndsAt = &ends
	sess.RemainingSeconds = nil
	sess.Status = model.StatusInProgress
	tx.armAt(ends)
	tx.publish(EventGameResumed, SessionPayload{Session: *sess})
}

// LeaveSession drops the caller from the turn rotation. The player keeps
// their seat, cash and holdings.
func (s *Service) LeaveSession(ctx context.Context, sessionID, userID string) (model.Session, error) {
	if userID == "" {
		return model.Session{}, ErrNotLoggedIn
	}
	st, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		p := tx.st.PlayerByUser(userID)
		if p == nil {
			return ErrNotInGame
		}
		before, hadActive := tx.st.ActivePlayer()
		p.Status = model.PlayerDropped
		tx.turnChangedSince(before, hadActive)
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return st.Session, nil
}

// PauseSession freezes the clock of a solo in-progress session.
func (s *Service) PauseSession(ctx context.Context, sessionID, userID string) (model.Session, error) {
	if userID == "" {
		return model.Session{}, ErrNotLoggedIn
	}
	st, err := s.mutate(ctx, sessionID, func(tx *txn) error {
		sess := &tx.st.Session
		if sess.HostUserID != userID {
			return ErrNotHostPause
		}
		if sess.Status != model.StatusInProgress {
			return ErrPauseNotInProgress
		}
		if tx.st.ActiveCount() != 1 {
			return ErrPauseNotSolo
		}
		remaining := model.Remaining(*sess, tx.now)
		sess.RemainingSeconds = &remaining
		sess.EndsAt = nil
		sess.Status = model.StatusPaused
		tx.disarm = true
		tx.publish(EventGamePaused, SessionPayload{Session: *sess})
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	return st.Session, nil
}
