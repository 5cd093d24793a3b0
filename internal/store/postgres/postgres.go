// Package postgres implements store.Store on PostgreSQL. Writes run in
// serializable transactions and are retried on serialization failures.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockticker/internal/model"
	"stockticker/internal/store"
)

const (
	maxAttempts      = 8
	firstRetryDelay  = 75 * time.Millisecond
	maxRetryDelay    = 1200 * time.Millisecond
	inviteConstraint = "sessions_invite_code_key"
)

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

func (s *Store) CreateSession(ctx context.Context, st *model.State) error {
	return s.serializable(ctx, func(tx pgx.Tx) error {
		sess := st.Session
		_, err := tx.Exec(ctx, `
			INSERT INTO ticker.sessions (id, name, invite_code, status, duration_minutes, starts_at, ends_at,
				remaining_seconds, current_turn, host_user_id, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, sess.ID, sess.Name, sess.InviteCode, sess.Status, sess.DurationMinutes, sess.StartsAt, sess.EndsAt,
			sess.RemainingSeconds, sess.CurrentTurn, sess.HostUserID, sess.Version, sess.CreatedAt, sess.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, inviteConstraint) {
				return store.ErrInviteCodeTaken
			}
			return err
		}

		b := &pgx.Batch{}
		for _, inst := range st.Instruments {
			queueInstrument(b, inst)
		}
		for _, p := range st.Players {
			queuePlayer(b, p)
		}
		for _, h := range st.Holdings {
			queueHolding(b, h)
		}
		return sendBatch(ctx, tx, b)
	})
}

func (s *Store) LoadSession(ctx context.Context, sessionID string) (*model.State, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	st := &model.State{}
	sess := &st.Session
	err = tx.QueryRow(ctx, `
		SELECT id, name, invite_code, status, duration_minutes, starts_at, ends_at, remaining_seconds,
			current_turn, host_user_id, version, created_at, updated_at
		FROM ticker.sessions
		WHERE id = $1
	`, sessionID).Scan(&sess.ID, &sess.Name, &sess.InviteCode, &sess.Status, &sess.DurationMinutes,
		&sess.StartsAt, &sess.EndsAt, &sess.RemainingSeconds, &sess.CurrentTurn, &sess.HostUserID,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if st.Players, err = loadPlayers(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	if st.Instruments, err = loadInstruments(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	if st.Holdings, err = loadHoldings(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	if st.TurnRolls, err = loadTurnRolls(ctx, tx, sessionID, sess.CurrentTurn); err != nil {
		return nil, err
	}
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM ticker.trades WHERE session_id = $1
	`, sessionID).Scan(&st.NextSeq); err != nil {
		return nil, fmt.Errorf("load trade seq: %w", err)
	}

	st.Snapshot()
	return st, nil
}

func (s *Store) FindSessionID(ctx context.Context, inviteCode string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `SELECT id FROM ticker.sessions WHERE invite_code = $1`, inviteCode).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return id, err
}

func (s *Store) Commit(ctx context.Context, cs model.ChangeSet) error {
	return s.serializable(ctx, func(tx pgx.Tx) error {
		sess := cs.Session
		tag, err := tx.Exec(ctx, `
			UPDATE ticker.sessions
			SET status = $3, starts_at = $4, ends_at = $5, remaining_seconds = $6, current_turn = $7,
				version = $8, updated_at = $9
			WHERE id = $1 AND version = $2
		`, sess.ID, cs.ExpectedVersion, sess.Status, sess.StartsAt, sess.EndsAt, sess.RemainingSeconds,
			sess.CurrentTurn, sess.Version, sess.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ticker.sessions WHERE id = $1)`, sess.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrVersionConflict
		}

		b := &pgx.Batch{}
		for _, p := range cs.Players {
			queuePlayer(b, p)
		}
		for _, inst := range cs.Instruments {
			queueInstrument(b, inst)
		}
		for _, h := range cs.Holdings {
			queueHolding(b, h)
		}
		for _, r := range cs.DiceRolls {
			b.Queue(`
				INSERT INTO ticker.dice_rolls (id, session_id, player_id, instrument_id, turn_number, direction, amount, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, r.ID, r.SessionID, r.PlayerID, r.InstrumentID, r.TurnNumber, r.Direction, r.Amount, r.CreatedAt)
		}
		for _, t := range cs.Trades {
			b.Queue(`
				INSERT INTO ticker.trades (id, session_id, player_id, instrument_id, seq, type, quantity,
					price_at_time, total_amount, turn_number, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, t.ID, t.SessionID, t.PlayerID, t.InstrumentID, t.Seq, t.Type, t.Quantity,
				t.PriceAtTime, t.TotalAmount, t.TurnNumber, t.CreatedAt)
		}
		return sendBatch(ctx, tx, b)
	})
}

func (s *Store) ListSessions(ctx context.Context, statuses []model.SessionStatus) ([]model.Session, error) {
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, invite_code, status, duration_minutes, starts_at, ends_at, remaining_seconds,
			current_turn, host_user_id, version, created_at, updated_at
		FROM ticker.sessions
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY created_at DESC, id DESC
	`, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.InviteCode, &sess.Status, &sess.DurationMinutes,
			&sess.StartsAt, &sess.EndsAt, &sess.RemainingSeconds, &sess.CurrentTurn, &sess.HostUserID,
			&sess.Version, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) ListTrades(ctx context.Context, sessionID string, limit, offset int) ([]model.Trade, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, player_id, instrument_id, seq, type, quantity, price_at_time, total_amount,
			turn_number, created_at
		FROM ticker.trades
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Trade, 0, limit)
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.SessionID, &t.PlayerID, &t.InstrumentID, &t.Seq, &t.Type, &t.Quantity,
			&t.PriceAtTime, &t.TotalAmount, &t.TurnNumber, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// serializable runs fn in a serializable transaction, retrying with
// backoff when Postgres reports a serialization failure.
func (s *Store) serializable(ctx context.Context, fn func(pgx.Tx) error) error {
	retryDelay := firstRetryDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		s.log.Warn("serialization failure, retrying", "attempt", attempt+1, "delay", retryDelay)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return fmt.Errorf("%w: serialization retries exhausted", store.ErrVersionConflict)
}

func queuePlayer(b *pgx.Batch, p model.Player) {
	b.Queue(`
		INSERT INTO ticker.players (id, session_id, user_id, cash, status, turn_position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET cash = EXCLUDED.cash, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, p.ID, p.SessionID, p.UserID, p.Cash, p.Status, p.TurnPosition, p.CreatedAt, p.UpdatedAt)
}

func queueInstrument(b *pgx.Batch, inst model.Instrument) {
	b.Queue(`
		INSERT INTO ticker.instruments (id, session_id, symbol, name, color, position, price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at
	`, inst.ID, inst.SessionID, inst.Symbol, inst.Name, inst.Color, inst.Position, inst.Price, inst.UpdatedAt)
}

func queueHolding(b *pgx.Batch, h model.Holding) {
	b.Queue(`
		INSERT INTO ticker.holdings (player_id, instrument_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id, instrument_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`, h.PlayerID, h.InstrumentID, h.Quantity, h.UpdatedAt)
}

func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func loadPlayers(ctx context.Context, tx pgx.Tx, sessionID string) ([]model.Player, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, session_id, user_id, cash, status, turn_position, created_at, updated_at
		FROM ticker.players
		WHERE session_id = $1
		ORDER BY turn_position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	var out []model.Player
	for rows.Next() {
		var p model.Player
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.Cash, &p.Status, &p.TurnPosition, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadInstruments(ctx context.Context, tx pgx.Tx, sessionID string) ([]model.Instrument, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, session_id, symbol, name, color, position, price, updated_at
		FROM ticker.instruments
		WHERE session_id = $1
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		if err := rows.Scan(&inst.ID, &inst.SessionID, &inst.Symbol, &inst.Name, &inst.Color, &inst.Position, &inst.Price, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func loadHoldings(ctx context.Context, tx pgx.Tx, sessionID string) ([]model.Holding, error) {
	rows, err := tx.Query(ctx, `
		SELECT h.player_id, h.instrument_id, h.quantity, h.updated_at
		FROM ticker.holdings h
		JOIN ticker.players p ON p.id = h.player_id
		WHERE p.session_id = $1
		ORDER BY p.turn_position, h.instrument_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.PlayerID, &h.InstrumentID, &h.Quantity, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func loadTurnRolls(ctx context.Context, tx pgx.Tx, sessionID string, turn int64) ([]model.DiceRoll, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, session_id, player_id, instrument_id, turn_number, direction, amount, created_at
		FROM ticker.dice_rolls
		WHERE session_id = $1 AND turn_number = $2
		ORDER BY created_at, id
	`, sessionID, turn)
	if err != nil {
		return nil, fmt.Errorf("load dice rolls: %w", err)
	}
	defer rows.Close()

	var out []model.DiceRoll
	for rows.Next() {
		var r model.DiceRoll
		if err := rows.Scan(&r.ID, &r.SessionID, &r.PlayerID, &r.InstrumentID, &r.TurnNumber, &r.Direction, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
