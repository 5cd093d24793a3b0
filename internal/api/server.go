package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockticker/internal/apperr"
	"stockticker/internal/auth"
	"stockticker/internal/events"
	"stockticker/internal/game"
	"stockticker/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxEventHistory = 200

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Token  string
}

// Verifier resolves a bearer token to the calling user.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, token string) (auth.User, error)
}

// History returns the most recent published events of a session.
type History interface {
	History(ctx context.Context, sessionID string, n int64) ([]events.Envelope, error)
}

type Server struct {
	log     *slog.Logger
	auth    Verifier
	game    *game.Service
	history History
	mux     *chi.Mux
}

// New builds the HTTP surface. history may be nil, in which case the events
// endpoint answers 404.
func New(logger *slog.Logger, verifier Verifier, gameSvc *game.Service, history History) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:     logger,
		auth:    verifier,
		game:    gameSvc,
		history: history,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/me", s.handleMe)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/join", s.handleJoinSession)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/me", s.handleGetPlayer)
			r.Get("/trades", s.handleListTrades)
			r.Get("/events", s.handleListEvents)

			r.Post("/start", s.sessionAction(s.game.StartSession))
			r.Post("/pause", s.sessionAction(s.game.PauseSession))
			r.Post("/leave", s.sessionAction(s.game.LeaveSession))
			r.Post("/end-turn", s.sessionAction(s.game.EndTurn))
			r.Post("/roll", s.handleRoll)
			r.Post("/buy", s.handleTrade(s.game.BuyShares))
			r.Post("/sell", s.handleTrade(s.game.SellShares))
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.UserID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var statuses []model.SessionStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := model.SessionStatus(strings.TrimSpace(part))
			switch status {
			case model.StatusWaiting, model.StatusInProgress, model.StatusPaused, model.StatusCompleted:
				statuses = append(statuses, status)
			default:
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
		}
	}
	out, err := s.game.ListSessions(r.Context(), statuses)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name            string `json:"name"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.CreateSession(r.Context(), game.CreateSessionInput{
		Name:            in.Name,
		DurationMinutes: in.DurationMinutes,
		HostUserID:      user.UserID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": out})
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		InviteCode string `json:"invite_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.JoinSession(r.Context(), in.InviteCode, user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.GetPlayer(r.Context(), chi.URLParam(r, "id"), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.ListTrades(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "event history is not enabled")
		return
	}
	sessionID := chi.URLParam(r, "id")
	if _, err := s.game.GetSession(r.Context(), sessionID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 || limit > maxEventHistory {
		limit = maxEventHistory
	}
	out, err := s.history.History(r.Context(), sessionID, int64(limit))
	if err != nil {
		s.log.Error("read event history", "session_id", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong, please try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// sessionAction adapts an engine command that takes (session, user) and
// returns the updated session.
func (s *Server) sessionAction(fn func(ctx context.Context, sessionID, userID string) (model.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		out, err := fn(r.Context(), chi.URLParam(r, "id"), user.UserID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": out})
	}
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.RollDice(r.Context(), chi.URLParam(r, "id"), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrade(fn func(ctx context.Context, in game.TradeInput) (game.TradeResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		var in struct {
			InstrumentID string `json:"instrument_id"`
			Lots         int64  `json:"lots"`
		}
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, err := fn(r.Context(), game.TradeInput{
			SessionID:    chi.URLParam(r, "id"),
			UserID:       user.UserID,
			InstrumentID: strings.TrimSpace(in.InstrumentID),
			Lots:         in.Lots,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	default:
		s.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]any{"errors": apperr.Messages(err)})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"errors": []string{strings.TrimSpace(message)}})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
