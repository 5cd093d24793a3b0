package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockticker/internal/events"
	"stockticker/internal/game"
	"stockticker/internal/model"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx response. Messages holds the server's "errors" list.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return strings.Join(e.Messages, "; ")
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Me(ctx context.Context, accessToken string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", accessToken, nil, &out)
	return out.UserID, err
}

func (c *Client) CreateSession(ctx context.Context, accessToken, name string, durationMinutes int) (model.Session, error) {
	var out struct {
		Session model.Session `json:"session"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sessions", accessToken, map[string]any{
		"name":             name,
		"duration_minutes": durationMinutes,
	}, &out)
	return out.Session, err
}

func (c *Client) ListSessions(ctx context.Context, accessToken string, statuses ...model.SessionStatus) ([]model.Session, error) {
	path := "/v1/sessions"
	if len(statuses) > 0 {
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, string(s))
		}
		path += "?status=" + url.QueryEscape(strings.Join(parts, ","))
	}
	var out struct {
		Sessions []model.Session `json:"sessions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out)
	return out.Sessions, err
}

func (c *Client) JoinSession(ctx context.Context, accessToken, inviteCode string) (game.JoinResult, error) {
	var out game.JoinResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sessions/join", accessToken, map[string]any{
		"invite_code": inviteCode,
	}, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, accessToken, sessionID string) (game.SessionView, error) {
	var out game.SessionView
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(sessionID, ""), accessToken, nil, &out)
	return out, err
}

// Action posts one of the session commands that only need the caller:
// start, pause, leave or end-turn.
func (c *Client) Action(ctx context.Context, accessToken, sessionID, action string) (model.Session, error) {
	var out struct {
		Session model.Session `json:"session"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(sessionID, action), accessToken, nil, &out)
	return out.Session, err
}

func (c *Client) Roll(ctx context.Context, accessToken, sessionID string) (game.RollResult, error) {
	var out game.RollResult
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(sessionID, "roll"), accessToken, nil, &out)
	return out, err
}

// Trade places a buy or sell of lots on an instrument.
func (c *Client) Trade(ctx context.Context, accessToken, sessionID, side, instrumentID string, lots int64) (game.TradeResult, error) {
	var out game.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(sessionID, side), accessToken, map[string]any{
		"instrument_id": instrumentID,
		"lots":          lots,
	}, &out)
	return out, err
}

func (c *Client) Player(ctx context.Context, accessToken, sessionID string) (game.PlayerView, error) {
	var out game.PlayerView
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(sessionID, "me"), accessToken, nil, &out)
	return out, err
}

func (c *Client) Trades(ctx context.Context, accessToken, sessionID string, limit, offset int) ([]model.Trade, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out struct {
		Trades []model.Trade `json:"trades"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(sessionID, "trades")+"?"+q.Encode(), accessToken, nil, &out)
	return out.Trades, err
}

func (c *Client) Events(ctx context.Context, accessToken, sessionID string, limit int) ([]events.Envelope, error) {
	var out struct {
		Events []events.Envelope `json:"events"`
	}
	path := gamePath(sessionID, "events") + "?limit=" + strconv.Itoa(limit)
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out)
	return out.Events, err
}

func gamePath(sessionID, action string) string {
	path := "/v1/sessions/" + url.PathEscape(sessionID)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed struct {
			Errors []string `json:"errors"`
		}
		if json.Unmarshal(raw, &parsed) == nil {
			apiErr.Messages = parsed.Errors
		}
		if len(apiErr.Messages) == 0 && len(bytes.TrimSpace(raw)) > 0 {
			apiErr.Messages = []string{strings.TrimSpace(string(raw))}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
