package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cl "stockticker/internal/cli"
	"stockticker/internal/events"
	"stockticker/internal/game"
	"stockticker/internal/model"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const watchEvents = 8

type snapshotMsg struct {
	view   game.SessionView
	events []events.Envelope
	err    error
}

type refreshMsg time.Time

// watchModel polls the board and the event history and redraws both.
type watchModel struct {
	ctx     context.Context
	client  *cl.Client
	sess    cl.Session
	gameID  string
	every   time.Duration
	spinner spinner.Model

	view    *game.SessionView
	events  []events.Envelope
	err     error
	stopped bool
}

func runWatch(ctx context.Context, client *cl.Client, sess cl.Session, gameID string, every time.Duration) error {
	m := watchModel{
		ctx:     ctx,
		client:  client,
		sess:    sess,
		gameID:  gameID,
		every:   every,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
		defer cancel()
		view, err := m.client.GetSession(ctx, m.sess.AccessToken, m.gameID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		evs, err := m.client.Events(ctx, m.sess.AccessToken, m.gameID, watchEvents)
		var apiErr *cl.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			// History is off on servers without Redis.
			err = nil
		}
		return snapshotMsg{view: view, events: evs, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			view := msg.view
			m.view = &view
			m.events = msg.events
			if view.Session.Status == model.StatusCompleted {
				m.stopped = true
				return m, nil
			}
		}
		return m, tea.Tick(m.every, func(t time.Time) tea.Msg { return refreshMsg(t) })
	case refreshMsg:
		if m.stopped {
			return m, nil
		}
		return m, m.fetch()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	if m.view == nil && m.err == nil {
		b.WriteString(m.spinner.View() + " loading game...\n")
		return b.String()
	}
	if m.view != nil {
		b.WriteString(renderBoard(*m.view, m.sess.UserID))
		b.WriteString("\n")
	}
	if len(m.events) > 0 {
		b.WriteString(titleStyle.Render("Recent events"))
		b.WriteString("\n")
		for _, env := range m.events {
			b.WriteString(describeEvent(env))
			b.WriteString("\n")
		}
	}
	if m.err != nil {
		b.WriteString(danger.Sprint(m.err.Error()))
		b.WriteString("\n")
	}
	status := fmt.Sprintf("%s refreshing every %s", m.spinner.View(), m.every)
	if m.stopped {
		status = "game over"
	}
	b.WriteString(dimStyle.Render(status + "  ·  r refresh  ·  q quit"))
	b.WriteString("\n")
	return b.String()
}
