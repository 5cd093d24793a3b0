package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stockticker/internal/catalog"
	"stockticker/internal/events"
	"stockticker/internal/game"
	"stockticker/internal/model"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var (
	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	youStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptSymbol(label string) (string, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol, err := parseSymbol(text)
		if err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

// parseSymbol accepts a catalog symbol in any case.
func parseSymbol(text string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(text))
	if _, ok := catalog.Lookup(symbol); ok {
		return symbol, nil
	}
	known := make([]string, 0, 6)
	for _, s := range catalog.Stocks() {
		known = append(known, s.Symbol)
	}
	return "", fmt.Errorf("unknown symbol %q (one of %s)", symbol, strings.Join(known, ", "))
}

func renderSessions(sessions []model.Session, currentID string) {
	accent.Println("\n== GAMES ==")
	if len(sessions) == 0 {
		printInfo("No games found.")
		return
	}
	fmt.Printf("%-2s %-36s %-20s %-12s %-8s %8s\n", "", "ID", "NAME", "STATUS", "INVITE", "MINUTES")
	for _, s := range sessions {
		marker := ""
		if s.ID == currentID {
			marker = "*"
		}
		fmt.Printf("%-2s %-36s %-20s %-12s %-8s %8d\n",
			marker,
			truncate(s.ID, 36),
			truncate(s.Name, 20),
			s.Status,
			s.InviteCode,
			s.DurationMinutes,
		)
	}
	fmt.Println()
}

func renderSessionLine(s model.Session) {
	line := fmt.Sprintf("%s  [%s]  turn %d", s.Name, s.Status, s.CurrentTurn)
	if s.RemainingSeconds != nil {
		line += "  " + formatClock(*s.RemainingSeconds) + " left"
	}
	printInfo(line)
}

// renderBoard draws prices and standings in a bordered box. The caller's
// row is highlighted.
func renderBoard(view game.SessionView, userID string) string {
	var b strings.Builder

	s := view.Session
	header := fmt.Sprintf("%s  [%s]  turn %d", s.Name, s.Status, s.CurrentTurn)
	if s.Status == model.StatusInProgress || s.Status == model.StatusPaused {
		header += "  " + formatClock(view.RemainingSeconds) + " left"
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")

	users := make(map[string]string, len(view.Players))
	for _, p := range view.Players {
		users[p.ID] = p.UserID
	}
	if active, ok := users[view.ActivePlayerID]; ok && s.Status == model.StatusInProgress {
		b.WriteString(fmt.Sprintf("Active: %s (%d rolls left)\n", active, view.RollsRemaining))
	} else if s.Status == model.StatusWaiting {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Waiting for the host. Invite code %s", s.InviteCode)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-6s %-12s %7s  %s", "SYMBOL", "NAME", "PRICE", "")))
	b.WriteString("\n")
	for _, inst := range view.Instruments {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(inst.Color))
		b.WriteString(fmt.Sprintf("%-6s %-12s %7s  %s\n",
			swatch.Render(fmt.Sprintf("%-6s", inst.Symbol)),
			truncate(inst.Name, 12),
			model.FormatCents(inst.Price),
			swatch.Render(priceBar(inst.Price)),
		))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-16s %-8s %10s %12s", "PLAYER", "STATUS", "CASH", "NET WORTH")))
	for _, p := range view.Players {
		row := fmt.Sprintf("%-16s %-8s %10s %12s",
			truncate(p.UserID, 16),
			p.Status,
			formatDollars(p.Cash),
			formatDollars(p.NetWorth),
		)
		if p.UserID == userID {
			row = youStyle.Render(row)
		}
		b.WriteString("\n")
		b.WriteString(row)
	}

	if len(view.Rankings) > 0 {
		b.WriteString("\n\n")
		b.WriteString(titleStyle.Render("Final standings"))
		for _, r := range view.Rankings {
			b.WriteString(fmt.Sprintf("\n#%d %-16s %12s", r.Rank, truncate(r.UserID, 16), formatDollars(r.NetWorth)))
		}
	}
	return boardStyle.Render(b.String())
}

// priceBar is one block per 10 cents, so the ceiling fills 20.
func priceBar(cents int64) string {
	n := int(cents / 10)
	if n < 0 {
		n = 0
	}
	return strings.Repeat("█", n)
}

func renderPlayer(p game.PlayerView) {
	accent.Printf("\n== %s ==\n", p.UserID)
	fmt.Printf("Status:     %s\n", p.Status)
	fmt.Printf("Cash:       %s\n", formatDollars(p.Cash))
	fmt.Printf("Net Worth:  %s\n", formatDollars(p.NetWorth))
	fmt.Printf("P/L:        %s\n", colorizeDollars(p.NetWorth-model.StartingCash))

	fmt.Println()
	accent.Println("Positions")
	if len(p.Positions) == 0 {
		printInfo("No open positions.")
		fmt.Println()
		return
	}
	fmt.Printf("%-8s %10s %12s\n", "SYMBOL", "SHARES", "VALUE")
	for _, pos := range p.Positions {
		fmt.Printf("%-8s %10s %12s\n", pos.Symbol, comma(pos.Quantity), formatDollars(pos.Value))
	}
	fmt.Println()
}

func renderRoll(out game.RollResult) {
	accent.Println("\n== ROLL ==")
	for _, e := range out.Events {
		eventColor(e.Type).Println(e.Message)
	}
	fmt.Printf("Rolls remaining this turn: %d\n", out.RollsRemaining)
	if out.Session.Status == model.StatusCompleted {
		printWarn("The game is over.")
	}
	fmt.Println()
}

func renderTrade(out game.TradeResult, inst model.Instrument) {
	t := out.Trade
	accent.Printf("\n== %s %s ==\n", strings.ToUpper(string(t.Type)), inst.Symbol)
	fmt.Printf("Shares:  %s\n", comma(t.Quantity))
	fmt.Printf("Price:   %s\n", model.FormatCents(t.PriceAtTime))
	fmt.Printf("Total:   %s\n", formatDollars(t.TotalAmount))
	fmt.Printf("Cash:    %s\n", formatDollars(out.Player.Cash))
	fmt.Println()
}

func renderTrades(trades []model.Trade, view game.SessionView) {
	accent.Println("\n== TRADES ==")
	if len(trades) == 0 {
		printInfo("No trades yet.")
		return
	}
	symbols := make(map[string]string, len(view.Instruments))
	for _, inst := range view.Instruments {
		symbols[inst.ID] = inst.Symbol
	}
	users := make(map[string]string, len(view.Players))
	for _, p := range view.Players {
		users[p.ID] = p.UserID
	}
	fmt.Printf("%-5s %-5s %-16s %-16s %-6s %10s %7s %10s\n", "SEQ", "TURN", "PLAYER", "TYPE", "SYMBOL", "SHARES", "PRICE", "TOTAL")
	for _, t := range trades {
		fmt.Printf("%-5d %-5d %-16s %-16s %-6s %10s %7s %10s\n",
			t.Seq,
			t.TurnNumber,
			truncate(users[t.PlayerID], 16),
			t.Type,
			symbols[t.InstrumentID],
			comma(t.Quantity),
			model.FormatCents(t.PriceAtTime),
			formatDollars(t.TotalAmount),
		)
	}
	fmt.Println()
}

// describeEvent renders one history entry as a single line. Payloads
// arrive as decoded JSON, so they are re-decoded into their typed form.
func describeEvent(env events.Envelope) string {
	stamp := env.PublishedAt.Local().Format("15:04:05")
	return fmt.Sprintf("%s  %s", dimStyle.Render(stamp), eventText(env))
}

func eventText(env events.Envelope) string {
	switch env.Event {
	case game.EventGameStarted:
		return "Game started"
	case game.EventGamePaused:
		return "Game paused"
	case game.EventGameResumed:
		return "Game resumed"
	case game.EventTurnChanged:
		p, err := decodeInto[game.TurnChangedPayload](env.Payload)
		if err != nil || p.ActivePlayer == nil {
			return "Turn changed"
		}
		return fmt.Sprintf("Turn %d: %s to play", p.Session.CurrentTurn, p.ActivePlayer.UserID)
	case game.EventDiceRolled:
		p, err := decodeInto[game.DiceRolledPayload](env.Payload)
		if err != nil {
			return "Dice rolled"
		}
		msgs := make([]string, 0, len(p.Events))
		for _, e := range p.Events {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	case game.EventPriceUpdated:
		p, err := decodeInto[game.PriceUpdatedPayload](env.Payload)
		if err != nil {
			return "Price updated"
		}
		return eventColor(p.EventType).Sprint(p.Message)
	case game.EventGameEnded:
		p, err := decodeInto[game.GameEndedPayload](env.Payload)
		if err != nil || len(p.Rankings) == 0 {
			return "Game over"
		}
		winner := p.Rankings[0]
		return fmt.Sprintf("Game over. %s wins with %s", winner.UserID, formatDollars(winner.NetWorth))
	}
	return env.Event
}

func eventColor(kind model.EventType) *color.Color {
	switch kind {
	case model.EventUp, model.EventSplit, model.EventDividend:
		return success
	case model.EventDown:
		return warn
	case model.EventCrash:
		return danger
	default:
		return neutral
	}
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeDollars(v int64) string {
	text := formatDollars(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatDollars renders whole dollars, e.g. 5000 -> "$5,000".
func formatDollars(v int64) string {
	if v < 0 {
		return "-$" + comma(-v)
	}
	return "$" + comma(v)
}

func formatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
