package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stockticker/internal/auth"
	cl "stockticker/internal/cli"
	"stockticker/internal/config"
	"stockticker/internal/model"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const requestTimeout = 30 * time.Second

type rootOptions struct {
	cfg     config.CLIConfig
	apiBase string
	gameID  string
}

func main() {
	_ = config.LoadDotEnv()
	opts := &rootOptions{cfg: config.LoadCLIFromEnv()}

	root := &cobra.Command{
		Use:          "stk",
		Short:        "Stock Ticker CLI game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.apiBase, "api", opts.cfg.APIBaseURL, "API base URL")
	root.PersistentFlags().StringVarP(&opts.gameID, "game", "g", "", "game ID (defaults to the current game)")

	root.AddCommand(
		newTokenCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(),
		newGamesCmd(opts),
		newCreateCmd(opts),
		newJoinCmd(opts),
		newUseCmd(),
		newActionCmd(opts, "start", "start", "Start the game (host only)", "Game started."),
		newActionCmd(opts, "pause", "pause", "Pause the game (solo host only)", "Game paused."),
		newActionCmd(opts, "leave", "leave", "Leave the game", "You left the game."),
		newActionCmd(opts, "end", "end-turn", "End your turn", "Turn ended."),
		newShowCmd(opts),
		newMeCmd(opts),
		newRollCmd(opts),
		newTradeCmd(opts, "buy"),
		newTradeCmd(opts, "sell"),
		newTradesCmd(opts),
		newEventsCmd(opts),
		newInviteCmd(opts),
		newWatchCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (o *rootOptions) client() *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(o.apiBase), "/"))
}

// game resolves the game a command acts on: --game first, then the one
// saved by create, join or use.
func (o *rootOptions) game(sess cl.Session) (string, error) {
	if id := strings.TrimSpace(o.gameID); id != "" {
		return id, nil
	}
	if sess.GameID != "" {
		return sess.GameID, nil
	}
	return "", errors.New("no current game: run `stk create`, `stk join` or `stk use`, or pass --game")
}

func loginRequired() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Mint a development access token with the shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := auth.NewTokens(opts.cfg.TokenSecret, opts.cfg.TokenTTL)
			if err != nil {
				return fmt.Errorf("STOCKTICKER_TOKEN_SECRET: %w", err)
			}
			session, err := tokens.Issue(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if !save {
				fmt.Println(session.AccessToken)
				return nil
			}
			if err := cl.SaveSession(cl.Session{AccessToken: session.AccessToken, UserID: session.User.ID}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s.", session.User.ID))
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "save the token as the current login")
	return cmd
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login with an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptSecret("Access token")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			userID, err := opts.client().Me(ctx, token)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{AccessToken: token, UserID: userID}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Login successful. Playing as %s.", userID))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newGamesCmd(opts *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:     "games",
		Short:   "List games",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			var statuses []model.SessionStatus
			for _, s := range strings.Split(status, ",") {
				if s = strings.TrimSpace(s); s != "" {
					statuses = append(statuses, model.SessionStatus(s))
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().ListSessions(ctx, sess.AccessToken, statuses...)
			if err != nil {
				return err
			}
			renderSessions(out, sess.GameID)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses (default waiting,in_progress)")
	return cmd
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a game and become its host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			name := ""
			if len(args) > 0 {
				name = strings.TrimSpace(args[0])
			} else if name, err = promptRequired("Game name"); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().CreateSession(ctx, sess.AccessToken, name, minutes)
			if err != nil {
				return err
			}
			if err := cl.UseGame(out.ID); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Created %q (%d minutes).", out.Name, out.DurationMinutes))
			fmt.Printf("Invite code: %s\n", accent.Sprint(out.InviteCode))
			printInfo("Share the code, then run `stk start` when everyone has joined.")
			return nil
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 30, "game length in minutes")
	return cmd
}

func newJoinCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join [invite_code]",
		Short: "Join a game with its invite code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			code, err := inviteCodeFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().JoinSession(ctx, sess.AccessToken, code)
			if err != nil {
				return err
			}
			if err := cl.UseGame(out.Session.ID); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Joined %q. Cash: %s", out.Session.Name, formatDollars(out.Player.Cash)))
			return nil
		},
	}
}

func newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use GAME_ID",
		Short: "Set the current game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.UseGame(strings.TrimSpace(args[0])); err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			printSuccess("Current game set.")
			return nil
		},
	}
}

func newActionCmd(opts *rootOptions, use, action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().Action(ctx, sess.AccessToken, gameID, action)
			if err != nil {
				return err
			}
			printSuccess(done)
			renderSessionLine(out)
			return nil
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "show",
		Short:   "Show the board for the current game",
		Aliases: []string{"board"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			view, err := opts.client().GetSession(ctx, sess.AccessToken, gameID)
			if err != nil {
				return err
			}
			fmt.Println(renderBoard(view, sess.UserID))
			return nil
		},
	}
}

func newMeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your cash, positions and net worth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().Player(ctx, sess.AccessToken, gameID)
			if err != nil {
				return err
			}
			renderPlayer(out)
			return nil
		},
	}
}

func newRollCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roll",
		Short: "Roll the dice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().Roll(ctx, sess.AccessToken, gameID)
			if err != nil {
				return err
			}
			renderRoll(out)
			return nil
		},
	}
}

func newTradeCmd(opts *rootOptions, side string) *cobra.Command {
	return &cobra.Command{
		Use:   side + " [symbol] [lots]",
		Short: fmt.Sprintf("%s shares in lots of %d", strings.ToUpper(side[:1])+side[1:], model.LotSize),
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			lots, err := int64FromArgOrPrompt(args, 1, "Lots")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			client := opts.client()
			view, err := client.GetSession(ctx, sess.AccessToken, gameID)
			if err != nil {
				return err
			}
			inst, ok := instrumentBySymbol(view.Instruments, symbol)
			if !ok {
				return fmt.Errorf("%s is not traded in this game", symbol)
			}
			out, err := client.Trade(ctx, sess.AccessToken, gameID, side, inst.ID, lots)
			if err != nil {
				return err
			}
			renderTrade(out, inst)
			return nil
		},
	}
}

func newTradesCmd(opts *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the game's trade ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			client := opts.client()
			view, err := client.GetSession(ctx, sess.AccessToken, gameID)
			if err != nil {
				return err
			}
			trades, err := client.Trades(ctx, sess.AccessToken, gameID, limit, offset)
			if err != nil {
				return err
			}
			renderTrades(trades, view)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent game events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := opts.client().Events(ctx, sess.AccessToken, gameID, limit)
			if err != nil {
				return err
			}
			accent.Println("\n== EVENTS ==")
			if len(out) == 0 {
				printInfo("No events yet.")
				return nil
			}
			for _, env := range out {
				fmt.Println(describeEvent(env))
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "events to show")
	return cmd
}

func newInviteCmd(opts *rootOptions) *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Show the current game's invite code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			view, err := opts.client().GetSession(ctx, sess.AccessToken, gameID)
			if err != nil {
				return err
			}
			code := view.Session.InviteCode
			fmt.Printf("Invite code for %q: %s\n", view.Session.Name, accent.Sprint(code))
			fmt.Printf("Join with: stk join %s\n", code)
			if qr {
				qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", true, "also print the code as a QR code")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the current game live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loginRequired()
			if err != nil {
				return err
			}
			gameID, err := opts.game(sess)
			if err != nil {
				return err
			}
			if every < 500*time.Millisecond {
				every = 500 * time.Millisecond
			}
			return runWatch(cmd.Context(), opts.client(), sess, gameID, every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 2*time.Second, "refresh interval")
	return cmd
}

func instrumentBySymbol(instruments []model.Instrument, symbol string) (model.Instrument, bool) {
	for _, inst := range instruments {
		if strings.EqualFold(inst.Symbol, symbol) {
			return inst, true
		}
	}
	return model.Instrument{}, false
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func symbolFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return parseSymbol(args[0])
	}
	return promptSymbol("Symbol")
}

func inviteCodeFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.ToUpper(strings.TrimSpace(args[0])), nil
	}
	code, err := promptRequired("Invite code")
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(code)), nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
