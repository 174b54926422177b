package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satsplay/tictac/internal/api"
	"github.com/satsplay/tictac/internal/channel"
	"github.com/satsplay/tictac/internal/config"
	"github.com/satsplay/tictac/internal/gameclock"
	"github.com/satsplay/tictac/internal/history"
	"github.com/satsplay/tictac/internal/payment"
	"github.com/satsplay/tictac/internal/prefs"
	"github.com/satsplay/tictac/internal/session"
	"github.com/satsplay/tictac/internal/store"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		// Local persistence is best-effort; play continues in-memory.
		log.Warn().Err(err).Str("path", cfg.DBPath).Msg("local store unavailable")
		db = nil
	} else {
		defer db.Close()
	}

	ledger := history.Open(db, cfg.HistoryCap)
	preferences := prefs.Open(db)

	clock := clockwork.NewRealClock()
	reconcile := gameclock.NewReconciler(clock)
	apiClient := api.NewClient(cfg.ServerURL)
	ch := channel.NewManager(channel.Config{URL: cfg.ChannelURL}, clock)

	log.Info().
		Str("server_url", cfg.ServerURL).
		Str("channel_url", cfg.ChannelURL).
		Str("payment_strategy", cfg.Payment.Strategy).
		Msg("starting tictac client")

	view := newTerminalView(os.Stdout)
	machine := session.NewMachine(session.Options{
		Channel: ch,
		NewPayment: func(cb payment.Callbacks) session.PaymentController {
			return payment.NewController(apiClient, clock, cfg.Payment, cb)
		},
		QR:               apiClient,
		Reconcile:        reconcile,
		Ledger:           ledger,
		Prefs:            preferences,
		View:             view,
		AuthToken:        cfg.AuthToken,
		LightningAddress: cfg.LightningAddress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go apiClient.RunKeepAlive(ctx, clock, cfg.KeepAliveInterval)
	go ch.Run(ctx)
	go machine.Run(ctx)
	go readCommands(ctx, machine, preferences, stop)

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

func configPath() string {
	if path := os.Getenv("TICTAC_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

// readCommands is the interactive loop. One command per line; unknown input
// prints the help text.
func readCommands(ctx context.Context, m *session.Machine, p *prefs.Store, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "play":
			m.SelectBet()
		case "bet":
			if len(fields) < 2 {
				fmt.Println("usage: bet <amount>")
				continue
			}
			amount, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("usage: bet <amount>")
				continue
			}
			m.SetBet(amount)
		case "address":
			if len(fields) < 2 {
				fmt.Println("usage: address <lightning-address>")
				continue
			}
			m.SetAddress(fields[1])
		case "accept":
			m.AcceptTerms(true)
		case "join":
			m.Join()
		case "move":
			if len(fields) < 2 {
				fmt.Println("usage: move <0-8>")
				continue
			}
			pos, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: move <0-8>")
				continue
			}
			m.Move(pos)
		case "resign":
			m.Resign()
		case "cancel":
			m.CancelPayment()
		case "again":
			m.NewGame()
		case "menu":
			m.ReturnToMenu()
		case "history":
			printHistory(m.Snapshot())
		case "theme":
			if len(fields) < 2 {
				fmt.Printf("theme: %s\n", p.Theme())
				continue
			}
			p.SetTheme(fields[1])
		case "sound":
			if on, ok := parseToggle(fields); ok {
				p.SetSoundEnabled(on)
			} else {
				fmt.Println("usage: sound on|off")
			}
		case "haptics":
			if on, ok := parseToggle(fields); ok {
				p.SetHapticsEnabled(on)
			} else {
				fmt.Println("usage: haptics on|off")
			}
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Println("commands: play, bet <sats>, address <addr>, accept, join, move <0-8>, resign, cancel, again, menu, history, theme [name], sound on|off, haptics on|off, quit")
		}
	}
}

func parseToggle(fields []string) (bool, bool) {
	if len(fields) < 2 {
		return false, false
	}
	switch fields[1] {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func printHistory(s session.Snapshot) {
	st := s.Stats
	fmt.Printf("record: %dW %dL %dD  net: %+d sats  streak: %+d  win rate: %d%%\n",
		st.Wins, st.Losses, st.Draws, st.Net, st.Streak, st.WinRate)
}
