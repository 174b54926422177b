package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/satsplay/tictac/internal/session"
)

// terminalView prints the session to a writer. Countdown ticks redraw only
// the status line; everything else redraws on change.
type terminalView struct {
	w    io.Writer
	last string
}

func newTerminalView(w io.Writer) *terminalView {
	return &terminalView{w: w}
}

func (v *terminalView) Render(s session.Snapshot) {
	out := v.format(s)
	if out == v.last {
		return
	}
	v.last = out
	fmt.Fprint(v.w, out)
}

func (v *terminalView) format(s session.Snapshot) string {
	var b strings.Builder

	switch s.State {
	case session.StateMenu:
		fmt.Fprintf(&b, "\n== SATS TIC-TAC-TOE ==\nconnected: %v\n", s.Connected)
		if s.PlayerSats > 0 {
			fmt.Fprintf(&b, "balance: %d sats\n", s.PlayerSats)
		}
		b.WriteString("type 'play' to start\n")
	case session.StateSelectingBet:
		fmt.Fprintf(&b, "\nbet: %d sats (win %d)\n", s.Bet, s.Payout)
		if s.LightningAddress == "" {
			b.WriteString("set your address: address <you@wallet>\n")
		}
		if !s.AcceptedTerms {
			b.WriteString("accept the terms: accept\n")
		}
		b.WriteString("then: join\n")
	case session.StateAwaitingPayment:
		if s.Payment != nil {
			fmt.Fprintf(&b, "\npay %d sats (~$%.2f)\n", s.Payment.AmountSats, s.Payment.AmountUSD)
			if s.Payment.InvoiceText != "" {
				fmt.Fprintf(&b, "invoice: %s\n", s.Payment.InvoiceText)
			}
			if s.Payment.DisplayURL != "" {
				fmt.Fprintf(&b, "or open: %s\n", s.Payment.DisplayURL)
			}
		}
		if s.PaymentSecondsLeft != nil {
			fmt.Fprintf(&b, "expires in %ds\n", *s.PaymentSecondsLeft)
		}
	case session.StateWaitingForOpponent:
		b.WriteString("\nfinding opponent")
		if s.WaitingSecondsLeft != nil {
			fmt.Fprintf(&b, " (up to %ds)", *s.WaitingSecondsLeft)
		}
		b.WriteString("...\n")
	case session.StateMatchFound:
		b.WriteString("\nopponent found!")
		if s.MatchSecondsLeft != nil {
			fmt.Fprintf(&b, " starting in %d", *s.MatchSecondsLeft)
		}
		b.WriteString("\n")
	case session.StatePlaying, session.StateFinished:
		b.WriteString("\n")
		b.WriteString(renderBoard(s.Board, s.WinningLine))
		fmt.Fprintf(&b, "you are %s\n", s.MySymbol)
		if s.State == session.StatePlaying && s.MyTurn && s.TurnSecondsLeft != nil {
			fmt.Fprintf(&b, "your move (%ds left)\n", *s.TurnSecondsLeft)
		}
	}

	if s.Message != "" {
		fmt.Fprintf(&b, "> %s\n", s.Message)
	}
	return b.String()
}

func renderBoard(board session.Board, winning []int) string {
	win := make(map[int]bool, len(winning))
	for _, i := range winning {
		win[i] = true
	}

	var b strings.Builder
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			i := row*3 + col
			cell := string(board[i])
			if cell == "" {
				cell = fmt.Sprintf("%d", i)
			}
			if win[i] {
				cell = "*" + cell + "*"
			} else {
				cell = " " + cell + " "
			}
			b.WriteString(cell)
			if col < 2 {
				b.WriteString("|")
			}
		}
		b.WriteString("\n")
		if row < 2 {
			b.WriteString("---+---+---\n")
		}
	}
	return b.String()
}
