package session

import (
	"github.com/satsplay/tictac/internal/history"
	"github.com/satsplay/tictac/internal/payment"
)

// Snapshot is the render-ready projection of the model. The machine builds a
// fresh one after every applied event or intent; views never see the model
// itself.
type Snapshot struct {
	State     State
	Connected bool
	Message   string

	Board         Board
	MySymbol      Cell
	MyTurn        bool
	GameID        string
	WinningLine   []int
	LastMoveIndex *int

	// Countdown seconds are nil when the corresponding timer is idle.
	TurnSecondsLeft    *int
	TurnProgress       float64
	WaitingSecondsLeft *int
	MatchSecondsLeft   *int
	PaymentSecondsLeft *int

	Payment *payment.Request
	QRCode  string

	Bet        int64
	Payout     int64
	PlayerSats int64

	LightningAddress string
	AddressLocked    bool
	AcceptedTerms    bool

	Stats history.Stats
}

// View receives every snapshot, on the machine's goroutine. Render must not
// block; a slow renderer stalls event processing.
type View interface {
	Render(Snapshot)
}

// ViewFunc adapts a function to the View interface.
type ViewFunc func(Snapshot)

func (f ViewFunc) Render(s Snapshot) { f(s) }
