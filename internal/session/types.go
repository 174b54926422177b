package session

import (
	"time"
)

// State is the discriminated session state. Exactly one is active at a time;
// transitions are driven only by inbound events and explicit user intents.
type State int

const (
	StateMenu State = iota
	StateSelectingBet
	StateAwaitingPayment
	StateWaitingForOpponent
	StateMatchFound
	StatePlaying
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateMenu:
		return "menu"
	case StateSelectingBet:
		return "selectingBet"
	case StateAwaitingPayment:
		return "awaitingPayment"
	case StateWaitingForOpponent:
		return "waitingForOpponent"
	case StateMatchFound:
		return "matchFound"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Cell is one board slot as it appears on the wire.
type Cell string

const (
	CellEmpty Cell = ""
	CellX     Cell = "X"
	CellO     Cell = "O"
)

// BoardSize is fixed; Board being an array keeps the length-9 invariant in
// the type system.
const BoardSize = 9

type Board [BoardSize]Cell

// Empty reports whether no mark has been placed yet.
func (b Board) Empty() bool {
	for _, c := range b {
		if c != CellEmpty {
			return false
		}
	}
	return true
}

// GameSession is the authoritative game snapshot. It is replaced wholesale on
// every server snapshot event, never diffed in place, so a missed update can
// not leave divergent local state.
type GameSession struct {
	GameID        string
	MySymbol      Cell
	Board         Board
	TurnOwner     string
	TurnDeadline  *time.Time
	WinningLine   []int
	LastMoveIndex *int
}

// WaitingWindow is the locally reconstructed matchmaking estimate. The server
// pushes no incremental ticks, so the window is re-anchored on every
// waitingForOpponent event.
type WaitingWindow struct {
	MinSeconds int
	MaxSeconds int
	StartedAt  time.Time
}

// Deadline is the window's worst-case end, used for the waiting countdown.
func (w WaitingWindow) Deadline() time.Time {
	return w.StartedAt.Add(time.Duration(w.MaxSeconds) * time.Second)
}

// MatchAnnouncement is the pre-game countdown toward startAt.
type MatchAnnouncement struct {
	Opponent string
	StartAt  time.Time
}

const (
	// Turn duration fallbacks, used only when the server omits turnDeadline.
	firstMoveDuration = 8 * time.Second
	laterMoveDuration = 5 * time.Second

	matchCountdownDuration = 5 * time.Second

	waitingMinSeconds = 13
	waitingMaxSeconds = 25
)

// suppressedErrors are known race artifacts of late clicks while a game is
// active or just ended; they are swallowed rather than surfaced.
var suppressedErrors = map[string]bool{
	"Game not started":      true,
	"Game not found":        true,
	"Invalid move":          true,
	"Game already finished": true,
}
