package session

import (
	"encoding/json"
	"fmt"
)

// Inbound event names. The "connected" handshake frame is consumed by the
// channel manager and never reaches this package.
const (
	EventPaymentRequest     = "paymentRequest"
	EventPaymentVerified    = "paymentVerified"
	EventPaymentTimeout     = "paymentTimeout"
	EventPaymentStatus      = "paymentStatus"
	EventPaymentSent        = "payment_sent"
	EventPaymentError       = "payment_error"
	EventTransaction        = "transaction"
	EventWaitingForOpponent = "waitingForOpponent"
	EventMatchFound         = "matchFound"
	EventStartGame          = "startGame"
	EventBoardUpdate        = "boardUpdate"
	EventMoveMade           = "moveMade"
	EventNextTurn           = "nextTurn"
	EventGameEnd            = "gameEnd"
	EventLightningAddress   = "lightning_address"
	EventPlayerStats        = "playerStatsUpdate"
	EventAchievement        = "newAchievement"
	EventMysteryBox         = "mysteryBoxAwarded"
	EventError              = "error"
)

// InboundEvents lists every event the machine subscribes to.
var InboundEvents = []string{
	EventPaymentRequest,
	EventPaymentVerified,
	EventPaymentTimeout,
	EventPaymentStatus,
	EventPaymentSent,
	EventPaymentError,
	EventTransaction,
	EventWaitingForOpponent,
	EventMatchFound,
	EventStartGame,
	EventBoardUpdate,
	EventMoveMade,
	EventNextTurn,
	EventGameEnd,
	EventLightningAddress,
	EventPlayerStats,
	EventAchievement,
	EventMysteryBox,
	EventError,
}

// Outbound intent names.
const (
	OutJoinGame     = "joinGame"
	OutMakeMove     = "makeMove"
	OutResign       = "resign"
	OutCancelGame   = "cancelGame"
	OutSetAuthToken = "set_auth_token"
	OutRequestStats = "requestPlayerStats"
)

// wireBoard decodes the server's 9-slot array of "X" / "O" / null.
type wireBoard Board

func (w *wireBoard) UnmarshalJSON(data []byte) error {
	var cells []*string
	if err := json.Unmarshal(data, &cells); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	var b Board
	for i, c := range cells {
		if i >= BoardSize {
			break
		}
		if c != nil {
			b[i] = Cell(*c)
		}
	}
	*w = wireBoard(b)
	return nil
}

type paymentRequestPayload struct {
	InvoiceID        string  `json:"invoiceId"`
	LightningInvoice string  `json:"lightningInvoice"`
	HostedInvoiceURL string  `json:"hostedInvoiceUrl"`
	AmountSats       int64   `json:"amountSats"`
	AmountUSD        float64 `json:"amountUSD"`
	// ExpiresAt is unix milliseconds; zero means the client default applies.
	ExpiresAt int64 `json:"expiresAt"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type paymentStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type paymentSentPayload struct {
	Amount int64  `json:"amount"`
	TxID   string `json:"txId"`
}

type paymentErrorPayload struct {
	Error string `json:"error"`
}

type waitingPayload struct {
	Message       string `json:"message"`
	EstimatedWait string `json:"estimatedWait"`
}

type matchFoundPayload struct {
	Opponent string `json:"opponent"`
	StartAt  int64  `json:"startAt"`
	StartsIn int    `json:"startsIn"`
}

type startGamePayload struct {
	GameID       string    `json:"gameId"`
	Symbol       string    `json:"symbol"`
	Turn         string    `json:"turn"`
	Board        wireBoard `json:"board"`
	TurnDeadline int64     `json:"turnDeadline"`
	Message      string    `json:"message"`
}

type boardUpdatePayload struct {
	Board    wireBoard `json:"board"`
	LastMove *int      `json:"lastMove"`
}

type moveMadePayload struct {
	Position     int       `json:"position"`
	NextTurn     string    `json:"nextTurn"`
	Board        wireBoard `json:"board"`
	TurnDeadline int64     `json:"turnDeadline"`
	Message      string    `json:"message"`
}

type nextTurnPayload struct {
	Turn         string `json:"turn"`
	TurnDeadline int64  `json:"turnDeadline"`
	Message      string `json:"message"`
}

type gameEndPayload struct {
	Message      string  `json:"message"`
	WinnerSymbol *string `json:"winnerSymbol"`
	WinningLine  []int   `json:"winningLine"`
	AutoContinue bool    `json:"autoContinue"`
}

type lightningAddressPayload struct {
	LightningAddress string `json:"lightningAddress"`
}

type playerStatsPayload struct {
	Sats int64 `json:"sats"`
}

type achievementPayload struct {
	Achievement struct {
		Title string `json:"title"`
	} `json:"achievement"`
}

type mysteryBoxPayload struct {
	BoxType string `json:"boxType"`
	Reason  string `json:"reason"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Outbound payloads.

type joinGamePayload struct {
	LightningAddress string `json:"lightningAddress"`
	BetAmount        int64  `json:"betAmount"`
}

type makeMovePayload struct {
	GameID   string `json:"gameId"`
	Position int    `json:"position"`
}

type resignPayload struct {
	GameID string `json:"gameId"`
}

type cancelGamePayload struct {
	InvoiceID string `json:"invoiceId"`
}

type authTokenPayload struct {
	AuthToken string `json:"authToken"`
}

type statsRequestPayload struct {
	LightningAddress string `json:"lightningAddress"`
}
