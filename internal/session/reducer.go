package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/satsplay/tictac/internal/history"
	"github.com/satsplay/tictac/internal/payment"
)

// Model is the complete session-owned state. The transition functions in
// this file are the only producers of new Models; the machine runtime
// interprets the returned effects. Pointer fields are replaced wholesale,
// never mutated through, so copying the Model by value is safe.
type Model struct {
	State     State
	Connected bool
	// ConnID is the identity the server assigned to the current connection.
	// Turn ownership is compared against it; a reconnect replaces it.
	ConnID  string
	Message string

	Bet              int64
	LightningAddress string
	AddressLocked    bool
	AcceptedTerms    bool
	AuthToken        string
	PlayerSats       int64

	Guard MoveGuard

	Game    *GameSession
	Waiting *WaitingWindow
	Match   *MatchAnnouncement
	Payment *payment.Request
	QRCode  string
}

// Effects are the side effects a transition requests. The reducer itself
// performs none of them.
type (
	Effect any

	EffectSend struct {
		Event   string
		Payload any
	}

	EffectStartTurnCountdown struct {
		Deadline time.Time
		Total    time.Duration
	}
	EffectStopTurnCountdown struct{}

	EffectStartWaitingCountdown struct {
		Deadline time.Time
		Total    time.Duration
	}
	EffectStopWaitingCountdown struct{}

	EffectStartMatchCountdown struct {
		Deadline time.Time
		Total    time.Duration
	}
	EffectStopMatchCountdown struct{}

	EffectBeginPayment struct {
		Request payment.Request
	}
	// EffectEndPayment stops the active payment flow. Verified distinguishes a
	// settled invoice from a cancellation or timeout.
	EffectEndPayment struct {
		Verified bool
	}

	EffectAppendHistory struct {
		Outcome history.Outcome
		Bet     int64
		Net     int64
	}

	EffectFetchQR struct {
		Invoice string
	}

	EffectPersistBet struct {
		Amount int64
	}
)

// Intents are user actions and runtime inputs, as opposed to server events.
type (
	Intent any

	IntentConnected struct{ ConnID string }
	// IntentDisconnected covers both a dropped connection and rate-limited
	// connect-error notices while redialing.
	IntentDisconnected struct{ Notice string }

	IntentSelectBet     struct{}
	IntentSetBet        struct{ Amount int64 }
	IntentAcceptTerms   struct{ Accepted bool }
	IntentSetAddress    struct{ Address string }
	IntentJoin          struct{}
	IntentMove          struct{ Position int }
	IntentResign        struct{}
	IntentCancelPayment struct{}
	IntentReturnToMenu  struct{}
	IntentNewGame       struct{}

	// IntentTurnExpired is the local countdown reaching zero on the player's
	// own turn. A display hint only; the server's timeout is authoritative.
	IntentTurnExpired struct{}

	// IntentPaymentExpired and IntentPaymentDetected come from the payment
	// controller's timers.
	IntentPaymentExpired  struct{ InvoiceID string }
	IntentPaymentDetected struct{ InvoiceID string }

	// IntentQRReady delivers the asynchronously fetched invoice QR image.
	IntentQRReady struct {
		Invoice string
		DataURL string
	}
)

// ApplyServerEvent is the transition function for inbound channel events.
func ApplyServerEvent(m Model, event string, data json.RawMessage, now time.Time) (Model, []Effect) {
	switch event {
	case EventPaymentRequest:
		return applyPaymentRequest(m, data, now)
	case EventPaymentVerified:
		return applyPaymentVerified(m)
	case EventPaymentTimeout:
		return applyPaymentTimeout(m, data)
	case EventPaymentStatus:
		return applyPaymentStatus(m, data)
	case EventPaymentSent:
		var p paymentSentPayload
		if !parse(event, data, &p) {
			return m, nil
		}
		msg := fmt.Sprintf("Payout sent: %d SATS", p.Amount)
		if p.TxID != "" {
			msg = fmt.Sprintf("Payout sent: %d SATS (tx: %s)", p.Amount, p.TxID)
		}
		m.Message = msg
		return m, nil
	case EventPaymentError:
		var p paymentErrorPayload
		if !parse(event, data, &p) {
			return m, nil
		}
		if p.Error == "" {
			p.Error = "Unknown error"
		}
		m.Message = "Payout error: " + p.Error
		return m, nil
	case EventTransaction:
		var p messagePayload
		if !parse(event, data, &p) {
			return m, nil
		}
		m.Message = p.Message
		return m, nil
	case EventWaitingForOpponent:
		return applyWaiting(m, data, now)
	case EventMatchFound:
		return applyMatchFound(m, data, now)
	case EventStartGame:
		return applyStartGame(m, data, now)
	case EventBoardUpdate:
		return applyBoardUpdate(m, data)
	case EventMoveMade:
		return applyMoveMade(m, data, now)
	case EventNextTurn:
		return applyNextTurn(m, data, now)
	case EventGameEnd:
		return applyGameEnd(m, data)
	case EventLightningAddress:
		var p lightningAddressPayload
		if !parse(event, data, &p) || p.LightningAddress == "" {
			return m, nil
		}
		if m.LightningAddress != "" {
			// Identity can not be swapped once set.
			return m, nil
		}
		m.LightningAddress = p.LightningAddress
		m.AddressLocked = true
		m.Message = "Connected Lightning address: " + p.LightningAddress
		return m, nil
	case EventPlayerStats:
		var p playerStatsPayload
		if !parse(event, data, &p) {
			return m, nil
		}
		m.PlayerSats = p.Sats
		return m, nil
	case EventAchievement:
		var p achievementPayload
		if !parse(event, data, &p) {
			return m, nil
		}
		if p.Achievement.Title != "" {
			m.Message = "Achievement unlocked: " + p.Achievement.Title
		} else {
			m.Message = "Achievement unlocked!"
		}
		return m, nil
	case EventMysteryBox:
		var p mysteryBoxPayload
		if !parse(event, data, &p) {
			return m, nil
		}
		m.Message = "You earned a mystery box!"
		return m, nil
	case EventError:
		return applyError(m, data)
	default:
		log.Debug().Str("event", event).Msg("unhandled server event")
		return m, nil
	}
}

func applyPaymentRequest(m Model, data json.RawMessage, now time.Time) (Model, []Effect) {
	var p paymentRequestPayload
	if !parse(EventPaymentRequest, data, &p) {
		return m, nil
	}

	invoice := p.LightningInvoice
	if invoice == "" {
		invoice = p.HostedInvoiceURL
	}
	req := payment.Request{
		InvoiceID:   p.InvoiceID,
		InvoiceText: invoice,
		AmountSats:  p.AmountSats,
		AmountUSD:   p.AmountUSD,
		DisplayURL:  p.HostedInvoiceURL,
	}
	if p.ExpiresAt > 0 {
		req.ExpiresAt = time.UnixMilli(p.ExpiresAt)
	}

	effects := clearMatchmaking(&m)
	effects = append(effects, EffectBeginPayment{Request: req})
	if p.LightningInvoice != "" {
		effects = append(effects, EffectFetchQR{Invoice: p.LightningInvoice})
	}

	m.Payment = &req
	m.QRCode = ""
	m.State = StateAwaitingPayment
	m.Message = fmt.Sprintf("Pay %d SATS (~$%.2f)", p.AmountSats, p.AmountUSD)
	return m, effects
}

func applyPaymentVerified(m Model) (Model, []Effect) {
	if m.State != StateAwaitingPayment {
		// Duplicate or stale delivery.
		return m, nil
	}
	m.Payment = nil
	m.QRCode = ""
	m.Guard.Release()
	m.State = StateWaitingForOpponent
	m.Message = "Payment verified! Waiting for opponent..."
	return m, []Effect{EffectEndPayment{Verified: true}}
}

func applyPaymentTimeout(m Model, data json.RawMessage) (Model, []Effect) {
	var p messagePayload
	parse(EventPaymentTimeout, data, &p)
	if p.Message == "" {
		p.Message = "Payment verification timed out. Please try again."
	}

	effects := clearMatchmaking(&m)
	effects = append(effects, EffectEndPayment{})

	m.Payment = nil
	m.QRCode = ""
	m.AddressLocked = false
	m.State = StateSelectingBet
	m.Message = p.Message
	return m, effects
}

func applyPaymentStatus(m Model, data json.RawMessage) (Model, []Effect) {
	var p paymentStatusPayload
	if !parse(EventPaymentStatus, data, &p) {
		return m, nil
	}
	switch p.Status {
	case "pending", "unpaid":
		m.Message = "Payment pending... Please complete the payment"
	case "error":
		msg := p.Message
		if msg == "" {
			msg = "Unknown error"
		}
		m.Message = "Payment check error: " + msg
	}
	return m, nil
}

func applyWaiting(m Model, data json.RawMessage, now time.Time) (Model, []Effect) {
	if m.State == StatePlaying {
		// A stale matchmaking event must not disturb a running game.
		return m, nil
	}

	var p waitingPayload
	parse(EventWaitingForOpponent, data, &p)
	if p.Message == "" {
		p.Message = "Finding opponent..."
	}

	// Self-loop: every delivery re-anchors the window.
	window := &WaitingWindow{
		MinSeconds: waitingMinSeconds,
		MaxSeconds: waitingMaxSeconds,
		StartedAt:  now,
	}

	m.Waiting = window
	m.Match = nil
	m.State = StateWaitingForOpponent
	m.Message = p.Message
	return m, []Effect{
		EffectStopWaitingCountdown{},
		EffectStopMatchCountdown{},
		EffectStartWaitingCountdown{
			Deadline: window.Deadline(),
			Total:    time.Duration(window.MaxSeconds) * time.Second,
		},
	}
}

func applyMatchFound(m Model, data json.RawMessage, now time.Time) (Model, []Effect) {
	if m.State == StatePlaying {
		return m, nil
	}

	var p matchFoundPayload
	parse(EventMatchFound, data, &p)

	startAt := now.Add(matchCountdownDuration)
	if p.StartAt > 0 {
		startAt = time.UnixMilli(p.StartAt)
	} else if p.StartsIn > 0 {
		startAt = now.Add(time.Duration(p.StartsIn) * time.Second)
	}

	m.Waiting = nil
	m.Match = &MatchAnnouncement{Opponent: p.Opponent, StartAt: startAt}
	m.State = StateMatchFound
	m.Message = "Opponent found! Starting game in..."
	return m, []Effect{
		EffectStopWaitingCountdown{},
		EffectStopMatchCountdown{},
		EffectStartMatchCountdown{Deadline: startAt, Total: matchCountdownDuration},
	}
}

func applyStartGame(m Model, data json.RawMessage, now time.Time) (Model, []Effect) {
	var p startGamePayload
	if !parse(EventStartGame, data, &p) {
		return m, nil
	}

	game := &GameSession{
		GameID:    p.GameID,
		MySymbol:  Cell(p.Symbol),
		Board:     Board(p.Board),
		TurnOwner: p.Turn,
	}

	total := laterMoveDuration
	if game.Board.Empty() {
		total = firstMoveDuration
	}
	deadline := now.Add(total)
	if p.TurnDeadline > 0 {
		deadline = time.UnixMilli(p.TurnDeadline)
	}
	game.TurnDeadline = &deadline

	msg := p.Message
	if msg == "" {
		if p.Turn == m.ConnID {
			msg = "Your move"
		} else {
			msg = "Opponent's move"
		}
	}

	effects := clearMatchmaking(&m)
	if m.Payment != nil {
		// A game starting implies the invoice settled even if the verified
		// push was lost.
		m.Payment = nil
		m.QRCode = ""
		effects = append(effects, EffectEndPayment{Verified: true})
	}
	effects = append(effects,
		EffectStopTurnCountdown{},
		EffectStartTurnCountdown{Deadline: deadline, Total: total},
	)

	m.Game = game
	m.Guard.Release()
	m.State = StatePlaying
	m.Message = msg
	return m, effects
}

func applyBoardUpdate(m Model, data json.RawMessage) (Model, []Effect) {
	if m.State != StatePlaying || m.Game == nil {
		return m, nil
	}
	var p boardUpdatePayload
	if !parse(EventBoardUpdate, data, &p) {
		return m, nil
	}

	game := *m.Game
	game.Board = Board(p.Board)
	game.LastMoveIndex = p.LastMove

	m.Game = &game
	m.Guard.Release()
	return m, nil
}

func applyMoveMade(m Model, data json.RawMessage, now time.Time) (Model, []Effect) {
	if m.State != StatePlaying || m.Game == nil {
		return m, nil
	}
	var p moveMadePayload
	if !parse(EventMoveMade, data, &p) {
		return m, nil
	}

	game := *m.Game
	game.Board = Board(p.Board)
	game.TurnOwner = p.NextTurn
	position := p.Position
	game.LastMoveIndex = &position

	total := laterMoveDuration
	deadline := now.Add(total)
	if p.TurnDeadline > 0 {
		deadline = time.UnixMilli(p.TurnDeadline)
	}
	game.TurnDeadline = &deadline

	msg := p.Message
	if msg == "" {
		if p.NextTurn == m.ConnID {
			msg = "Your move"
		} else {
			msg = "Opponent's move"
		}
	}

	m.Game = &game
	m.Guard.Release()
	m.Message = msg
	return m, []Effect{
		EffectStopTurnCountdown{},
		EffectStartTurnCountdown{Deadline: deadline, Total: total},
	}
}

func applyNextTurn(m Model, data json.RawMessage, now time.Time) (Model, []Effect) {
	if m.State != StatePlaying || m.Game == nil {
		return m, nil
	}
	var p nextTurnPayload
	if !parse(EventNextTurn, data, &p) {
		return m, nil
	}

	game := *m.Game
	game.TurnOwner = p.Turn

	total := laterMoveDuration
	if game.Board.Empty() {
		total = firstMoveDuration
	}
	deadline := now.Add(total)
	if p.TurnDeadline > 0 {
		deadline = time.UnixMilli(p.TurnDeadline)
	}
	game.TurnDeadline = &deadline

	msg := p.Message
	if msg == "" {
		if p.Turn == m.ConnID {
			msg = "Your move"
		} else {
			msg = "Opponent's move"
		}
	}

	m.Game = &game
	m.Guard.Release()
	m.Message = msg
	return m, []Effect{
		EffectStopTurnCountdown{},
		EffectStartTurnCountdown{Deadline: deadline, Total: total},
	}
}

func applyGameEnd(m Model, data json.RawMessage) (Model, []Effect) {
	if m.State != StatePlaying || m.Game == nil {
		// Duplicate delivery after the game already settled.
		return m, nil
	}
	var p gameEndPayload
	if !parse(EventGameEnd, data, &p) {
		return m, nil
	}

	outcome := history.OutcomeDraw
	var net int64
	switch {
	case p.WinnerSymbol == nil:
		// draw
	case Cell(*p.WinnerSymbol) == m.Game.MySymbol:
		outcome = history.OutcomeWin
		net = netForWin(m.Bet)
	default:
		outcome = history.OutcomeLoss
		net = -m.Bet
	}

	m.Guard.Release()
	effects := []Effect{
		EffectAppendHistory{Outcome: outcome, Bet: m.Bet, Net: net},
		EffectStopTurnCountdown{},
	}

	if p.AutoContinue && outcome == history.OutcomeDraw {
		// The server is about to push a fresh startGame; clear the board now
		// so no stale marks render in between, and stay in Playing.
		game := *m.Game
		game.Board = Board{}
		game.TurnOwner = ""
		game.TurnDeadline = nil
		game.WinningLine = nil
		game.LastMoveIndex = nil
		m.Game = &game
		m.Message = p.Message
		return m, effects
	}

	game := *m.Game
	game.TurnDeadline = nil
	game.WinningLine = p.WinningLine
	m.Game = &game
	m.State = StateFinished
	m.Message = p.Message
	return m, effects
}

func applyError(m Model, data json.RawMessage) (Model, []Effect) {
	var p errorPayload
	parse(EventError, data, &p)
	if p.Message == "" {
		p.Message = "Error"
	}

	// A rejected move means no acknowledgment will ever arrive; free the
	// guard before deciding whether to show anything.
	m.Guard.Release()

	if (m.State == StatePlaying || m.State == StateFinished) && suppressedErrors[p.Message] {
		return m, nil
	}
	m.Message = p.Message
	return m, nil
}

// ApplyIntent is the transition function for user actions and runtime inputs.
func ApplyIntent(m Model, intent Intent, now time.Time) (Model, []Effect) {
	switch it := intent.(type) {
	case IntentConnected:
		m.Connected = true
		m.ConnID = it.ConnID
		m.Guard.Release()
		var effects []Effect
		if m.AuthToken != "" {
			effects = append(effects, EffectSend{Event: OutSetAuthToken, Payload: authTokenPayload{AuthToken: m.AuthToken}})
		}
		if m.LightningAddress != "" {
			effects = append(effects, EffectSend{Event: OutRequestStats, Payload: statsRequestPayload{LightningAddress: m.LightningAddress}})
		}
		return m, effects

	case IntentDisconnected:
		m.Connected = false
		m.ConnID = ""
		m.Guard.Release()
		if it.Notice != "" {
			m.Message = it.Notice
		}
		return m, nil

	case IntentSelectBet:
		if m.State != StateMenu && m.State != StateFinished {
			return m, nil
		}
		return toBetSelection(m), nil

	case IntentSetBet:
		switch m.State {
		case StateMenu, StateSelectingBet, StateFinished:
		default:
			// The bet is committed once a join is in flight; changing it
			// mid-game would corrupt the ledger entry at game end.
			return m, nil
		}
		if _, ok := PayoutFor(it.Amount); !ok {
			return m, nil
		}
		m.Bet = it.Amount
		return m, []Effect{EffectPersistBet{Amount: it.Amount}}

	case IntentAcceptTerms:
		m.AcceptedTerms = it.Accepted
		return m, nil

	case IntentSetAddress:
		if m.AddressLocked {
			return m, nil
		}
		m.LightningAddress = it.Address
		return m, nil

	case IntentJoin:
		return applyJoin(m)

	case IntentMove:
		return applyMove(m, it.Position)

	case IntentResign:
		if m.State != StatePlaying || m.Game == nil {
			m.Message = "No active game to resign from"
			return m, nil
		}
		if !m.Connected {
			m.Message = "Not connected to server"
			return m, nil
		}
		m.Message = "You resigned from the game"
		return m, []Effect{EffectSend{Event: OutResign, Payload: resignPayload{GameID: m.Game.GameID}}}

	case IntentCancelPayment:
		if m.State != StateAwaitingPayment || m.Payment == nil {
			return m, nil
		}
		invoiceID := m.Payment.InvoiceID
		next, effects := applyPaymentTimeout(m, nil)
		next.Message = "Payment cancelled"
		effects = append(effects, EffectSend{Event: OutCancelGame, Payload: cancelGamePayload{InvoiceID: invoiceID}})
		return next, effects

	case IntentPaymentExpired:
		if m.Payment == nil || m.Payment.InvoiceID != it.InvoiceID {
			// Already resolved; the cancellation intent must not repeat.
			return m, nil
		}
		next, effects := applyPaymentTimeout(m, nil)
		effects = append(effects, EffectSend{Event: OutCancelGame, Payload: cancelGamePayload{InvoiceID: it.InvoiceID}})
		return next, effects

	case IntentPaymentDetected:
		if m.State != StateAwaitingPayment || m.Payment == nil || m.Payment.InvoiceID != it.InvoiceID {
			return m, nil
		}
		// Diagnostic only; the push event still owns the transition.
		m.Message = "Payment detected. Confirming..."
		return m, nil

	case IntentQRReady:
		if m.Payment == nil || m.Payment.InvoiceText != it.Invoice {
			return m, nil
		}
		m.QRCode = it.DataURL
		return m, nil

	case IntentTurnExpired:
		if m.State != StatePlaying || m.Game == nil || m.Game.TurnOwner != m.ConnID {
			return m, nil
		}
		// Display hint only. The server enforces the timeout; the client
		// never plays a move on the player's behalf.
		m.Message = "Out of time. Waiting for the server..."
		return m, nil

	case IntentReturnToMenu:
		effects := clearMatchmaking(&m)
		effects = append(effects, EffectStopTurnCountdown{}, EffectEndPayment{})
		m.State = StateMenu
		m.Game = nil
		m.Payment = nil
		m.QRCode = ""
		m.Guard.Release()
		m.Message = ""
		return m, effects

	case IntentNewGame:
		if m.State != StateFinished {
			return m, nil
		}
		return toBetSelection(m), nil

	default:
		log.Debug().Type("intent", intent).Msg("unhandled intent")
		return m, nil
	}
}

func applyJoin(m Model) (Model, []Effect) {
	if m.State != StateSelectingBet {
		return m, nil
	}
	if !m.Connected {
		m.Message = "Not connected to server"
		return m, nil
	}
	if m.LightningAddress == "" {
		m.Message = "Please enter your Lightning address"
		return m, nil
	}
	if !m.AcceptedTerms {
		m.Message = "Please accept the terms and conditions"
		return m, nil
	}

	// No local state transition: the server answers with paymentRequest.
	m.Message = "Joining game..."
	m.AddressLocked = true
	return m, []Effect{
		EffectSend{Event: OutJoinGame, Payload: joinGamePayload{
			LightningAddress: m.LightningAddress,
			BetAmount:        m.Bet,
		}},
		EffectPersistBet{Amount: m.Bet},
	}
}

func applyMove(m Model, position int) (Model, []Effect) {
	if !m.Connected {
		m.Message = "Not connected to server"
		return m, nil
	}
	if m.State != StatePlaying || m.Game == nil {
		m.Message = "Game not active"
		return m, nil
	}
	if position < 0 || position >= BoardSize {
		return m, nil
	}
	if m.Game.TurnOwner != m.ConnID {
		m.Message = "Not your turn"
		return m, nil
	}
	if m.Game.Board[position] != CellEmpty {
		m.Message = "Cell already taken"
		return m, nil
	}
	if !m.Guard.TryAcquire() {
		// A move is already in flight for this turn.
		return m, nil
	}

	return m, []Effect{EffectSend{Event: OutMakeMove, Payload: makeMovePayload{
		GameID:   m.Game.GameID,
		Position: position,
	}}}
}

// toBetSelection clears all transient session fields on the way back to the
// bet screen.
func toBetSelection(m Model) Model {
	m.State = StateSelectingBet
	m.Game = nil
	m.Waiting = nil
	m.Match = nil
	m.Payment = nil
	m.QRCode = ""
	m.Guard.Release()
	m.Message = ""
	return m
}

// clearMatchmaking drops waiting/match state and returns the effects that
// stop their countdowns.
func clearMatchmaking(m *Model) []Effect {
	m.Waiting = nil
	m.Match = nil
	return []Effect{EffectStopWaitingCountdown{}, EffectStopMatchCountdown{}}
}

func parse(event string, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("malformed event payload")
		return false
	}
	return true
}
